// Package crypto wraps the key pair used for token signing and column-level
// encryption. A single RSA key pair backs both concerns: RS256 for JWTs and
// RSA-OAEP (SHA-256) for secrets at rest.
package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnavailable is returned by every operation except Hash when the key
// material could not be loaded.
var ErrUnavailable = errors.New("crypto-unavailable")

// SigningAlgorithm is the JWT signing algorithm in use.
const SigningAlgorithm = "RS256"

// Cryptor signs, verifies, encrypts and decrypts with a permanent key pair.
// Key material is read-only after construction; concurrent use is safe.
type Cryptor struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
}

// NewCryptor loads the PEM key pair from the given file paths. A missing or
// unreadable key does not fail construction; it degrades the cryptor so that
// every operation except Hash returns ErrUnavailable.
func NewCryptor(privateKeyFile, publicKeyFile string) *Cryptor {
	c := &Cryptor{}

	privatePEM, err := os.ReadFile(privateKeyFile)
	if err != nil {
		log.Printf("WARNING: private key unavailable (%v); signing and decryption disabled", err)
		return c
	}
	publicPEM, err := os.ReadFile(publicKeyFile)
	if err != nil {
		log.Printf("WARNING: public key unavailable (%v); verification and encryption disabled", err)
		return c
	}

	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM(privatePEM)
	if err != nil {
		log.Printf("WARNING: cannot parse private key %s: %v", privateKeyFile, err)
		return c
	}
	publicKey, err := jwt.ParseRSAPublicKeyFromPEM(publicPEM)
	if err != nil {
		log.Printf("WARNING: cannot parse public key %s: %v", publicKeyFile, err)
		return c
	}

	c.privateKey = privateKey
	c.publicKey = publicKey
	return c
}

// NewCryptorFromKeys constructs a cryptor from in-memory keys. Used by tests.
func NewCryptorFromKeys(privateKey *rsa.PrivateKey) *Cryptor {
	return &Cryptor{privateKey: privateKey, publicKey: &privateKey.PublicKey}
}

// Available reports whether the key pair was loaded.
func (c *Cryptor) Available() bool {
	return c.privateKey != nil && c.publicKey != nil
}

// Encode signs the given claims as an RS256 JWT.
func (c *Cryptor) Encode(claims jwt.MapClaims) (string, error) {
	if c.privateKey == nil {
		return "", ErrUnavailable
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(c.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Decode verifies the signature, expiry, issuer and audience of a JWT and
// returns its claims. An empty issuer or audience skips that check.
func (c *Cryptor) Decode(tokenString, expectedIssuer, expectedAudience string) (jwt.MapClaims, error) {
	if c.publicKey == nil {
		return nil, ErrUnavailable
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{SigningAlgorithm}),
		jwt.WithExpirationRequired(),
	}
	if expectedIssuer != "" {
		opts = append(opts, jwt.WithIssuer(expectedIssuer))
	}
	if expectedAudience != "" {
		opts = append(opts, jwt.WithAudience(expectedAudience))
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return c.publicKey, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// Encrypt encrypts the message with RSA-OAEP (SHA-256) and wraps the result
// in standard base64 so it can live in a text column.
func (c *Cryptor) Encrypt(message []byte) ([]byte, error) {
	if c.publicKey == nil {
		return nil, ErrUnavailable
	}

	encrypted, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, c.publicKey, message, nil)
	if err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}

	encoded := make([]byte, base64.StdEncoding.EncodedLen(len(encrypted)))
	base64.StdEncoding.Encode(encoded, encrypted)
	return encoded, nil
}

// Decrypt is the inverse of Encrypt.
func (c *Cryptor) Decrypt(message []byte) ([]byte, error) {
	if c.privateKey == nil {
		return nil, ErrUnavailable
	}

	decoded := make([]byte, base64.StdEncoding.DecodedLen(len(message)))
	n, err := base64.StdEncoding.Decode(decoded, message)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	decrypted, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, c.privateKey, decoded[:n], nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return decrypted, nil
}

// EncryptString encrypts a string value for storage in a text column.
func (c *Cryptor) EncryptString(value string) (string, error) {
	encrypted, err := c.Encrypt([]byte(value))
	if err != nil {
		return "", err
	}
	return string(encrypted), nil
}

// DecryptString is the inverse of EncryptString.
func (c *Cryptor) DecryptString(value string) (string, error) {
	decrypted, err := c.Decrypt([]byte(value))
	if err != nil {
		return "", err
	}
	return string(decrypted), nil
}

// Hash returns the SHA-512 hex digest of the given string. It works without
// key material.
func (c *Cryptor) Hash(value string) string {
	sum := sha512.Sum512([]byte(value))
	return hex.EncodeToString(sum[:])
}
