// Package device implements the device-authorization grant: code issuance,
// browser-side activation, and the polling token exchange. All flow state
// lives in the TTL key/value store, so restarting the server keeps pending
// authorizations alive and expiry needs no background job.
package device

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/miniidp/miniidp/internal/db/models"
	"github.com/miniidp/miniidp/internal/repository"
	"github.com/miniidp/miniidp/internal/services/iam"
	"github.com/zitadel/oidc/v3/pkg/oidc"
)

// Flow states stored under device-code:<D>/state.
const (
	StateAuthorizationPending = "authorization_pending"
	StateOK                   = "ok"
	StateAccessDenied         = "access_denied"
)

// DefaultPollInterval is the polling interval in seconds advertised at
// initiation.
const DefaultPollInterval = 5

// Info is the grant context captured at initiation and completed at
// activation. Sub stays empty until a user approves the request.
type Info struct {
	Sub         string   `json:"sub"`
	Scopes      []string `json:"scopes"`
	ResourceURL string   `json:"resource_url"`
}

// Coordinator drives the device-flow state machine.
type Coordinator struct {
	kv      *repository.KeyValueStore
	clients *iam.ClientAuthenticator
	tokens  *iam.TokenService
	clock   clock.Clock

	verificationURI string
	verificationTTL time.Duration
}

func NewCoordinator(kv *repository.KeyValueStore, clients *iam.ClientAuthenticator, tokens *iam.TokenService, clk clock.Clock, verificationURI string, verificationTTL time.Duration) *Coordinator {
	return &Coordinator{
		kv:              kv,
		clients:         clients,
		tokens:          tokens,
		clock:           clk,
		verificationURI: verificationURI,
		verificationTTL: verificationTTL,
	}
}

// Initiate starts a device authorization. The requested scopes must include
// openid or offline_access; the client must be allowed the device-code
// grant. Four correlated rows go into the store in one batch, all sharing
// the verification expiry.
func (c *Coordinator) Initiate(ctx context.Context, clientID string, scopes []string, resourceURL string) (*oidc.DeviceAuthorizationResponse, error) {
	if !containsAny(scopes, iam.ScopeOpenID, iam.ScopeOfflineAccess) {
		return nil, iam.NewError(iam.CodeInvalidScope, "scope must include openid or offline_access")
	}
	if _, err := c.clients.Authenticate(ctx, clientID, models.GrantTypeDeviceCode, ""); err != nil {
		return nil, err
	}

	deviceCode := uuid.NewString()
	userCode := deriveUserCode(deviceCode)
	expiry := repository.ExpiryAt(c.clock.Now().Add(c.verificationTTL))

	info := Info{Scopes: scopes, ResourceURL: resourceURL}
	err := c.kv.BatchSet(ctx,
		repository.KVEntry{Key: userCodeKey(userCode), Value: deviceCode, ExpiryTimestamp: expiry},
		repository.KVEntry{Key: stateKey(deviceCode), Value: StateAuthorizationPending, ExpiryTimestamp: expiry},
		repository.KVEntry{Key: deviceUserCodeKey(deviceCode), Value: userCode, ExpiryTimestamp: expiry},
		repository.KVEntry{Key: infoKey(deviceCode), Value: info, ExpiryTimestamp: expiry},
	)
	if err != nil {
		return nil, err
	}

	return &oidc.DeviceAuthorizationResponse{
		DeviceCode:              deviceCode,
		UserCode:                userCode,
		VerificationURI:         c.verificationURI,
		VerificationURIComplete: c.verificationURI + "?user_code=" + userCode,
		ExpiresIn:               int(c.verificationTTL / time.Second),
		Interval:                DefaultPollInterval,
	}, nil
}

// Activate resolves a user's approval or denial and returns the device code
// behind the user code. The activator is the authenticated session user;
// approval stamps it into the grant info as the token subject. A successful
// activation refreshes the verification window.
func (c *Coordinator) Activate(ctx context.Context, userCode string, authorized bool, activator string) (string, error) {
	deviceCode, present, err := c.kv.GetString(ctx, userCodeKey(userCode))
	if err != nil {
		return "", err
	}
	if !present {
		return "", iam.NewError(iam.CodeExpiredToken, "device code not found")
	}

	expectedUserCode, present, err := c.kv.GetString(ctx, deviceUserCodeKey(deviceCode))
	if err != nil {
		return "", err
	}
	if !present {
		return "", iam.NewError(iam.CodeExpiredToken, "stored user code not found")
	}
	if userCode != expectedUserCode {
		return "", iam.NewError(iam.CodeWrongUserCode, "user code mismatch")
	}

	var info Info
	if _, err := c.kv.Get(ctx, infoKey(deviceCode), &info); err != nil {
		return "", err
	}

	state := StateAccessDenied
	if authorized {
		state = StateOK
		info.Sub = activator
	}

	expiry := repository.ExpiryAt(c.clock.Now().Add(c.verificationTTL))
	err = c.kv.BatchSet(ctx,
		repository.KVEntry{Key: stateKey(deviceCode), Value: state, ExpiryTimestamp: expiry},
		repository.KVEntry{Key: infoKey(deviceCode), Value: info, ExpiryTimestamp: expiry},
	)
	if err != nil {
		return "", err
	}
	return deviceCode, nil
}

// Exchange is the polling side of the flow. In the ok state it mints the
// token pair and consumes the grant; every other state comes back as an
// error carrying the state string.
func (c *Coordinator) Exchange(ctx context.Context, clientID, clientSecret, deviceCode string) (*iam.TokenSet, error) {
	if _, err := c.clients.Authenticate(ctx, clientID, models.GrantTypeDeviceCode, clientSecret); err != nil {
		return nil, err
	}

	state, present, err := c.kv.GetString(ctx, stateKey(deviceCode))
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, iam.NewError(iam.CodeExpiredToken, "device code expired or unknown")
	}

	switch state {
	case StateOK:
		// fall through to issuance
	case StateAuthorizationPending:
		return nil, iam.NewError(iam.CodeAuthorizationPending, "")
	case StateAccessDenied:
		return nil, iam.NewError(iam.CodeAccessDenied, "user denied the request")
	default:
		return nil, iam.NewError(iam.CodeExpiredToken, "")
	}

	var info Info
	if present, err = c.kv.Get(ctx, infoKey(deviceCode), &info); err != nil {
		return nil, err
	}
	if !present || info.Sub == "" {
		return nil, iam.NewError(iam.CodeExpiredToken, "grant info lost")
	}

	tokens, err := c.tokens.IssueFor(ctx, models.PolicySubject{Kind: models.SubjectKindUser, Subject: info.Sub}, info.ResourceURL, info.Scopes)
	if err != nil {
		return nil, err
	}

	if err := c.consume(ctx, deviceCode); err != nil {
		return nil, err
	}
	return tokens, nil
}

// Now exposes the coordinator's clock so callers can compute expires_in
// against the same time source.
func (c *Coordinator) Now() time.Time {
	return c.clock.Now()
}

// consume removes all four rows of a grant. A device code is single-use.
func (c *Coordinator) consume(ctx context.Context, deviceCode string) error {
	userCode, present, err := c.kv.GetString(ctx, deviceUserCodeKey(deviceCode))
	if err != nil {
		return err
	}
	if present {
		if err := c.kv.Delete(ctx, userCodeKey(userCode)); err != nil {
			return err
		}
	}
	for _, key := range []string{stateKey(deviceCode), deviceUserCodeKey(deviceCode), infoKey(deviceCode)} {
		if err := c.kv.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// deriveUserCode folds a device code down to the short code a human types:
// the first eight hex characters of its SHA-1, uppercased.
func deriveUserCode(deviceCode string) string {
	sum := sha1.Sum([]byte(deviceCode))
	return strings.ToUpper(hex.EncodeToString(sum[:])[:8])
}

func userCodeKey(userCode string) string {
	return "user-code:" + userCode + "/device-code"
}

func stateKey(deviceCode string) string {
	return "device-code:" + deviceCode + "/state"
}

func deviceUserCodeKey(deviceCode string) string {
	return "device-code:" + deviceCode + "/user-code"
}

func infoKey(deviceCode string) string {
	return "device-code:" + deviceCode + "/info"
}

func containsAny(scopes []string, wanted ...string) bool {
	for _, scope := range scopes {
		for _, w := range wanted {
			if scope == w {
				return true
			}
		}
	}
	return false
}
