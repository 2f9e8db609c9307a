package iam

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/miniidp/miniidp/internal/crypto"
	"github.com/miniidp/miniidp/internal/db/models"
)

// RefreshScope is the fixed scope claim carried by refresh tokens.
const RefreshScope = "openid refresh"

// TokenSet is an issued access/refresh token pair with the claims that went
// into it.
type TokenSet struct {
	AccessClaims  jwt.MapClaims `json:"access_claims"`
	AccessToken   string        `json:"access_token"`
	RefreshClaims jwt.MapClaims `json:"refresh_claims"`
	RefreshToken  string        `json:"refresh_token"`

	GrantedScopes []string `json:"-"`
}

// ExpiresIn returns the remaining lifetime of the access token in whole
// seconds at the given instant.
func (t *TokenSet) ExpiresIn(now time.Time) int64 {
	exp, ok := t.AccessClaims["exp"].(int64)
	if !ok {
		return 0
	}
	return exp - now.Unix()
}

// TokenService issues and parses signed tokens. Issuance runs the policy
// resolver; the scope claim carries the requested scopes the surviving
// policies cover, or their full union when no scopes were requested.
type TokenService struct {
	cryptor  *crypto.Cryptor
	resolver *PolicyResolver
	clock    clock.Clock

	selfReferenceURI string
	accessTTL        time.Duration
	refreshTTL       time.Duration
}

// NewTokenService builds a TokenService. The selfReferenceURI acts as token
// issuer and as the default audience.
func NewTokenService(cryptor *crypto.Cryptor, resolver *PolicyResolver, clk clock.Clock, selfReferenceURI string, accessTTL, refreshTTL time.Duration) *TokenService {
	return &TokenService{
		cryptor:          cryptor,
		resolver:         resolver,
		clock:            clk,
		selfReferenceURI: selfReferenceURI,
		accessTTL:        accessTTL,
		refreshTTL:       refreshTTL,
	}
}

// IssueFor resolves policies for the subject and mints an access/refresh
// pair. A subject with no matching policy still gets a token, with an empty
// scope claim; only an unknown subject fails.
func (s *TokenService) IssueFor(ctx context.Context, subject models.PolicySubject, resourceURL string, requestedScopes []string) (*TokenSet, error) {
	if resourceURL == "" {
		resourceURL = s.selfReferenceURI
	}

	resolution, err := s.resolver.Evaluate(ctx, []models.PolicySubject{subject}, resourceURL, requestedScopes)
	if err != nil {
		return nil, err
	}
	granted := resolution.GrantedScopes()
	if len(requestedScopes) > 0 {
		granted = restrictScopes(granted, requestedScopes)
	}

	now := s.clock.Now()
	accessClaims := jwt.MapClaims{
		"sub":   subject.Subject,
		"psl":   resolution.Subjects,
		"scope": JoinScopes(granted),
		"iss":   s.selfReferenceURI,
		"aud":   resourceURL,
		"exp":   now.Add(s.accessTTL).Unix(),
	}
	refreshClaims := jwt.MapClaims{
		"sub":   subject.Subject,
		"scope": RefreshScope,
		"iss":   s.selfReferenceURI,
		"aud":   resourceURL,
		"exp":   now.Add(s.refreshTTL).Unix(),
	}

	accessToken, err := s.cryptor.Encode(accessClaims)
	if err != nil {
		return nil, err
	}
	refreshToken, err := s.cryptor.Encode(refreshClaims)
	if err != nil {
		return nil, err
	}

	return &TokenSet{
		AccessClaims:  accessClaims,
		AccessToken:   accessToken,
		RefreshClaims: refreshClaims,
		RefreshToken:  refreshToken,
		GrantedScopes: granted,
	}, nil
}

// restrictScopes keeps the granted scopes that were actually requested. A
// token never carries more than the caller asked for.
func restrictScopes(granted, requested []string) []string {
	allowed := make(map[string]struct{}, len(granted))
	for _, scope := range granted {
		allowed[scope] = struct{}{}
	}

	var kept []string
	seen := make(map[string]struct{}, len(requested))
	for _, scope := range requested {
		if _, ok := allowed[scope]; !ok {
			continue
		}
		if _, ok := seen[scope]; ok {
			continue
		}
		seen[scope] = struct{}{}
		kept = append(kept, scope)
	}
	return kept
}

// Parse validates a token against the issuer and the expected audience
// (defaulting to the issuer itself) and returns its claims. Any validation
// failure maps to invalid-token.
func (s *TokenService) Parse(token, expectedAudience string) (jwt.MapClaims, error) {
	if expectedAudience == "" {
		expectedAudience = s.selfReferenceURI
	}
	claims, err := s.cryptor.Decode(token, s.selfReferenceURI, expectedAudience)
	if err != nil {
		return nil, NewError(CodeInvalidToken, err.Error())
	}
	return claims, nil
}

// Issuer returns the configured issuer URI.
func (s *TokenService) Issuer() string {
	return s.selfReferenceURI
}
