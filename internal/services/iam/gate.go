package iam

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Data actions declared by REST operations.
const (
	ActionList   = "list"
	ActionRead   = "read"
	ActionWrite  = "write"
	ActionDelete = "delete"
)

// minBearerTokenLength rejects obviously truncated Authorization headers
// before any parsing happens.
const minBearerTokenLength = 20

// privilegedScopes bypass the per-action scope check and unlock sensitive
// field exposure.
var privilegedScopes = []string{ScopeIDPRoot, ScopeIDPAdmin}

// AccessLevelHeaderValue is what the X-Access-Level header must carry for
// sensitive fields to be included in REST responses.
const AccessLevelHeaderValue = "full"

// Gate authorizes admin REST operations from bearer tokens.
type Gate struct {
	tokens *TokenService
}

func NewGate(tokens *TokenService) *Gate {
	return &Gate{tokens: tokens}
}

// Authorize admits a request when the token grants "<namespace>.<action>",
// or any privileged scope. It returns the validated claims for the handler.
func (g *Gate) Authorize(authorizationHeader, namespace, action string) (jwt.MapClaims, error) {
	token, err := bearerToken(authorizationHeader)
	if err != nil {
		return nil, err
	}

	claims, err := g.tokens.Parse(token, "")
	if err != nil {
		return nil, err
	}

	granted := grantedScopes(claims)
	for _, scope := range privilegedScopes {
		if _, ok := granted[scope]; ok {
			return claims, nil
		}
	}

	required := namespace + "." + action
	if _, ok := granted[required]; !ok {
		return nil, NewError(CodeGateDenied, "missing scope "+required)
	}
	return claims, nil
}

// CanRevealSensitive reports whether a response may include sensitive
// fields: the caller must ask via the header and hold a privileged scope.
func (g *Gate) CanRevealSensitive(claims jwt.MapClaims, accessLevelHeader string) bool {
	if claims == nil || accessLevelHeader != AccessLevelHeaderValue {
		return false
	}
	granted := grantedScopes(claims)
	for _, scope := range privilegedScopes {
		if _, ok := granted[scope]; ok {
			return true
		}
	}
	return false
}

func bearerToken(header string) (string, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", NewError(CodeMissingToken, "authorization header absent or malformed")
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if len(token) < minBearerTokenLength {
		return "", NewError(CodeMissingToken, "bearer token too short")
	}
	return token, nil
}

func grantedScopes(claims jwt.MapClaims) map[string]struct{} {
	scopes := make(map[string]struct{})
	raw, _ := claims["scope"].(string)
	for _, scope := range SplitScopes(raw) {
		scopes[scope] = struct{}{}
	}
	return scopes
}
