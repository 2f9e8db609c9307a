package server

import (
	"net/http"

	"github.com/miniidp/miniidp/internal/crypto"
	"github.com/miniidp/miniidp/internal/services/iam"
	"github.com/zitadel/oidc/v3/pkg/oidc"
)

// handleDiscovery serves the OIDC provider metadata. Only the grants this
// server actually implements are advertised.
func (s *Server) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	base := s.cfg.OAuthBaseURL()

	writeJSON(w, http.StatusOK, &oidc.DiscoveryConfiguration{
		Issuer:                      s.cfg.SelfReferenceURI,
		TokenEndpoint:               base + "/token",
		DeviceAuthorizationEndpoint: base + "/device",
		ScopesSupported: []string{
			iam.ScopeOpenID,
			iam.ScopeProfile,
			iam.ScopeEmail,
			iam.ScopeOfflineAccess,
		},
		GrantTypesSupported: []oidc.GrantType{
			oidc.GrantTypeClientCredentials,
			oidc.GrantTypeDeviceCode,
		},
		IDTokenSigningAlgValuesSupported: []string{crypto.SigningAlgorithm},
		SubjectTypesSupported:            []string{"public"},
	})
}
