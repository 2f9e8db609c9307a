package server

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/miniidp/miniidp/internal/db/models"
	"github.com/miniidp/miniidp/internal/services/iam"
	"github.com/miniidp/miniidp/internal/services/session"
)

// tokenResponse is the body of a successful token exchange.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// loginResponse is the body of a successful password login. Tokens are
// absent when an existing session answered the login.
type loginResponse struct {
	AlreadyExists bool        `json:"already_exists"`
	Principal     models.User `json:"principal"`
	AccessToken   string      `json:"access_token,omitempty"`
	RefreshToken  string      `json:"refresh_token,omitempty"`
	ExpiresIn     int64       `json:"expires_in,omitempty"`
}

// activationRequest is the approval or denial posted by the browser.
type activationRequest struct {
	UserCode   string `json:"user_code"`
	Authorized bool   `json:"authorized"`
}

type activationResponse struct {
	DeviceCode string `json:"device_code"`
	Authorized bool   `json:"authorized"`
}

// handleDeviceInitiation starts a device authorization. Every failure on
// this endpoint is a 400 regardless of its kind.
func (s *Server) handleDeviceInitiation(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeCodedError(w, http.StatusBadRequest, iam.CodeInvalidRequest, "malformed form body")
		return
	}

	clientID := r.PostFormValue("client_id")
	scopes := iam.SplitScopes(r.PostFormValue("scope"))
	resource := r.FormValue("resource")

	resp, err := s.device.Initiate(r.Context(), clientID, scopes, resource)
	if err != nil {
		s.recordAuth(r.Context(), "device_code", false)
		if code := iam.CodeOf(err); code != "" {
			writeCodedError(w, http.StatusBadRequest, code, "")
			return
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleTokenExchange implements the token endpoint for the
// client_credentials and device_code grants.
func (s *Server) handleTokenExchange(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeCodedError(w, http.StatusBadRequest, iam.CodeInvalidRequest, "malformed form body")
		return
	}

	grantType := r.PostFormValue("grant_type")
	clientID := r.PostFormValue("client_id")
	clientSecret := r.PostFormValue("client_secret")

	switch grantType {
	case models.GrantTypeClientCredentials:
		s.exchangeClientCredentials(w, r, clientID, clientSecret)
	case models.GrantTypeDeviceCode:
		s.exchangeDeviceCode(w, r, clientID, clientSecret)
	default:
		writeCodedError(w, http.StatusNotImplemented, iam.CodeUnsupportedGrantType, "grant type "+grantType)
	}
}

func (s *Server) exchangeClientCredentials(w http.ResponseWriter, r *http.Request, clientID, clientSecret string) {
	ctx := r.Context()

	client, err := s.clients.Authenticate(ctx, clientID, models.GrantTypeClientCredentials, clientSecret)
	if err != nil {
		s.recordAuth(ctx, "client", false)
		writeError(w, err)
		return
	}
	s.recordAuth(ctx, "client", true)

	// The audience registered on the client is the fallback resource.
	resource := r.PostFormValue("resource")
	if resource == "" {
		resource = r.PostFormValue("audience")
	}
	if resource == "" {
		resource = client.Audience
	}

	subject := models.PolicySubject{Kind: models.SubjectKindClient, Subject: client.Name}
	tokens, err := s.tokens.IssueFor(ctx, subject, resource, iam.SplitScopes(r.PostFormValue("scope")))
	if err != nil {
		writeTokenIssueError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  tokens.AccessToken,
		ExpiresIn:    tokens.ExpiresIn(s.clock.Now()),
		RefreshToken: tokens.RefreshToken,
	})
}

func (s *Server) exchangeDeviceCode(w http.ResponseWriter, r *http.Request, clientID, clientSecret string) {
	ctx := r.Context()

	tokens, err := s.device.Exchange(ctx, clientID, clientSecret, r.PostFormValue("device_code"))
	if err != nil {
		s.recordAuth(ctx, "device_code", false)
		switch iam.CodeOf(err) {
		case iam.CodeInvalidSubject:
			writeTokenIssueError(w, err)
		default:
			writeError(w, err)
		}
		return
	}
	s.recordAuth(ctx, "device_code", true)

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  tokens.AccessToken,
		ExpiresIn:    tokens.ExpiresIn(s.device.Now()),
		RefreshToken: tokens.RefreshToken,
	})
}

// writeTokenIssueError surfaces a failure during token minting as a 401.
func writeTokenIssueError(w http.ResponseWriter, err error) {
	if code := iam.CodeOf(err); code != "" {
		writeCodedError(w, http.StatusUnauthorized, code, "")
		return
	}
	writeError(w, err)
}

// handleDeviceActivationRedirect sends the browser to the activation UI,
// carrying the user code along.
func (s *Server) handleDeviceActivationRedirect(w http.ResponseWriter, r *http.Request) {
	userCode := r.URL.Query().Get("user_code")
	target := "/#/oauth/device-activation?user_code=" + url.QueryEscape(userCode) +
		"&origin=" + url.QueryEscape(r.URL.String())
	http.Redirect(w, r, target, http.StatusFound)
}

// handleDeviceActivation lets an authenticated browser session approve or
// deny a pending device authorization.
func (s *Server) handleDeviceActivation(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.sessionPrincipal(r)
	if !ok {
		writeCodedError(w, http.StatusUnauthorized, iam.CodeNotAuthenticated, "invalid_session")
		return
	}

	var req activationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeCodedError(w, http.StatusBadRequest, iam.CodeInvalidRequest, "malformed request body")
		return
	}

	deviceCode, err := s.device.Activate(r.Context(), req.UserCode, req.Authorized, principal.Name)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, activationResponse{DeviceCode: deviceCode, Authorized: req.Authorized})
}

// handleLogin performs a password login and establishes a browser session.
// A request carrying a live session is answered from it without touching
// the credentials.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if principal, ok := s.sessionPrincipal(r); ok {
		writeJSON(w, http.StatusOK, loginResponse{AlreadyExists: true, Principal: *principal})
		return
	}

	if err := r.ParseForm(); err != nil {
		writeCodedError(w, http.StatusBadRequest, iam.CodeInvalidRequest, "malformed form body")
		return
	}

	result, err := s.users.Authenticate(ctx, r.PostFormValue("username"), r.PostFormValue("password"), r.PostFormValue("resource"))
	if err != nil {
		s.recordAuth(ctx, "password", false)
		writeError(w, err)
		return
	}
	s.recordAuth(ctx, "password", true)

	cookieValue, err := s.sessions.Create(ctx, result.Principal)
	if err != nil {
		writeError(w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    cookieValue,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, loginResponse{
		Principal:    result.Principal,
		AccessToken:  result.Tokens.AccessToken,
		RefreshToken: result.Tokens.RefreshToken,
		ExpiresIn:    result.Tokens.ExpiresIn(s.clock.Now()),
	})
}

// handleLogout drops the browser session and clears the cookie.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(session.CookieName); err == nil {
		if err := s.sessions.Destroy(r.Context(), cookie.Value); err != nil {
			writeError(w, err)
			return
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	w.WriteHeader(http.StatusOK)
}

// handleSessionInfo returns the current session principal, or 401.
func (s *Server) handleSessionInfo(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.sessionPrincipal(r)
	if !ok {
		writeCodedError(w, http.StatusUnauthorized, iam.CodeNotAuthenticated, "")
		return
	}
	writeJSON(w, http.StatusOK, principal)
}

// sessionPrincipal resolves the sid cookie to a user, if any.
func (s *Server) sessionPrincipal(r *http.Request) (*models.User, bool) {
	cookie, err := r.Cookie(session.CookieName)
	if err != nil {
		return nil, false
	}
	principal, present, err := s.sessions.Load(r.Context(), cookie.Value)
	if err != nil || !present {
		return nil, false
	}
	return principal, true
}
