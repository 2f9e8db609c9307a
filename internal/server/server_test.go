package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/miniidp/miniidp/internal/config"
	"github.com/miniidp/miniidp/internal/crypto"
	"github.com/miniidp/miniidp/internal/db/bunx"
	"github.com/miniidp/miniidp/internal/db/models"
	"github.com/miniidp/miniidp/internal/repository"
	"github.com/miniidp/miniidp/internal/services/device"
	"github.com/miniidp/miniidp/internal/services/iam"
	"github.com/miniidp/miniidp/internal/services/session"
	"github.com/miniidp/miniidp/internal/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIssuer = "http://idp.local/"

type testStack struct {
	ts     *httptest.Server
	clock  *clock.Mock
	tokens *iam.TokenService

	users    repository.UserRepository
	clients  repository.ClientRepository
	policies repository.PolicyRepository
}

// newTestStack wires the full server against an in-memory database and
// bootstraps the predefined data plus a root owner.
func newTestStack(t *testing.T) *testStack {
	t.Helper()

	db, err := bunx.NewDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = bunx.Close(db) })

	ctx := context.Background()
	for _, model := range []any{
		(*models.Scope)(nil),
		(*models.Role)(nil),
		(*models.User)(nil),
		(*models.OAuthClient)(nil),
		(*models.Policy)(nil),
		(*models.KVEntry)(nil),
	} {
		_, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx)
		require.NoError(t, err)
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	cryptor := crypto.NewCryptorFromKeys(key)

	mock := clock.NewMock()
	mock.Set(time.Now())

	cfg := &config.Config{
		SelfReferenceURI: testIssuer,
		AccessTokenTTL:   30 * time.Minute,
		RefreshTokenTTL:  12 * time.Hour,
		VerificationTTL:  10 * time.Minute,
		BootingOptions:   []string{config.BootOptionBootstrap},
		BootstrapOwner: config.OwnerConfig{
			Name:     "owner",
			Email:    "owner@example.com",
			Password: "owner-pw",
		},
	}

	scopes := repository.NewBunScopeRepository(db)
	roles := repository.NewBunRoleRepository(db)
	users := repository.NewBunUserRepository(db, cryptor)
	clients := repository.NewBunClientRepository(db, cryptor)
	policies := repository.NewBunPolicyRepository(db)
	kv := repository.NewKeyValueStore(db, mock)

	resolver := iam.NewPolicyResolver(clients, roles, users, policies, cfg.SelfReferenceURI)
	tokens := iam.NewTokenService(cryptor, resolver, mock, cfg.SelfReferenceURI, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	clientAuth := iam.NewClientAuthenticator(clients)
	userAuth := iam.NewUserAuthenticator(users, tokens)
	gate := iam.NewGate(tokens)
	coordinator := device.NewCoordinator(kv, clientAuth, tokens, mock, cfg.OAuthBaseURL()+"/device-activation", cfg.VerificationTTL)
	sessions := session.NewManager(cryptor, kv, mock, cfg.AccessTokenTTL)
	snapshots := snapshot.NewService(db, cryptor)

	require.NoError(t, iam.NewBootstrapper(db, cryptor, cfg).Run(ctx))

	srv := New(Options{
		Cfg:        cfg,
		Gate:       gate,
		Tokens:     tokens,
		Clients:    clientAuth,
		Users:      userAuth,
		Device:     coordinator,
		Sessions:   sessions,
		Snapshot:   snapshots,
		Clock:      mock,
		ScopeRepo:  scopes,
		RoleRepo:   roles,
		UserRepo:   users,
		ClientRepo: clients,
		PolicyRepo: policies,
	})

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &testStack{ts: ts, clock: mock, tokens: tokens, users: users, clients: clients, policies: policies}
}

func (s *testStack) postForm(t *testing.T, path string, form url.Values) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.PostForm(s.ts.URL+path, form)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func (s *testStack) do(t *testing.T, method, path string, body string, configure func(*http.Request)) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, s.ts.URL+path, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if configure != nil {
		configure(req)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) == 0 {
		return nil
	}
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		return map[string]any{"_raw": string(data)}
	}
	return body
}

// login authenticates a user and returns the session cookie plus the access
// token.
func (s *testStack) login(t *testing.T, username, password string) (*http.Cookie, string) {
	t.Helper()
	resp, body := s.postForm(t, "/oauth/login", url.Values{
		"username": {username},
		"password": {password},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "login for %s: %v", username, body)

	var sid *http.Cookie
	for _, cookie := range resp.Cookies() {
		if cookie.Name == session.CookieName {
			sid = cookie
		}
	}
	require.NotNil(t, sid, "login must set the session cookie")
	return sid, body["access_token"].(string)
}

func (s *testStack) seedDeviceUser(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.clients.Create(ctx, &models.OAuthClient{
		ID:         uuid.NewString(),
		Name:       "test_app",
		GrantTypes: models.StringList{models.GrantTypeDeviceCode},
	}))
	require.NoError(t, s.users.Create(ctx, &models.User{
		ID:       uuid.NewString(),
		Name:     "user_a",
		Password: "pw-a",
		Email:    "user_a@example.com",
		Roles:    models.StringList{iam.RoleIDPUser},
	}))
	// The predefined idp.users policy does not cover offline_access.
	require.NoError(t, s.policies.Create(ctx, &models.Policy{
		ID:       uuid.NewString(),
		Name:     "device-basics",
		Resource: testIssuer,
		Subjects: models.PolicySubjectList{{Kind: models.SubjectKindRole, Subject: iam.RoleIDPUser}},
		Scopes:   models.StringList{"openid", "offline_access"},
	}))
}

func TestDeviceFlowHappyPath(t *testing.T) {
	stack := newTestStack(t)
	stack.seedDeviceUser(t)

	resp, body := stack.postForm(t, "/oauth/device", url.Values{
		"client_id": {"test_app"},
		"scope":     {"openid offline_access"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "%v", body)

	userCode := body["user_code"].(string)
	deviceCode := body["device_code"].(string)
	assert.Regexp(t, `^[0-9A-F]{8}$`, userCode)
	assert.Equal(t, testIssuer+"oauth/device-activation", body["verification_uri"])
	assert.EqualValues(t, 5, body["interval"])

	// Polling before approval reports pending.
	resp, body = stack.postForm(t, "/oauth/token", url.Values{
		"client_id":   {"test_app"},
		"grant_type":  {models.GrantTypeDeviceCode},
		"device_code": {deviceCode},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "authorization_pending", body["error"])

	sid, _ := stack.login(t, "user_a", "pw-a")

	resp, body = stack.do(t, http.MethodPost, "/oauth/device-activation",
		`{"user_code":"`+userCode+`","authorized":true}`,
		func(req *http.Request) { req.AddCookie(sid) })
	require.Equal(t, http.StatusOK, resp.StatusCode, "%v", body)
	assert.Equal(t, deviceCode, body["device_code"])
	assert.Equal(t, true, body["authorized"])

	resp, body = stack.postForm(t, "/oauth/token", url.Values{
		"client_id":   {"test_app"},
		"grant_type":  {models.GrantTypeDeviceCode},
		"device_code": {deviceCode},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "%v", body)

	claims, err := stack.tokens.Parse(body["access_token"].(string), "")
	require.NoError(t, err)
	assert.Equal(t, "user_a", claims["sub"])
	assert.Contains(t, claims["scope"], "openid")
	assert.InDelta(t, 30*60, body["expires_in"].(float64), 5)
}

func TestDeviceFlowWrongUserCode(t *testing.T) {
	stack := newTestStack(t)
	stack.seedDeviceUser(t)

	resp, body := stack.postForm(t, "/oauth/device", url.Values{
		"client_id": {"test_app"},
		"scope":     {"openid"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	deviceCode := body["device_code"].(string)

	sid, _ := stack.login(t, "user_a", "pw-a")

	// An unknown code cannot be approved; the real grant stays pending.
	resp, body = stack.do(t, http.MethodPost, "/oauth/device-activation",
		`{"user_code":"00000000","authorized":true}`,
		func(req *http.Request) { req.AddCookie(sid) })
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "expired_token", body["error"])

	resp, body = stack.postForm(t, "/oauth/token", url.Values{
		"client_id":   {"test_app"},
		"grant_type":  {models.GrantTypeDeviceCode},
		"device_code": {deviceCode},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "authorization_pending", body["error"])
}

func TestDeviceActivationRequiresSession(t *testing.T) {
	stack := newTestStack(t)
	stack.seedDeviceUser(t)

	resp, body := stack.do(t, http.MethodPost, "/oauth/device-activation",
		`{"user_code":"AAAA1111","authorized":true}`, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "not_authenticated", body["error"])
}

func TestClientCredentialsFlow(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	require.NoError(t, stack.clients.Create(ctx, &models.OAuthClient{
		ID:         uuid.NewString(),
		Name:       "svc1",
		Secret:     "s",
		GrantTypes: models.StringList{models.GrantTypeClientCredentials},
	}))

	// A policy must grant the requested scope to the client.
	resp, body := stack.do(t, http.MethodPost, "/rpc/recovery", `{
		"policies": [{
			"id": "`+uuid.NewString()+`",
			"name": "svc1-read",
			"resource": "`+testIssuer+`",
			"subjects": [{"kind": "client", "subject": "svc1"}],
			"scopes": ["idp.user.read"]
		}]
	}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, "%v", body)

	resp, body = stack.postForm(t, "/oauth/token", url.Values{
		"client_id":     {"svc1"},
		"client_secret": {"s"},
		"grant_type":    {models.GrantTypeClientCredentials},
		"scope":         {"idp.user.read"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "%v", body)

	claims, err := stack.tokens.Parse(body["access_token"].(string), "")
	require.NoError(t, err)
	assert.Equal(t, "svc1", claims["sub"])
	assert.Equal(t, "idp.user.read", claims["scope"])

	// A wrong secret is an authentication failure, not a policy miss.
	resp, body = stack.postForm(t, "/oauth/token", url.Values{
		"client_id":     {"svc1"},
		"client_secret": {"wrong"},
		"grant_type":    {models.GrantTypeClientCredentials},
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid_client", body["error"])
}

func TestUnsupportedGrantType(t *testing.T) {
	stack := newTestStack(t)

	resp, body := stack.postForm(t, "/oauth/token", url.Values{
		"client_id":  {"whatever"},
		"grant_type": {"password"},
	})
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
	assert.Equal(t, "unsupported_grant_type", body["error"])
}

func TestAdminGateOnREST(t *testing.T) {
	stack := newTestStack(t)
	_, ownerToken := stack.login(t, "owner", "owner-pw")

	t.Run("root token passes everywhere", func(t *testing.T) {
		resp, _ := stack.do(t, http.MethodGet, "/rest/users/", "", func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+ownerToken)
		})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("no token", func(t *testing.T) {
		resp, body := stack.do(t, http.MethodGet, "/rest/users/", "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "missing-token", body["error"])
	})

	t.Run("token without the required scope", func(t *testing.T) {
		// The owner session is privileged; build a weaker principal.
		ctx := context.Background()
		require.NoError(t, stack.users.Create(ctx, &models.User{
			ID:       uuid.NewString(),
			Name:     "viewer",
			Password: "pw",
			Email:    "viewer@example.com",
			Roles:    models.StringList{iam.RoleIDPUser},
		}))
		_, viewerToken := stack.login(t, "viewer", "pw")

		// idp.user roles may list users but never delete them.
		resp, _ := stack.do(t, http.MethodGet, "/rest/users/", "", func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+viewerToken)
		})
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		resp, body := stack.do(t, http.MethodDelete, "/rest/users/viewer", "", func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+viewerToken)
		})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.Equal(t, "access.denied", body["error"])
	})
}

func TestSensitiveFieldExposure(t *testing.T) {
	stack := newTestStack(t)
	_, ownerToken := stack.login(t, "owner", "owner-pw")

	get := func(accessLevel string) map[string]any {
		resp, body := stack.do(t, http.MethodGet, "/rest/users/owner", "", func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+ownerToken)
			if accessLevel != "" {
				req.Header.Set("X-Access-Level", accessLevel)
			}
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		return body
	}

	plain := get("")
	assert.NotContains(t, plain, "password")

	full := get("full")
	assert.Equal(t, "owner-pw", full["password"])
}

func TestRESTLifecycle(t *testing.T) {
	stack := newTestStack(t)
	_, ownerToken := stack.login(t, "owner", "owner-pw")

	authed := func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+ownerToken)
	}

	resp, body := stack.do(t, http.MethodPost, "/rest/roles/",
		`{"name": "auditors", "description": "read-only reviewers"}`, authed)
	require.Equal(t, http.StatusOK, resp.StatusCode, "%v", body)
	require.NotEmpty(t, body["id"], "create assigns an id")

	resp, body = stack.do(t, http.MethodPatch, "/rest/roles/auditors",
		`[{"op": "replace", "path": "/description", "value": "auditors only"}]`, authed)
	require.Equal(t, http.StatusOK, resp.StatusCode, "%v", body)
	assert.Equal(t, "auditors only", body["description"])

	resp, body = stack.do(t, http.MethodGet, "/rest/roles/auditors", "", authed)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "auditors only", body["description"])

	resp, _ = stack.do(t, http.MethodDelete, "/rest/roles/auditors", "", authed)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// A second delete hits nothing.
	resp, body = stack.do(t, http.MethodDelete, "/rest/roles/auditors", "", authed)
	assert.Equal(t, http.StatusGone, resp.StatusCode)
	assert.Equal(t, "already-gone", body["error"])

	resp, _ = stack.do(t, http.MethodGet, "/rest/roles/auditors", "", authed)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRESTCreateConflict(t *testing.T) {
	stack := newTestStack(t)
	_, ownerToken := stack.login(t, "owner", "owner-pw")

	authed := func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+ownerToken)
	}

	resp, body := stack.do(t, http.MethodPost, "/rest/roles/",
		`{"name": "auditors"}`, authed)
	require.Equal(t, http.StatusOK, resp.StatusCode, "%v", body)

	// A second create with the same name is a conflict, not a server error.
	resp, body = stack.do(t, http.MethodPost, "/rest/roles/",
		`{"name": "auditors"}`, authed)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "duplicate", body["error"])
}

func TestStats(t *testing.T) {
	stack := newTestStack(t)
	_, ownerToken := stack.login(t, "owner", "owner-pw")

	resp, body := stack.do(t, http.MethodGet, "/rest/stats", "", func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+ownerToken)
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["users"])
	assert.EqualValues(t, 3, body["roles"])
	assert.EqualValues(t, 3, body["policies"])
}

func TestSessionEndpoints(t *testing.T) {
	stack := newTestStack(t)

	resp, body := stack.do(t, http.MethodGet, "/oauth/me/session", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "not_authenticated", body["error"])

	sid, _ := stack.login(t, "owner", "owner-pw")

	resp, body = stack.do(t, http.MethodGet, "/oauth/me/session", "", func(req *http.Request) {
		req.AddCookie(sid)
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "owner", body["name"])
	assert.NotContains(t, body, "password")

	resp, _ = stack.do(t, http.MethodGet, "/oauth/logout", "", func(req *http.Request) {
		req.AddCookie(sid)
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = stack.do(t, http.MethodGet, "/oauth/me/session", "", func(req *http.Request) {
		req.AddCookie(sid)
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLoginWithLiveSessionShortCircuits(t *testing.T) {
	stack := newTestStack(t)
	sid, _ := stack.login(t, "owner", "owner-pw")

	// The credentials are not consulted while the session lives; even a
	// wrong password answers from the session.
	resp, body := stack.do(t, http.MethodPost, "/oauth/login",
		url.Values{"username": {"owner"}, "password": {"wrong"}}.Encode(),
		func(req *http.Request) {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			req.AddCookie(sid)
		})
	require.Equal(t, http.StatusOK, resp.StatusCode, "%v", body)
	assert.Equal(t, true, body["already_exists"])
	assert.NotContains(t, body, "access_token")

	principal := body["principal"].(map[string]any)
	assert.Equal(t, "owner", principal["name"])
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	stack := newTestStack(t)

	resp, body := stack.postForm(t, "/oauth/login", url.Values{
		"username": {"owner"},
		"password": {"wrong"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_credential", body["error"])
}

func TestDiscoveryDocument(t *testing.T) {
	stack := newTestStack(t)

	resp, body := stack.do(t, http.MethodGet, "/.well-known/openid-configuration", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, testIssuer, body["issuer"])
	assert.Equal(t, testIssuer+"oauth/token", body["token_endpoint"])
	assert.Equal(t, testIssuer+"oauth/device", body["device_authorization_endpoint"])
}

func TestRecoveryRoundTrip(t *testing.T) {
	stack := newTestStack(t)

	resp, body := stack.do(t, http.MethodGet, "/rpc/recovery", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	users := body["users"].([]any)
	require.Len(t, users, 1)
	owner := users[0].(map[string]any)
	assert.Equal(t, "owner", owner["name"])
	assert.Equal(t, "owner-pw", owner["password"], "recovery export carries plaintext credentials")
}

func TestDeviceActivationRedirect(t *testing.T) {
	stack := newTestStack(t)

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Get(stack.ts.URL + "/oauth/device-activation?user_code=AAAA1111")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Location"), "user_code=AAAA1111")
}
