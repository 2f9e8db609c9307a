package iam

import (
	"context"
	"testing"

	"github.com/miniidp/miniidp/internal/db/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// issueWithScopes mints a real token whose scope claim is exactly the given
// set, by seeding a matching policy for a fresh user.
func issueWithScopes(t *testing.T, env *testEnv, name string, scopes ...string) string {
	t.Helper()
	env.seedRole(t, name+"-role")
	env.seedUser(t, name, name+"@example.com", "pw", name+"-role")
	env.seedPolicy(t, name+"-policy", testIssuer, models.PolicySubjectList{roleSubject(name + "-role")}, scopes...)

	tokens, err := env.tokens.IssueFor(context.Background(), userSubject(name), "", nil)
	require.NoError(t, err)
	return tokens.AccessToken
}

func TestGate_Authorize(t *testing.T) {
	env := newTestEnv(t)
	gate := NewGate(env.tokens)

	listToken := issueWithScopes(t, env, "lister", "idp.user.list", "idp.user.read")
	rootToken := issueWithScopes(t, env, "rooter", ScopeIDPRoot)

	t.Run("grants the declared action", func(t *testing.T) {
		claims, err := gate.Authorize("Bearer "+listToken, "idp.user", ActionList)
		require.NoError(t, err)
		assert.Equal(t, "lister", claims["sub"])
	})

	t.Run("denies an action outside the scope set", func(t *testing.T) {
		_, err := gate.Authorize("Bearer "+listToken, "idp.user", ActionWrite)
		assert.Equal(t, CodeGateDenied, CodeOf(err))

		_, err = gate.Authorize("Bearer "+listToken, "idp.client", ActionList)
		assert.Equal(t, CodeGateDenied, CodeOf(err))
	})

	t.Run("privileged scopes bypass the action check", func(t *testing.T) {
		for _, action := range []string{ActionList, ActionRead, ActionWrite, ActionDelete} {
			_, err := gate.Authorize("Bearer "+rootToken, "idp.policy", action)
			require.NoError(t, err, action)
		}
	})

	t.Run("missing or malformed header", func(t *testing.T) {
		for _, header := range []string{"", "Basic abc", "Bearer short", "bearer " + listToken} {
			_, err := gate.Authorize(header, "idp.user", ActionList)
			assert.Equal(t, CodeMissingToken, CodeOf(err), header)
		}
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := gate.Authorize("Bearer this.is.not.a.real.token.at.all", "idp.user", ActionList)
		assert.Equal(t, CodeInvalidToken, CodeOf(err))
	})
}

func TestGate_CanRevealSensitive(t *testing.T) {
	env := newTestEnv(t)
	gate := NewGate(env.tokens)

	adminToken := issueWithScopes(t, env, "admin", ScopeIDPAdmin)
	plainToken := issueWithScopes(t, env, "plain", "idp.user.list")

	adminClaims, err := gate.Authorize("Bearer "+adminToken, "idp.user", ActionList)
	require.NoError(t, err)
	plainClaims, err := gate.Authorize("Bearer "+plainToken, "idp.user", ActionList)
	require.NoError(t, err)

	assert.True(t, gate.CanRevealSensitive(adminClaims, "full"))
	assert.False(t, gate.CanRevealSensitive(adminClaims, ""), "header must ask explicitly")
	assert.False(t, gate.CanRevealSensitive(plainClaims, "full"), "unprivileged scopes never see secrets")
	assert.False(t, gate.CanRevealSensitive(nil, "full"))
}
