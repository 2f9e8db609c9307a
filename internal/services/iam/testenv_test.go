package iam

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/miniidp/miniidp/internal/crypto"
	"github.com/miniidp/miniidp/internal/db/bunx"
	"github.com/miniidp/miniidp/internal/db/models"
	"github.com/miniidp/miniidp/internal/repository"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

const testIssuer = "http://idp.local/"

type testEnv struct {
	db      *bun.DB
	cryptor *crypto.Cryptor
	clock   *clock.Mock

	scopes   repository.ScopeRepository
	roles    repository.RoleRepository
	users    repository.UserRepository
	clients  repository.ClientRepository
	policies repository.PolicyRepository

	resolver *PolicyResolver
	tokens   *TokenService
}

func newTestEnv(t *testing.T) *testEnv {
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

	// Token validation compares exp against wall time, so the mock must
	// start there instead of at a fixed date.
	mock := clock.NewMock()
	mock.Set(time.Now())

	env := &testEnv{
		db:       db,
		cryptor:  cryptor,
		clock:    mock,
		scopes:   repository.NewBunScopeRepository(db),
		roles:    repository.NewBunRoleRepository(db),
		users:    repository.NewBunUserRepository(db, cryptor),
		clients:  repository.NewBunClientRepository(db, cryptor),
		policies: repository.NewBunPolicyRepository(db),
	}
	env.resolver = NewPolicyResolver(env.clients, env.roles, env.users, env.policies, testIssuer)
	env.tokens = NewTokenService(cryptor, env.resolver, mock, testIssuer, 30*time.Minute, 12*time.Hour)
	return env
}

func (e *testEnv) seedRole(t *testing.T, name string) {
	t.Helper()
	require.NoError(t, e.roles.Create(context.Background(), &models.Role{ID: uuid.NewString(), Name: name}))
}

func (e *testEnv) seedUser(t *testing.T, name, email, password string, roles ...string) {
	t.Helper()
	require.NoError(t, e.users.Create(context.Background(), &models.User{
		ID:       uuid.NewString(),
		Name:     name,
		Password: password,
		Email:    email,
		Roles:    roles,
	}))
}

func (e *testEnv) seedClient(t *testing.T, name, secret string, grantTypes ...string) {
	t.Helper()
	require.NoError(t, e.clients.Create(context.Background(), &models.OAuthClient{
		ID:         uuid.NewString(),
		Name:       name,
		Secret:     secret,
		Audience:   testIssuer,
		GrantTypes: grantTypes,
	}))
}

func (e *testEnv) seedPolicy(t *testing.T, name, resource string, subjects models.PolicySubjectList, scopes ...string) {
	t.Helper()
	require.NoError(t, e.policies.Create(context.Background(), &models.Policy{
		ID:       uuid.NewString(),
		Name:     name,
		Resource: resource,
		Subjects: subjects,
		Scopes:   scopes,
	}))
}

func roleSubject(name string) models.PolicySubject {
	return models.PolicySubject{Kind: models.SubjectKindRole, Subject: name}
}

func userSubject(subject string) models.PolicySubject {
	return models.PolicySubject{Kind: models.SubjectKindUser, Subject: subject}
}

func clientSubject(name string) models.PolicySubject {
	return models.PolicySubject{Kind: models.SubjectKindClient, Subject: name}
}
