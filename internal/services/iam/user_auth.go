package iam

import (
	"context"

	"github.com/miniidp/miniidp/internal/db/models"
	"github.com/miniidp/miniidp/internal/repository"
)

// AuthenticationResult is a successful password login: the principal with
// sensitive fields stripped, plus an issued token set.
type AuthenticationResult struct {
	Principal models.User
	Tokens    *TokenSet
}

// UserAuthenticator performs password logins.
type UserAuthenticator struct {
	users  repository.UserRepository
	tokens *TokenService
}

func NewUserAuthenticator(users repository.UserRepository, tokens *TokenService) *UserAuthenticator {
	return &UserAuthenticator{users: users, tokens: tokens}
}

// Authenticate resolves the user by name, email or id and checks the
// password against the decrypted stored value. An unknown user and a wrong
// password produce the same invalid_credential error.
func (a *UserAuthenticator) Authenticate(ctx context.Context, usernameOrEmail, password, resourceURL string) (*AuthenticationResult, error) {
	user, err := a.users.Get(ctx, usernameOrEmail)
	if err != nil {
		return nil, err
	}
	if user == nil || user.Password == "" || user.Password != password {
		return nil, NewError(CodeInvalidCredential, "username or password rejected")
	}

	tokens, err := a.tokens.IssueFor(ctx, models.PolicySubject{Kind: models.SubjectKindUser, Subject: user.Name}, resourceURL, nil)
	if err != nil {
		return nil, err
	}

	return &AuthenticationResult{Principal: user.WithoutSensitiveFields(), Tokens: tokens}, nil
}
