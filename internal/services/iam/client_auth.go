package iam

import (
	"context"
	"crypto/subtle"

	"github.com/miniidp/miniidp/internal/db/models"
	"github.com/miniidp/miniidp/internal/repository"
)

// ClientAuthenticator validates client identity and grant-type permission on
// the OAuth endpoints.
type ClientAuthenticator struct {
	clients repository.ClientRepository
}

func NewClientAuthenticator(clients repository.ClientRepository) *ClientAuthenticator {
	return &ClientAuthenticator{clients: clients}
}

// Authenticate looks up the client by name or id and checks that the grant
// type is permitted. For client_credentials the caller must present the
// exact client name and the matching secret.
func (a *ClientAuthenticator) Authenticate(ctx context.Context, clientID, grantType, clientSecret string) (*models.OAuthClient, error) {
	client, err := a.clients.Get(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, NewError(CodeInvalidClient, "unknown client")
	}

	if grantType == models.GrantTypeClientCredentials {
		nameOK := client.Name == clientID
		secretOK := subtle.ConstantTimeCompare([]byte(client.Secret), []byte(clientSecret)) == 1
		if !nameOK || !secretOK {
			return nil, NewError(CodeInvalidClient, "client credentials rejected")
		}
	}

	if !client.GrantTypes.Contains(grantType) {
		return nil, NewError(CodeUnauthorizedClient, "grant type not permitted for client")
	}

	return client, nil
}
