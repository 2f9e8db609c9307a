// Package server assembles the HTTP surface: OAuth endpoints, the admin
// REST API, snapshot recovery and OIDC discovery.
package server

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/miniidp/miniidp/internal/config"
	"github.com/miniidp/miniidp/internal/repository"
	"github.com/miniidp/miniidp/internal/services/device"
	"github.com/miniidp/miniidp/internal/services/iam"
	"github.com/miniidp/miniidp/internal/services/session"
	"github.com/miniidp/miniidp/internal/snapshot"
	"github.com/miniidp/miniidp/internal/telemetry"
)

// Options carries every collaborator of the server. All fields except the
// metrics are required.
type Options struct {
	Cfg *config.Config

	Gate     *iam.Gate
	Tokens   *iam.TokenService
	Clients  *iam.ClientAuthenticator
	Users    *iam.UserAuthenticator
	Device   *device.Coordinator
	Sessions *session.Manager
	Snapshot *snapshot.Service
	Clock    clock.Clock

	ScopeRepo  repository.ScopeRepository
	RoleRepo   repository.RoleRepository
	UserRepo   repository.UserRepository
	ClientRepo repository.ClientRepository
	PolicyRepo repository.PolicyRepository

	Metrics     *telemetry.ServerMetrics
	AuthMetrics *telemetry.AuthMetrics
}

// Server holds the wired handlers.
type Server struct {
	cfg *config.Config

	gate     *iam.Gate
	tokens   *iam.TokenService
	clients  *iam.ClientAuthenticator
	users    *iam.UserAuthenticator
	device   *device.Coordinator
	sessions *session.Manager
	snapshot *snapshot.Service
	clock    clock.Clock

	scopeRepo  repository.ScopeRepository
	roleRepo   repository.RoleRepository
	userRepo   repository.UserRepository
	clientRepo repository.ClientRepository
	policyRepo repository.PolicyRepository

	metrics     *telemetry.ServerMetrics
	authMetrics *telemetry.AuthMetrics
}

func New(opts Options) *Server {
	return &Server{
		cfg:         opts.Cfg,
		gate:        opts.Gate,
		tokens:      opts.Tokens,
		clients:     opts.Clients,
		users:       opts.Users,
		device:      opts.Device,
		sessions:    opts.Sessions,
		snapshot:    opts.Snapshot,
		clock:       opts.Clock,
		scopeRepo:   opts.ScopeRepo,
		roleRepo:    opts.RoleRepo,
		userRepo:    opts.UserRepo,
		clientRepo:  opts.ClientRepo,
		policyRepo:  opts.PolicyRepo,
		metrics:     opts.Metrics,
		authMetrics: opts.AuthMetrics,
	}
}

// recordAuth forwards to the auth metrics when they are wired.
func (s *Server) recordAuth(ctx context.Context, method string, success bool) {
	if s.authMetrics != nil {
		s.authMetrics.RecordAuth(ctx, method, success)
	}
}
