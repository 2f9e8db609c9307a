package cmd

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/miniidp/miniidp/internal/config"
	"github.com/miniidp/miniidp/internal/crypto"
	"github.com/miniidp/miniidp/internal/db/bunx"
	"github.com/miniidp/miniidp/internal/repository"
	"github.com/miniidp/miniidp/internal/server"
	"github.com/miniidp/miniidp/internal/services/device"
	"github.com/miniidp/miniidp/internal/services/iam"
	"github.com/miniidp/miniidp/internal/services/session"
	"github.com/miniidp/miniidp/internal/snapshot"
	"github.com/miniidp/miniidp/internal/telemetry"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the identity provider",
	Long:  `Starts the HTTP server with the OAuth, admin REST and recovery endpoints.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Connect to database
		db, err := bunx.NewDB(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer bunx.Close(db)

		log.Printf("Connected to database")

		ctx := cmd.Context()
		if err := migrateDatabase(ctx, db); err != nil {
			return err
		}

		srv, err := buildServer(cfg, db)
		if err != nil {
			return err
		}

		httpSrv := &http.Server{
			Addr:         cfg.ServerAddr,
			Handler:      srv.Router(),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		// Start server in goroutine
		serverErrors := make(chan error, 1)
		go func() {
			log.Printf("Starting server on %s", cfg.ServerAddr)
			log.Printf("Issuer: %s", cfg.SelfReferenceURI)
			serverErrors <- httpSrv.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-serverErrors:
			return fmt.Errorf("server error: %w", err)

		case sig := <-shutdown:
			log.Printf("Received signal %v, shutting down gracefully", sig)

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := httpSrv.Shutdown(ctx); err != nil {
				httpSrv.Close()
				return fmt.Errorf("graceful shutdown failed: %w", err)
			}

			log.Printf("Server stopped")
			return nil
		}
	},
}

// buildServer wires every service and handler. Construction order follows
// the dependency chain, with bootstrap running before the server accepts
// traffic.
func buildServer(cfg *config.Config, db *bun.DB) (*server.Server, error) {
	clk := clock.New()
	cryptor := crypto.NewCryptor(cfg.PrivateKeyFile, cfg.PublicKeyFile)

	scopeRepo := repository.NewBunScopeRepository(db)
	roleRepo := repository.NewBunRoleRepository(db)
	userRepo := repository.NewBunUserRepository(db, cryptor)
	clientRepo := repository.NewBunClientRepository(db, cryptor)
	policyRepo := repository.NewBunPolicyRepository(db)
	kv := repository.NewKeyValueStore(db, clk)

	resolver := iam.NewPolicyResolver(clientRepo, roleRepo, userRepo, policyRepo, cfg.SelfReferenceURI)
	tokens := iam.NewTokenService(cryptor, resolver, clk, cfg.SelfReferenceURI, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	clientAuth := iam.NewClientAuthenticator(clientRepo)
	userAuth := iam.NewUserAuthenticator(userRepo, tokens)
	gate := iam.NewGate(tokens)

	coordinator := device.NewCoordinator(kv, clientAuth, tokens, clk,
		cfg.OAuthBaseURL()+"/device-activation", cfg.VerificationTTL)
	sessions := session.NewManager(cryptor, kv, clk, cfg.AccessTokenTTL)
	snapshots := snapshot.NewService(db, cryptor)

	if err := iam.NewBootstrapper(db, cryptor, cfg).Run(context.Background()); err != nil {
		return nil, fmt.Errorf("bootstrap failed: %w", err)
	}

	serverMetrics, err := telemetry.NewServerMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to create server metrics: %w", err)
	}
	authMetrics, err := telemetry.NewAuthMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to create auth metrics: %w", err)
	}

	return server.New(server.Options{
		Cfg:         cfg,
		Gate:        gate,
		Tokens:      tokens,
		Clients:     clientAuth,
		Users:       userAuth,
		Device:      coordinator,
		Sessions:    sessions,
		Snapshot:    snapshots,
		Clock:       clk,
		ScopeRepo:   scopeRepo,
		RoleRepo:    roleRepo,
		UserRepo:    userRepo,
		ClientRepo:  clientRepo,
		PolicyRepo:  policyRepo,
		Metrics:     serverMetrics,
		AuthMetrics: authMetrics,
	}), nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
