package cmd

import (
	"fmt"
	"os"

	"github.com/miniidp/miniidp/internal/config"
	"github.com/spf13/cobra"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "miniidp",
	Short: "Minimal OAuth 2.0 / OIDC identity provider",
	Long: `miniidp issues tokens through the client_credentials and device
authorization grants, resolves scopes from policies, and manages users,
clients, roles, scopes and policies over an admin REST API.

All configuration comes from MINI_IDP_* environment variables.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		return nil
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
