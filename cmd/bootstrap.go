package cmd

import (
	"fmt"

	"github.com/miniidp/miniidp/internal/config"
	"github.com/miniidp/miniidp/internal/crypto"
	"github.com/miniidp/miniidp/internal/db/bunx"
	"github.com/miniidp/miniidp/internal/services/iam"
	"github.com/spf13/cobra"
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Seed predefined scopes, roles, policies and the owner user",
	Long: `Runs the bootstrap sequence against the database and exits. The
bootstrap booting option is implied; data-reset and session-reset still
have to be requested through MINI_IDP_BOOTING_OPTIONS.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := bunx.NewDB(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer bunx.Close(db)

		ctx := cmd.Context()
		if err := migrateDatabase(ctx, db); err != nil {
			return err
		}

		bootCfg := *cfg
		if !bootCfg.HasBootingOption(config.BootOptionBootstrap) {
			bootCfg.BootingOptions = append(bootCfg.BootingOptions, config.BootOptionBootstrap)
		}
		if bootCfg.BootstrapOwner.Name == "" || bootCfg.BootstrapOwner.Email == "" || bootCfg.BootstrapOwner.Password == "" {
			return fmt.Errorf("MINI_IDP_BOOTSTRAP_OWNER_USER_NAME, _EMAIL and _PASSWORD are required")
		}

		cryptor := crypto.NewCryptor(cfg.PrivateKeyFile, cfg.PublicKeyFile)
		return iam.NewBootstrapper(db, cryptor, &bootCfg).Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(bootstrapCmd)
}
