package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/beaconworks/agentrelay/internal/config"
	"github.com/beaconworks/agentrelay/internal/store/pg"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Platform configuration management",
	}
	cmd.AddCommand(configSeedCmd())
	return cmd
}

func configSeedCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Write platform credentials from the environment into the database",
		Long:  "Seeds the durable platform_config rows from environment variables. Existing rows are kept unless --force is given, which overwrites them (credential rotation).",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Database.PostgresDSN == "" {
				return fmt.Errorf("AGENTRELAY_POSTGRES_DSN environment variable is not set")
			}
			stores, db, err := pg.NewPGStores(cfg.Database.PostgresDSN)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			return config.SeedFromEnv(context.Background(), cfg, stores.Config, force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing platform config rows")
	return cmd
}
