package main

import (
	"context"
	"fmt"
	"os"

	"github.com/matchcast/backend/config"
	"github.com/matchcast/backend/internal/database"
	"github.com/matchcast/backend/internal/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Server.Env, cfg.Server.LogLevel)

	root := rootCmd(cfg)
	if err := root.ExecuteContext(logging.Context(logger)); err != nil {
		logger.Fatal().Err(err).Send()
	}
}

func rootCmd(cfg *config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the broadcasts database schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		withDB(cfg, &cobra.Command{Use: "up", Short: "Apply pending migrations"}, func(ctx context.Context, db *database.DB) error {
			zerolog.Ctx(ctx).Info().Msg("running migrations")
			if err := database.RunMigrations(ctx, db.DB); err != nil {
				return err
			}
			zerolog.Ctx(ctx).Info().Msg("migrations completed successfully")
			return nil
		}),
		withDB(cfg, &cobra.Command{Use: "down", Short: "Roll back the latest migration"}, func(ctx context.Context, db *database.DB) error {
			return database.Rollback(ctx, db.DB)
		}),
		withDB(cfg, &cobra.Command{Use: "status", Short: "List applied migrations"}, func(ctx context.Context, db *database.DB) error {
			applied, err := database.Status(ctx, db.DB)
			if err != nil {
				return err
			}
			fmt.Println("\nApplied Migrations:")
			fmt.Println("-------------------")
			for _, m := range applied {
				fmt.Printf("Version %d - Applied at: %s\n", m.Version, m.AppliedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		}),
	)
	return root
}

// withDB connects before running fn and closes the pool afterwards.
func withDB(cfg *config.Config, cmd *cobra.Command, fn func(context.Context, *database.DB) error) *cobra.Command {
	cmd.Args = cobra.NoArgs
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		db, err := database.NewPostgresDB(ctx, cfg.GetDSN())
		if err != nil {
			return err
		}
		defer db.Close()
		return fn(ctx, db)
	}
	return cmd
}
