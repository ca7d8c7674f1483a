// Package cmd holds the storectl commands.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/ariefcatur/go-storefront/internal/config"
	"github.com/ariefcatur/go-storefront/internal/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var dsn string

var rootCmd = &cobra.Command{
	Use:   "storectl",
	Short: "Storefront maintenance tool",
	Long: `storectl manages the storefront database: it applies the schema
and loads a sample catalog for local development.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", "", "Postgres DSN (defaults to POSTGRES_DSN / storefront.yaml)")
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func connect(ctx context.Context) (*pgxpool.Pool, error) {
	_ = godotenv.Load()
	target := dsn
	if target == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		target = cfg.PostgresDSN
	}
	db, err := postgres.Connect(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}
