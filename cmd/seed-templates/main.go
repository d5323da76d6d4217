// Command seed-templates loads a TOML template catalog into Postgres.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/vista/internal/catalog"
	"github.com/kiranshivaraju/vista/internal/config"
	"github.com/kiranshivaraju/vista/internal/store"
	"github.com/spf13/cobra"
)

type options struct {
	file          string
	databaseURL   string
	migrationsDir string
	dryRun        bool
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "seed-templates",
		Short: "Upsert the template catalog into Postgres",
		Long: `Reads templates from a TOML file and upserts them into the templates table,
applying pending migrations first. With --dry-run the file is only validated.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return seed(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "templates.toml", "Template catalog to load")
	cmd.Flags().StringVar(&opts.databaseURL, "database-url", os.Getenv("DATABASE_URL"), "Postgres connection URL (default $DATABASE_URL)")
	cmd.Flags().StringVar(&opts.migrationsDir, "migrations", "migrations", "Directory holding SQL migrations")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Validate the file without touching the database")
	return cmd
}

func seed(cmd *cobra.Command, opts *options) error {
	templates, err := catalog.ParseFile(opts.file)
	if err != nil {
		return err
	}
	// duplicate ids are rejected the same way the server would
	if _, err := catalog.NewFileCatalog(templates); err != nil {
		return err
	}

	if opts.dryRun {
		fmt.Fprintf(cmd.OutOrStdout(), "%d templates valid in %s\n", len(templates), opts.file)
		return nil
	}
	if opts.databaseURL == "" {
		return errors.New("--database-url or DATABASE_URL is required")
	}

	pool, err := store.Connect(cmd.Context(), config.DatabaseConfig{
		URL:             opts.databaseURL,
		MaxOpenConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if err := store.RunMigrations(opts.databaseURL, opts.migrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	n, err := catalog.NewPostgresCatalog(pool).Upsert(cmd.Context(), templates)
	if err != nil {
		return fmt.Errorf("upsert templates: %w", err)
	}
	slog.Info("templates seeded", "file", opts.file, "count", n)
	fmt.Fprintf(cmd.OutOrStdout(), "%d templates upserted from %s\n", n, opts.file)
	return nil
}
