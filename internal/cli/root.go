// Package cli wires the cobra command tree. Commands stay thin: parse
// flags, build the collaborators, delegate.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"flowbench/internal/config"
	"flowbench/internal/logging"
	"flowbench/internal/session"
)

type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

// Execute runs the CLI.
func Execute() error {
	var (
		configPath string
		logLevel   string
		logJSON    bool
	)
	a := &app{}

	root := &cobra.Command{
		Use:           "flowbench",
		Short:         "Integration-test environment harness and control plane",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Optional .env for local development; absence is fine.
			_ = godotenv.Load()

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			if logJSON {
				cfg.Log.JSON = true
			}
			a.cfg = cfg
			a.logger = logging.Setup(cfg.Log.Level, cfg.Log.JSON)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug|info|warn|error)")
	root.PersistentFlags().BoolVar(&logJSON, "log-json", false, "log as JSON")

	root.AddCommand(
		a.serveCmd(),
		a.packsCmd(),
		a.sessionsCmd(),
		a.runnerCmd(),
		a.envCmd(),
		a.scenarioCmd(),
	)
	return root.Execute()
}

// sessionStore builds the configured session store backend.
func (a *app) sessionStore(cmd *cobra.Command) (session.Store, error) {
	switch a.cfg.Stores.Backend {
	case "", "memory":
		return session.NewMemoryStore(), nil
	case "file":
		return session.NewFileStore(a.cfg.Stores.SessionPath)
	case "postgres":
		return a.postgresStore(cmd.Context())
	default:
		return nil, fmt.Errorf("unknown session store backend %q", a.cfg.Stores.Backend)
	}
}

func (a *app) postgresStore(ctx context.Context) (session.Store, error) {
	pool, err := pgxpool.New(ctx, a.cfg.Stores.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("connect to session database: %w", err)
	}
	store := session.NewPostgresStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
