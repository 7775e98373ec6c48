package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ovaphlow/pitchfork/service-buro/internal/bureau"
	"github.com/ovaphlow/pitchfork/service-buro/internal/bureau/generator"
	"github.com/ovaphlow/pitchfork/service-buro/internal/bureau/repo"
	"github.com/ovaphlow/pitchfork/service-buro/internal/upstream"
	"github.com/ovaphlow/pitchfork/service-buro/pkg/database"
	"github.com/ovaphlow/pitchfork/service-buro/pkg/utilities"
)

// env bundles what every command needs; close releases the database.
type env struct {
	svc   *bureau.Service
	pg    *repo.PostgresStore
	close func()
}

func setup(ctx context.Context) (*env, error) {
	logCfg := utilities.ConfigFromEnv()
	if os.Getenv("LOG_LEVEL") == "" {
		logCfg.Level = "warn"
	}
	lg, err := utilities.Init(logCfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	sugar := lg.Sugar()

	cfg, err := bureau.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if cfg.StoreDriver != "postgres" {
		return nil, fmt.Errorf("buroctl needs STORE_DRIVER=postgres, got %q", cfg.StoreDriver)
	}
	db, err := database.Connect(database.ConfigFromEnv())
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	pg := repo.NewPostgresStore(db)
	dir := upstream.NewClient(upstream.ConfigFromEnv(), nil)
	svc := bureau.NewService(pg, dir, generator.New(cfg.Generator), cfg.Probes, sugar)
	return &env{
		svc: svc,
		pg:  pg,
		close: func() {
			_ = db.Close()
			_ = lg.Sync()
		},
	}, nil
}

// run wires signal handling and the shared environment around fn.
func run(cmd *cobra.Command, fn func(ctx context.Context, e *env) (any, error)) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := setup(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	out, err := fn(ctx, e)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func printJSON(w io.Writer, v any) error {
	if v == nil {
		return nil
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func queryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "query [cedula]",
		Short: "Score a person from the stored records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, e *env) (any, error) {
				return e.svc.Query(ctx, args[0])
			})
		},
	}
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Generate internal records for every core person without data",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, e *env) (any, error) {
				return e.svc.BulkSync(ctx)
			})
		},
	}
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Mirror internal records into the external collections",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, e *env) (any, error) {
				return e.svc.Reconcile(ctx)
			})
		},
	}
}

func countCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Count the persons listed by the core directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, e *env) (any, error) {
				return e.svc.CountUpstream(ctx)
			})
		},
	}
}

func generateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate [cedula]",
		Short: "Fill missing internal and external records of one person",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, e *env) (any, error) {
				return e.svc.GenerateMock(ctx, args[0])
			})
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the record tables when missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, e *env) (any, error) {
				if err := e.pg.EnsureTables(ctx); err != nil {
					return nil, err
				}
				fmt.Fprintln(cmd.ErrOrStderr(), "tables ready")
				return nil, nil
			})
		},
	}
}
