package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ovaphlow/pitchfork/service-buro/internal/bureau"
	"github.com/ovaphlow/pitchfork/service-buro/internal/bureau/generator"
	"github.com/ovaphlow/pitchfork/service-buro/internal/bureau/repo"
	"github.com/ovaphlow/pitchfork/service-buro/internal/router"
	"github.com/ovaphlow/pitchfork/service-buro/internal/upstream"
	"github.com/ovaphlow/pitchfork/service-buro/pkg/database"
	"github.com/ovaphlow/pitchfork/service-buro/pkg/utilities"
)

func main() {
	// load .env file if present so os.Getenv picks values from it
	_ = godotenv.Load()

	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("starting service-buro")

	cfg, err := bureau.ConfigFromEnv()
	if err != nil {
		sugar.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store repo.Store
	switch cfg.StoreDriver {
	case "memory":
		sugar.Warn("using in-memory store; records are lost on exit")
		store = repo.NewMemoryStore()
	default:
		db, err := database.Connect(database.ConfigFromEnv())
		if err != nil {
			sugar.Fatalf("db connect: %v", err)
		}
		defer db.Close()
		pg := repo.NewPostgresStore(db)
		if err := pg.EnsureTables(ctx); err != nil {
			sugar.Fatalf("ensure tables: %v", err)
		}
		store = pg
	}

	dir := upstream.NewClient(upstream.ConfigFromEnv(), nil)
	svc := bureau.NewService(store, dir, generator.New(cfg.Generator), cfg.Probes, sugar)
	sugar.Infow("bureau configured", "store", cfg.StoreDriver, "probes", cfg.Probes, "admin_key", cfg.AdminKeyHash != "")

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = "0.0.0.0:8431"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.RegisterRoutes(sugar, bureau.NewHandler(svc, sugar), cfg.AdminKeyHash),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()
	sugar.Infow("service is running; press Ctrl+C to stop", "addr", addr)

	<-ctx.Done()

	sugar.Info("shutting down")

	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}

	sugar.Info("goodbye")
}
