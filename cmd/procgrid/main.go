// Package main is the entry point for the ProcGrid catalog service.
// It loads configuration, wires the catalog to its backends, and exposes
// the HTTP server plus maintenance commands.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"procgrid/internal/config"
	"procgrid/internal/database"
	"procgrid/internal/handlers"
	"procgrid/internal/router"
)

// maintenanceActor is recorded as the actor for CLI-driven repairs.
const maintenanceActor = "procgrid-cli"

func main() {
	cmd := &cli.Command{
		Name:  "procgrid",
		Usage: "category tree manager for the procurement catalog",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env-file",
				Value: ".env",
				Usage: "optional dotenv file loaded before reading the environment",
			},
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API",
				Action: serve,
			},
			{
				Name:  "migrate",
				Usage: "apply pending database migrations",
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig(c)
					if err != nil {
						return err
					}
					db, err := database.Connect(cfg.DSN())
					if err != nil {
						return fmt.Errorf("connect to database: %w", err)
					}
					defer db.Close()
					return database.Migrate(db)
				},
			},
			{
				Name:  "seed",
				Usage: "insert the sample category tree when the catalog is empty",
				Action: func(ctx context.Context, c *cli.Command) error {
					return withApp(c, func(a *app) error {
						return database.Seed(ctx, a.svc)
					})
				},
			},
			{
				Name:  "rebuild-hierarchy",
				Usage: "recompute level and path for every root",
				Action: func(ctx context.Context, c *cli.Command) error {
					return withApp(c, func(a *app) error {
						n, err := a.svc.RebuildHierarchy(ctx, maintenanceActor)
						if err != nil {
							return err
						}
						slog.Info("hierarchy rebuilt", "roots_fixed", n)
						return nil
					})
				},
			},
			{
				Name:  "repair-hierarchy",
				Usage: "recompute paths, reattach orphans and fix counters",
				Action: func(ctx context.Context, c *cli.Command) error {
					return withApp(c, func(a *app) error {
						report, err := a.svc.RepairHierarchy(ctx, maintenanceActor)
						if err != nil {
							return err
						}
						slog.Info("hierarchy repaired",
							"scanned", report.Scanned,
							"paths_fixed", report.PathsFixed,
							"counters_fixed", report.CountersFixed,
							"orphans", report.Orphans,
						)
						return nil
					})
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// loadConfig reads the dotenv file and environment, then sets up the
// process logger for the configured environment.
func loadConfig(c *cli.Command) (*config.Config, error) {
	setupLogger("development")
	if err := config.LoadDotEnv(c.String("env-file")); err != nil {
		return nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	setupLogger(cfg.Env)
	slog.Info("configuration loaded", "env", cfg.Env, "addr", cfg.Addr())
	return cfg, nil
}

// setupLogger outputs JSON in production, text elsewhere.
func setupLogger(env string) {
	var h slog.Handler
	if env == "production" {
		h = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		h = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	slog.SetDefault(slog.New(h))
}

// withApp runs fn against a fully wired app, migrating Postgres first.
func withApp(c *cli.Command, fn func(a *app) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, true)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}

func serve(ctx context.Context, c *cli.Command) error {
	return withApp(c, func(a *app) error {
		// Seed development data (no-op if data already exists).
		if a.cfg.IsDev() {
			if err := database.Seed(ctx, a.svc); err != nil {
				return fmt.Errorf("seed catalog: %w", err)
			}
		}

		r := router.New(router.Options{
			ActorHeader: a.cfg.ActorHeader,
			Limiter:     a.rateLimiter(),
			Categories:  handlers.NewCategories(a.svc),
			Admin:       handlers.NewAdmin(a.svc, a.cacheLogReader()),
		})

		srv := &http.Server{
			Addr:         a.cfg.Addr(),
			Handler:      r,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			slog.Info("server starting", "addr", a.cfg.Addr())
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		// Graceful shutdown: wait for SIGINT or SIGTERM, then drain connections.
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case err := <-errCh:
			return fmt.Errorf("server failed to start: %w", err)
		case sig := <-quit:
			slog.Info("shutdown signal received", "signal", sig)
		}

		// Give active requests up to 30 seconds to complete.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}

		slog.Info("server stopped gracefully")
		return nil
	})
}
