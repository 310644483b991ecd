// Package main runs the library lending service: the REST API plus the
// scheduled overdue sweep.
package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"

	app "github.com/openshelf/library-service/internal/app"
	"github.com/openshelf/library-service/internal/app/httpapi"
	"github.com/openshelf/library-service/internal/app/storage/postgres"
	"github.com/openshelf/library-service/internal/config"
	"github.com/openshelf/library-service/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.NewDefault("libraryserver").WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}

	cfg.Logging.Component = "libraryserver"
	log := logger.New(cfg.Logging)

	var stores app.Stores
	if cfg.Database.DSN != "" {
		db, err := sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			log.WithError(err).Error("failed to open database")
			os.Exit(1)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			log.WithError(err).Error("database unreachable")
			os.Exit(1)
		}
		store := postgres.New(db)
		stores = app.Stores{Books: store, Users: store, Loans: store, Config: store}
		log.Info("using postgres storage")
	} else {
		log.Warn("no database DSN configured; using in-memory storage")
	}

	if cfg.Auth.JWTSecret == "" {
		log.Warn("no JWT secret configured; tokens will not survive restarts")
	}

	application, err := app.New(app.Options{
		Stores:        stores,
		JWTSecret:     cfg.Auth.JWTSecret,
		SweepSchedule: cfg.Sweep.Schedule,
		SweepDisabled: !cfg.Sweep.Enabled,
		Logger:        log,
	})
	if err != nil {
		log.WithError(err).Error("failed to build application")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start background services")
		os.Exit(1)
	}

	router := httpapi.NewRouter(application, httpapi.Options{
		RateLimit: cfg.Server.RateLimit,
		RateBurst: cfg.Server.RateBurst,
		Logger:    log,
	})
	server := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("library service listening")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.WithError(err).Error("server error")
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown error")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("background services stop error")
	}
	log.Info("library service stopped")
}
