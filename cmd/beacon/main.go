package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/beacon-im/beacon/internal/api"
	"github.com/beacon-im/beacon/internal/auth"
	"github.com/beacon-im/beacon/internal/config"
	"github.com/beacon-im/beacon/internal/realtime"
	"github.com/beacon-im/beacon/internal/store"
	"github.com/beacon-im/beacon/internal/syncer"
)

func main() {
	// Missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)
	log.Info("beacon server starting", "addr", cfg.ListenAddr)

	db, err := store.New(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	log.Info("database opened", "path", cfg.DatabasePath)

	authSvc := auth.NewService(db, []byte(cfg.JWTSecret), cfg.TokenTTL)

	hub := realtime.NewHub(log)
	go hub.Run()

	router := api.NewRouter(api.Deps{
		Store:          db,
		Auth:           authSvc,
		Encoder:        syncer.NewEncoder(hub, log),
		Hub:            hub,
		Authorizer:     &realtime.MembershipAuthorizer{Store: db},
		MaxMessageSize: cfg.MaxMessageSize,
		Log:            log,
	})

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server listening", "addr", cfg.ListenAddr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info("shutting down", "signal", sig.String())

	hub.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("http shutdown", "error", err)
	}

	log.Info("server stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
