package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/charlieegan3/social-relay/internal/accounts"
	"github.com/charlieegan3/social-relay/internal/auth"
	"github.com/charlieegan3/social-relay/internal/config"
	"github.com/charlieegan3/social-relay/internal/graph"
	"github.com/charlieegan3/social-relay/internal/handlers"
	"github.com/charlieegan3/social-relay/internal/policy"
	"github.com/charlieegan3/social-relay/internal/relay"
	"github.com/charlieegan3/social-relay/internal/store/mongo"
	"github.com/charlieegan3/social-relay/internal/store/sqlite"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to the YAML config file (default $"+config.EnvConfig+")")
		listen     = flag.String("listen", "", "address to listen on, overrides the config file")
		engine     = flag.String("policy", "", "policy engine: golang, rego, polar or cue")
		logLevel   = flag.String("log-level", "", "log level, overrides the config file")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load config")
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *engine != "" {
		cfg.Policy.Engine = *engine
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		logrus.WithError(err).Fatal("Invalid config")
	}

	if err := configureLogging(cfg.Log); err != nil {
		logrus.WithError(err).Fatal("Invalid log config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logrus.WithError(err).Fatal("Server failed")
	}
}

func configureLogging(cfg config.LogConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)

	switch cfg.Format {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return nil
}

// backend is the store the services share
type backend interface {
	accounts.Store
	graph.Store
	relay.MessageStore
	io.Closer
}

func openStore(ctx context.Context, cfg config.StoreConfig) (backend, error) {
	if cfg.Driver == "mongo" {
		s, err := mongo.Open(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return nil, err
		}
		return s, nil
	}

	s, err := sqlite.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	authz, err := policy.New(cfg.Policy.Engine)
	if err != nil {
		return err
	}

	authn := auth.NewAuthenticator(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	graphService := graph.NewService(store, authz)

	if _, err := graphService.Repair(ctx); err != nil {
		return fmt.Errorf("repairing friend requests: %w", err)
	}

	router := handlers.NewRouter(handlers.Services{
		Authn:      authn,
		Accounts:   accounts.NewService(store, authn),
		Graph:      graphService,
		Relay:      relay.New(store, graphService, relay.NewRegistry()),
		SendBuffer: cfg.Relay.SendBuffer,
	})

	srv := &http.Server{
		Handler:           router,
		Addr:              cfg.Listen,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		logrus.WithFields(logrus.Fields{
			"listen": cfg.Listen,
			"store":  cfg.Store.Driver,
			"policy": cfg.Policy.Engine,
		}).Info("server started")
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logrus.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
