// Command cloudconnect serves the OAuth connection and token refresh core
// of the production platform backend.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/showdeck/cloudconnect/internal/connection"
	"github.com/showdeck/cloudconnect/internal/oauthflow"
	"github.com/showdeck/cloudconnect/internal/oauthstate"
	"github.com/showdeck/cloudconnect/internal/provider"
	"github.com/showdeck/cloudconnect/internal/refreshjob"
)

// Version is set by the build process
var Version = "dev"

func main() {
	// Optional .env for local development
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal("parsing redis url", zap.Error(err))
	}
	redisClient := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("connecting to redis", zap.Error(err))
	}

	registry := buildRegistry(cfg)
	states := oauthstate.NewRedisStore(redisClient, logger.Named("oauthstate"))
	conns := connection.NewRedisStore(redisClient)
	svc := oauthflow.New(registry, states, conns, cfg.CallbackURL(), logger.Named("oauthflow"))

	// Background maintenance jobs
	jobCtx, stopJobs := context.WithCancel(context.Background())
	sweeper := refreshjob.NewSweeper(registry, conns, svc, cfg.RefreshWindow, cfg.RefreshInterval, logger.Named("sweeper"))
	janitor := refreshjob.NewJanitor(states, cfg.StateSweepInterval, logger.Named("janitor"))
	go sweeper.Start(jobCtx)
	go janitor.Start(jobCtx)

	srv := newServer(cfg, svc, states, conns, registry.OAuth2Names(), logger.Named("http"))

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.Int("port", cfg.Port), zap.String("version", Version))
		serverErrors <- httpServer.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Fatal("server failed", zap.Error(err))

	case sig := <-shutdown:
		logger.Info("starting shutdown", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Error("shutting down server", zap.Error(err))
			if err := httpServer.Close(); err != nil {
				logger.Error("closing server", zap.Error(err))
			}
		}

		stopJobs()

		if err := redisClient.Close(); err != nil {
			logger.Error("closing redis", zap.Error(err))
		}
	}
}

// buildRegistry registers every supported provider. Providers without
// credentials are still registered; they fail at first use with a
// configuration error.
func buildRegistry(cfg Config) *provider.Registry {
	registry := provider.NewRegistry()
	registry.MustRegister(provider.NewBox(provider.Credentials{ClientID: cfg.BoxClientID, ClientSecret: cfg.BoxClientSecret}))
	registry.MustRegister(provider.NewGoogle(provider.Credentials{ClientID: cfg.GoogleClientID, ClientSecret: cfg.GoogleClientSecret}))
	registry.MustRegister(provider.NewDropbox(provider.Credentials{ClientID: cfg.DropboxClientID, ClientSecret: cfg.DropboxClientSecret}))
	registry.MustRegister(provider.NewAirtable(provider.Credentials{ClientID: cfg.AirtableClientID, ClientSecret: cfg.AirtableClientSecret}))
	registry.MustRegister(provider.NewSlack(provider.Credentials{ClientID: cfg.SlackClientID, ClientSecret: cfg.SlackClientSecret}))
	return registry
}

func newLogger(cfg Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Env == "prod" {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}
	if err := zcfg.Level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	return zcfg.Build()
}
