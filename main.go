package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/IvanShepeta/CRMconnector/internal/agent"
	"github.com/IvanShepeta/CRMconnector/internal/core"
	"github.com/IvanShepeta/CRMconnector/internal/crm"
	"github.com/IvanShepeta/CRMconnector/internal/gateway"
	"github.com/IvanShepeta/CRMconnector/internal/server"
	"github.com/IvanShepeta/CRMconnector/internal/store"
	logx "github.com/IvanShepeta/CRMconnector/pkg/logger"
	pkgredis "github.com/IvanShepeta/CRMconnector/pkg/redis"
)

// AppConfig defines all configurable parameters for the service, sourced
// from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	// Infrastructure
	Redis  pkgredis.Config
	Server server.Config

	// Upstreams
	Agent agent.Config
	CRM   crm.Config
}

func main() {
	// Load .env file
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("Failed to process environment config: %v", err)
	}

	logx.Init(logx.LoggerOpts{Environment: core.ParseEnvironment(cfg.Environment)})

	rdb, err := cfg.Redis.New()
	if err != nil {
		logx.Fatal().Err(err).Msg("failed to initialise Redis client")
	}
	defer rdb.Close()
	logx.Info().Msg("connected to Redis")

	st := store.NewRedisStore(rdb)

	crmClient := crm.NewClient(cfg.CRM)
	mgr := agent.NewManager(cfg.Agent, st, crm.Tools(crmClient, st))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := mgr.Initialize(ctx); err != nil {
		logx.Fatal().Err(err).Msg("failed to initialise agent manager")
	}
	defer mgr.Shutdown()

	registry := gateway.NewRegistry(st)
	coordinator := gateway.NewCoordinator(registry, st, mgr)
	srv := server.New(registry, coordinator, mgr, st)

	httpSrv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Handler(),
	}

	go func() {
		logx.Info().Str("addr", cfg.Server.Addr).Msg("http server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logx.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logx.Error().Err(err).Msg("http shutdown failed")
		os.Exit(1)
	}
}
