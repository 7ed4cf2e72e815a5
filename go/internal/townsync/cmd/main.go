package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/agenttown/townsync/go/internal/townsync/config"
	"github.com/agenttown/townsync/go/internal/townsync/connection"
	"github.com/agenttown/townsync/go/internal/townsync/engine"
	"github.com/agenttown/townsync/go/internal/townsync/publisher"
	"github.com/agenttown/townsync/go/internal/townsync/pull"
	"github.com/agenttown/townsync/go/internal/townsync/snapshotcache"
	"github.com/agenttown/townsync/go/internal/townsync/status"
)

func main() {
	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	} else {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("unknown log level, keeping info")
	}

	log.Info().
		Str("channel_url", cfg.Channel.URL).
		Str("api_url", cfg.API.BaseURL).
		Str("status_addr", cfg.Status.Addr).
		Bool("nats", cfg.NATS.URL != "").
		Str("cache", cfg.Cache.Path).
		Msg("starting townsync")

	deps := engine.Deps{
		Connection: cfg.ConnectionConfig(),
		Resync:     cfg.ResyncConfig(),
		Puller:     pull.NewHTTPClient(cfg.API.BaseURL, cfg.Channel.Token, &http.Client{Timeout: cfg.API.Timeout}),
	}
	deps.Dialer = connection.NewWebSocketDialer(deps.Connection)

	if cfg.Cache.Path != "" {
		cache, err := snapshotcache.Open(cfg.Cache.Path)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Cache.Path).Msg("failed to open snapshot cache")
		}
		defer cache.Close()
		deps.Cache = cache
	}

	if cfg.NATS.URL != "" {
		pubCfg := cfg.PublisherConfig()
		nc, err := publisher.Connect(pubCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		defer nc.Close()
		deps.Publisher = publisher.New(nc, pubCfg.SubjectPrefix)
	}

	svc := engine.New(deps)

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start engine")
	}

	server := status.NewServer(cfg.Status.Addr, cfg.Status.AllowedOrigins, svc)
	server.ReadTimeout = 10 * time.Second
	server.WriteTimeout = 10 * time.Second
	server.IdleTimeout = 120 * time.Second

	go func() {
		log.Info().Str("addr", server.Addr).Msg("status server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("status server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("status server shutdown failed")
	}

	svc.Stop(shutdownCtx)
	cancel()

	log.Info().Msg("townsync shutdown complete")
}
