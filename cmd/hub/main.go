// Command hub runs wisp's Session Hub: the authenticated routing server
// peers connect to over a single framed WebSocket (spec §4.7).
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/wisp-chat/wisp/internal/api"
	"github.com/wisp-chat/wisp/internal/config"
	"github.com/wisp-chat/wisp/internal/hub"
	"github.com/wisp-chat/wisp/internal/observability"
	"github.com/wisp-chat/wisp/pkg/version"
)

func main() {
	cfg, err := config.Load(os.Getenv("WISP_HUB_CONFIG"))
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.LoggerConfig{
		Level:        cfg.GetLogLevel(),
		Format:       cfg.Logging.Format,
		OutputPath:   cfg.Logging.OutputPath,
		EnableCaller: cfg.Logging.EnableCaller,
		Service:      "wisp-hub",
		Version:      version.Version,
	})

	logger.Info().
		Str("version", version.Version).
		Str("git_commit", version.GitCommit).
		Str("platform", version.Platform).
		Msg("starting wisp session hub")

	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker(logger, version.Version)

	var presence *hub.RedisPresence
	if cfg.Presence.Enabled {
		presence, err = hub.NewRedisPresence(hub.PresenceRedisConfig{
			Host: cfg.Presence.Host, Port: cfg.Presence.Port, Password: cfg.Presence.Password,
			DB: cfg.Presence.DB, Channel: cfg.Presence.Channel,
			DialTimeout: cfg.Presence.DialTimeout, ReadTimeout: cfg.Presence.ReadTimeout, WriteTimeout: cfg.Presence.WriteTimeout,
		}, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("presence backplane unavailable — running single-process")
			presence = nil
		} else {
			health.RegisterCheck("presence_redis", observability.RedisHealthCheck(presence.Ping))
			logger.Info().Msg("presence fan-out backplane connected")
		}
	}

	var h *hub.Hub
	if presence != nil {
		h = hub.New(hub.Config{AuthFreshnessWindow: cfg.Security.AuthFreshnessWindow, CallPurgeDelay: cfg.Hub.CallPurgeDelay}, metrics, presence, logger)
	} else {
		h = hub.New(hub.Config{AuthFreshnessWindow: cfg.Security.AuthFreshnessWindow, CallPurgeDelay: cfg.Hub.CallPurgeDelay}, metrics, nil, logger)
	}

	if cfg.Bootstrap.Enabled {
		bootstrapURL := fmt.Sprintf("ws://%s:%d%s", cfg.Hub.Host, cfg.Hub.Port, cfg.Hub.Path)
		mgr, err := hub.NewBootstrapManager(cfg.Bootstrap.Secret, bootstrapURL, cfg.Bootstrap.TLSFingerprint, cfg.Bootstrap.TokenTTL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize bootstrap manager")
		}
		h.SetBootstrap(mgr)
		logger.Info().Msg("device-pairing bootstrap endpoint enabled")
	}

	presenceCtx, presenceCancel := context.WithCancel(context.Background())
	defer presenceCancel()
	if presence != nil {
		go func() {
			if err := presence.Run(presenceCtx, h.ApplyRemoteStatus); err != nil {
				logger.Error().Err(err).Msg("presence backplane subscription ended")
			}
		}()
	}

	apiServer := api.New(cfg.Hub, h, health, metrics, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("hub HTTP server error: %w", err)
		}
	}()

	logger.Info().Str("host", cfg.Hub.Host).Int("port", cfg.Hub.Port).Str("path", cfg.Hub.Path).Msg("wisp session hub started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error, initiating shutdown")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Hub.ShutdownTimeout)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("hub HTTP server shutdown error")
	} else {
		logger.Info().Msg("hub HTTP server drained and stopped")
	}

	presenceCancel()
	if presence != nil {
		if err := presence.Close(); err != nil {
			logger.Error().Err(err).Msg("presence backplane close error")
		}
	}

	logger.Info().Msg("wisp session hub shut down successfully")
}
