package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"livecast/internal/infrastructure/monitoring"
	signalrelay "livecast/internal/infrastructure/signal"
	"livecast/pkg/config"
	"livecast/pkg/logger"
)

func main() {
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error
	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	relay := signalrelay.NewRelay(signalrelay.RelayConfig{
		PingInterval:      cfg.Relay.PingInterval,
		PongTimeout:       cfg.Relay.PongTimeout,
		WriteTimeout:      cfg.Relay.WriteTimeout,
		RateLimitEnabled:  cfg.RateLimiting.Enabled,
		MessagesPerSecond: cfg.RateLimiting.MessagesPerSecond,
		RateBurst:         cfg.RateLimiting.Burst,
	}, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", relay.HandleWebSocket)
	mux.HandleFunc("/healthz", relay.HealthCheck)
	if cfg.Monitoring.PrometheusEnabled {
		mux.Handle("/metrics", monitoring.Handler())
	}

	srv := &http.Server{
		Addr:    cfg.Relay.Address,
		Handler: mux,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting signaling relay", "address", cfg.Relay.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("relay server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Relay.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during relay shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing relay", "error", closeErr)
		}
	}

	log.Info("relay stopped")
}
