package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"livecast/internal/core/domain"
	"livecast/internal/core/services"
	"livecast/internal/infrastructure/monitoring"
	repositories "livecast/internal/infrastructure/repositories"
	signalrelay "livecast/internal/infrastructure/signal"
	webrtcinfra "livecast/internal/infrastructure/webrtc"
	"livecast/pkg/backoff"
	"livecast/pkg/config"
	"livecast/pkg/logger"

	"github.com/pion/webrtc/v3"
)

func main() {
	var (
		configPath = flag.String("config", "configs/config.yaml", "path to config file")
		viewerID   = flag.String("viewer", "", "participant ID for this viewer (required)")
		streamID   = flag.String("stream", "", "stream ID to watch (required)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	if *viewerID == "" || *streamID == "" {
		log.Fatal("missing required -viewer or -stream flag")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repoFactory := repositories.NewFactory(cfg, log)
	defer repoFactory.Close()

	channel := signalrelay.NewChannel(signalrelay.ClientConfig{
		RelayURL:         cfg.Signaling.RelayURL,
		SubscribeTimeout: cfg.Signaling.SubscribeTimeout,
		PublishTimeout:   cfg.Signaling.PublishTimeout,
	}, log)

	var iceServers []webrtc.ICEServer
	for _, s := range cfg.WebRTC.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	if len(iceServers) == 0 {
		iceServers = []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		}
	}
	factoryCfg := webrtcinfra.FactoryConfig{ICEServers: iceServers}
	factoryCfg.PortRange.Min = cfg.WebRTC.PortRange.Min
	factoryCfg.PortRange.Max = cfg.WebRTC.PortRange.Max
	transportFactory := webrtcinfra.NewFactory(factoryCfg, log)

	viewer := services.NewViewer(services.ViewerConfig{
		InitialOfferDelay:   cfg.Viewer.InitialOfferDelay,
		OfferResendInterval: cfg.Viewer.OfferResendInterval,
		MaxOfferResends:     cfg.Viewer.MaxOfferResends,
		MaxAttempts:         cfg.Session.MaxAttempts,
		Disconnected: backoff.Policy{
			Base:       cfg.Session.Disconnected.Base,
			Multiplier: cfg.Session.Disconnected.Multiplier,
			MaxDelay:   cfg.Session.Disconnected.MaxDelay,
		},
		Failed: backoff.Policy{
			Base:       cfg.Session.Failed.Base,
			Multiplier: cfg.Session.Failed.Multiplier,
			MaxDelay:   cfg.Session.Failed.MaxDelay,
		},
		SubscribePolicy: backoff.Policy{
			Base:        time.Second,
			Multiplier:  2.0,
			MaxDelay:    10 * time.Second,
			MaxAttempts: cfg.Signaling.SubscribeRetries,
		},
	}, domain.StreamID(*streamID), domain.ParticipantID(*viewerID), services.ViewerDeps{
		Channel:    channel,
		Transports: transportFactory,
		Streams:    repoFactory.StreamRepository(),
		Counts:     repoFactory.ViewerCountStore(),
		Metrics:    monitoring.NewPrometheusCollector(),
		Logger:     log,
	})

	// The stream may still be a draft; keep checking until it goes live.
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		if err := viewer.Connect(ctx); err != nil {
			log.Fatalw("failed to connect", "error", err)
		}
		if viewer.Phase() != domain.PhaseWaiting {
			break
		}
		log.Info("stream is not live yet, waiting")
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}

	log.Infow("connected to stream", "stream_id", *streamID)

	phaseTicker := time.NewTicker(time.Second)
	defer phaseTicker.Stop()
	lastPhase := viewer.Phase()
	for {
		select {
		case <-ctx.Done():
			viewer.Disconnect(context.Background())
			log.Info("viewer stopped")
			return
		case <-phaseTicker.C:
			phase := viewer.Phase()
			if phase != lastPhase {
				log.Infow("phase changed", "from", lastPhase, "to", phase)
				lastPhase = phase
			}
			if phase == domain.PhaseFailed {
				log.Errorw("connection failed permanently", "error", viewer.Err())
				viewer.Disconnect(context.Background())
				return
			}
		}
	}
}
