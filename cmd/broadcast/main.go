package main

import (
	"context"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"
	"livecast/internal/core/services"
	httphandlers "livecast/internal/handlers/http"
	"livecast/internal/infrastructure/media"
	"livecast/internal/infrastructure/middleware"
	"livecast/internal/infrastructure/monitoring"
	repositories "livecast/internal/infrastructure/repositories"
	signalrelay "livecast/internal/infrastructure/signal"
	"livecast/internal/infrastructure/storage"
	webrtcinfra "livecast/internal/infrastructure/webrtc"
	"livecast/pkg/backoff"
	"livecast/pkg/config"
	"livecast/pkg/logger"
	"livecast/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

func main() {
	var (
		configPath    = flag.String("config", "configs/config.yaml", "path to config file")
		broadcasterID = flag.String("broadcaster", "", "participant ID for this broadcaster (required)")
		audioOnly     = flag.Bool("audio-only", false, "capture microphone only")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	if *broadcasterID == "" {
		log.Fatal("missing required -broadcaster flag")
	}

	if cfg.Monitoring.TracingEnabled {
		tp, err := tracing.Init(tracing.Config{
			Enabled:     true,
			ServiceName: "livecast-broadcast",
			JaegerURL:   cfg.Monitoring.JaegerEndpoint,
			Environment: "production",
			SampleRate:  1.0,
		})
		if err != nil {
			log.Warnw("failed to initialize tracing", "error", err)
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tp.Shutdown(ctx); err != nil {
					log.Warnw("error shutting down tracer", "error", err)
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repoFactory := repositories.NewFactory(cfg, log)
	defer repoFactory.Close()

	streamRepo := repoFactory.StreamRepository()
	countStore := repoFactory.ViewerCountStore()

	blobStore, err := newBlobStorage(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to initialize replay storage", "error", err)
	}

	collector := monitoring.NewPrometheusCollector()

	channel := signalrelay.NewChannel(signalrelay.ClientConfig{
		RelayURL:         cfg.Signaling.RelayURL,
		SubscribeTimeout: cfg.Signaling.SubscribeTimeout,
		PublishTimeout:   cfg.Signaling.PublishTimeout,
	}, log)

	transportFactory := webrtcinfra.NewFactory(transportConfig(cfg), log)
	capture := webrtcinfra.NewCapture(webrtcinfra.CaptureConfig{}, log)
	recorder := media.NewRecorder(media.DefaultEncodings(), log)

	streamService := services.NewStreamService(streamRepo, countStore, log)
	tokenService := services.NewTokenService(cfg.Auth.HostTokenSecret, cfg.Auth.HostTokenTTL)

	kind := domain.StreamKindVideo
	if *audioOnly {
		kind = domain.StreamKindAudio
	}

	stream, err := streamService.CreateStream(ctx, domain.ParticipantID(*broadcasterID), kind)
	if err != nil {
		log.Fatalw("failed to create stream", "error", err)
	}

	hostToken, err := tokenService.IssueHostToken(stream.ID, stream.BroadcasterID)
	if err != nil {
		log.Fatalw("failed to issue host token", "error", err)
	}
	log.Infow("stream registered", "stream_id", stream.ID, "host_token", hostToken)

	broadcaster := services.NewBroadcaster(services.BroadcasterConfig{
		AnnounceInterval: cfg.Broadcast.AnnounceInterval,
		GoLiveBurst:      cfg.Broadcast.GoLiveBurst,
		BurstSpacing:     cfg.Broadcast.BurstSpacing,
		SubscribePolicy:  subscribePolicy(cfg),
		RecordingEnabled: cfg.Recording.Enabled,
	}, stream, services.BroadcasterDeps{
		Channel:    channel,
		Transports: transportFactory,
		Capture:    capture,
		Recorder:   recorder,
		Storage:    blobStore,
		Streams:    streamRepo,
		Counts:     countStore,
		Metrics:    collector,
		Logger:     log,
	})

	constraints := domain.CaptureConstraints{
		Audio: true,
		Video: !*audioOnly,
		Width: 1280, Height: 720,
	}
	if state, err := broadcaster.StartCapture(ctx, constraints); err != nil {
		log.Fatalw("capture failed", "state", state, "error", err)
	}
	if err := broadcaster.Start(ctx); err != nil {
		log.Fatalw("failed to start broadcasting", "error", err)
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	if cfg.Monitoring.TracingEnabled {
		router.Use(middleware.TracingMiddleware())
	}

	handler := httphandlers.NewControlHandler(streamService, tokenService, func(id domain.StreamID) *services.Broadcaster {
		if id != stream.ID {
			return nil
		}
		return broadcaster
	})
	handler.SetupRoutes(router)

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(monitoring.Handler()))
	}

	srv := &http.Server{
		Addr:    cfg.Control.Address,
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting control API", "address", cfg.Control.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		log.Fatalw("control API failed", "error", err)
	case <-ctx.Done():
		log.Info("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if result, err := broadcaster.EndStream(shutdownCtx, cfg.Recording.Enabled); err != nil {
		log.Errorw("error ending stream", "error", err)
	} else if result.ReplaySaved {
		log.Infow("replay saved", "url", result.ReplayURL)
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during control API shutdown", "error", err)
	}

	log.Info("broadcast stopped")
}

func newBlobStorage(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) (ports.BlobStorage, error) {
	if cfg.Storage.Backend == "s3" {
		return storage.NewS3Storage(ctx, cfg.Storage.Bucket, cfg.Storage.Prefix, cfg.Storage.PublicBaseURL, log)
	}
	return storage.NewFileStorage(cfg.Storage.Dir, cfg.Storage.PublicBaseURL, log)
}

func transportConfig(cfg *config.Config) webrtcinfra.FactoryConfig {
	out := webrtcinfra.FactoryConfig{}
	for _, s := range cfg.WebRTC.ICEServers {
		out.ICEServers = append(out.ICEServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	if len(out.ICEServers) == 0 {
		out.ICEServers = []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		}
	}
	out.PortRange.Min = cfg.WebRTC.PortRange.Min
	out.PortRange.Max = cfg.WebRTC.PortRange.Max
	return out
}

func subscribePolicy(cfg *config.Config) backoff.Policy {
	return backoff.Policy{
		Base:        time.Second,
		Multiplier:  2.0,
		MaxDelay:    10 * time.Second,
		MaxAttempts: cfg.Signaling.SubscribeRetries,
	}
}
