package repositories

import (
	"livecast/internal/core/ports"
	"livecast/internal/infrastructure/repositories/memory"
	redisrepo "livecast/internal/infrastructure/repositories/redis"
	"livecast/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Factory hands out stream and viewer-count stores backed by Redis when
// it is configured and reachable, falling back to in-memory stores
// otherwise.
type Factory struct {
	useRedis    bool
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

func NewFactory(cfg *config.Config, logger *zap.SugaredLogger) *Factory {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	f := &Factory{logger: logger}

	if !cfg.Redis.Enabled {
		return f
	}

	client, err := redisrepo.NewClient(
		cfg.Redis.Address,
		cfg.Redis.Password,
		cfg.Redis.DB,
		cfg.Redis.PoolSize,
		logger,
	)
	if err != nil {
		logger.Warnw("failed to connect to Redis, falling back to memory stores", "error", err)
		return f
	}

	f.useRedis = true
	f.redisClient = client
	return f
}

func (f *Factory) StreamRepository() ports.StreamRepository {
	if f.useRedis {
		return redisrepo.NewStreamRepository(f.redisClient)
	}
	return memory.NewStreamRepository()
}

func (f *Factory) ViewerCountStore() ports.ViewerCountStore {
	if f.useRedis {
		return redisrepo.NewViewerCountStore(f.redisClient)
	}
	return memory.NewViewerCountStore()
}

func (f *Factory) Close() error {
	if f.redisClient != nil {
		return f.redisClient.Close()
	}
	return nil
}
