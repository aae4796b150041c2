package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Relay struct {
		Address         string        `yaml:"address"`
		PingInterval    time.Duration `yaml:"ping_interval"`
		PongTimeout     time.Duration `yaml:"pong_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"relay"`

	Signaling struct {
		RelayURL         string        `yaml:"relay_url"`
		SubscribeTimeout time.Duration `yaml:"subscribe_timeout"`
		PublishTimeout   time.Duration `yaml:"publish_timeout"`
		SubscribeRetries int           `yaml:"subscribe_retries"`
	} `yaml:"signaling"`

	WebRTC struct {
		ICEServers []struct {
			URLs       []string `yaml:"urls"`
			Username   string   `yaml:"username,omitempty"`
			Credential string   `yaml:"credential,omitempty"`
		} `yaml:"ice_servers"`
		PortRange struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
	} `yaml:"webrtc"`

	// Session tunes the per-peer connection state machine. The
	// disconnected path recovers faster than the failed path on purpose:
	// a transient drop should not pay the hard-failure penalty.
	Session struct {
		MaxAttempts  int `yaml:"max_attempts"`
		Disconnected struct {
			Base       time.Duration `yaml:"base"`
			Multiplier float64       `yaml:"multiplier"`
			MaxDelay   time.Duration `yaml:"max_delay"`
		} `yaml:"disconnected"`
		Failed struct {
			Base       time.Duration `yaml:"base"`
			Multiplier float64       `yaml:"multiplier"`
			MaxDelay   time.Duration `yaml:"max_delay"`
		} `yaml:"failed"`
	} `yaml:"session"`

	Broadcast struct {
		AnnounceInterval time.Duration `yaml:"announce_interval"`
		GoLiveBurst      int           `yaml:"go_live_burst"`
		BurstSpacing     time.Duration `yaml:"burst_spacing"`
	} `yaml:"broadcast"`

	Viewer struct {
		InitialOfferDelay   time.Duration `yaml:"initial_offer_delay"`
		OfferResendInterval time.Duration `yaml:"offer_resend_interval"`
		MaxOfferResends     int           `yaml:"max_offer_resends"`
	} `yaml:"viewer"`

	Recording struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"recording"`

	Storage struct {
		Backend       string `yaml:"backend"` // "file" or "s3"
		Dir           string `yaml:"dir"`
		Bucket        string `yaml:"bucket"`
		Prefix        string `yaml:"prefix"`
		PublicBaseURL string `yaml:"public_base_url"`
	} `yaml:"storage"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Monitoring struct {
		PrometheusEnabled bool   `yaml:"prometheus_enabled"`
		PrometheusAddress string `yaml:"prometheus_address"`
		JaegerEndpoint    string `yaml:"jaeger_endpoint"`
		TracingEnabled    bool   `yaml:"tracing_enabled"`
	} `yaml:"monitoring"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`

	Auth struct {
		HostTokenSecret string        `yaml:"host_token_secret"`
		HostTokenTTL    time.Duration `yaml:"host_token_ttl"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled           bool    `yaml:"enabled"`
		MessagesPerSecond float64 `yaml:"messages_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"rate_limiting"`

	Control struct {
		Address string `yaml:"address"`
	} `yaml:"control"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Relay.Address == "" {
		return fmt.Errorf("relay.address must not be empty")
	}
	if c.Relay.PingInterval <= 0 {
		return fmt.Errorf("relay.ping_interval must be > 0")
	}
	if c.Relay.PongTimeout <= 0 {
		return fmt.Errorf("relay.pong_timeout must be > 0")
	}

	if c.Signaling.SubscribeTimeout <= 0 {
		return fmt.Errorf("signaling.subscribe_timeout must be > 0")
	}
	if c.Signaling.SubscribeRetries < 0 {
		return fmt.Errorf("signaling.subscribe_retries must be >= 0")
	}

	if c.WebRTC.PortRange.Min > 0 || c.WebRTC.PortRange.Max > 0 {
		if c.WebRTC.PortRange.Min == 0 || c.WebRTC.PortRange.Max == 0 {
			return fmt.Errorf("webrtc.port_range.min and max must both be set when one is set")
		}
		if c.WebRTC.PortRange.Min >= c.WebRTC.PortRange.Max {
			return fmt.Errorf("webrtc.port_range.min must be < max")
		}
	}

	if c.Session.MaxAttempts <= 0 {
		return fmt.Errorf("session.max_attempts must be > 0")
	}
	if c.Session.Disconnected.Base <= 0 || c.Session.Disconnected.Multiplier < 1 {
		return fmt.Errorf("session.disconnected backoff must have base > 0 and multiplier >= 1")
	}
	if c.Session.Failed.Base <= 0 || c.Session.Failed.Multiplier < 1 {
		return fmt.Errorf("session.failed backoff must have base > 0 and multiplier >= 1")
	}

	if c.Broadcast.AnnounceInterval <= 0 {
		return fmt.Errorf("broadcast.announce_interval must be > 0")
	}
	if c.Broadcast.GoLiveBurst < 1 {
		return fmt.Errorf("broadcast.go_live_burst must be >= 1")
	}

	if c.Viewer.InitialOfferDelay < 0 {
		return fmt.Errorf("viewer.initial_offer_delay must be >= 0")
	}
	if c.Viewer.OfferResendInterval <= 0 {
		return fmt.Errorf("viewer.offer_resend_interval must be > 0")
	}
	if c.Viewer.MaxOfferResends < 0 {
		return fmt.Errorf("viewer.max_offer_resends must be >= 0")
	}

	switch c.Storage.Backend {
	case "file":
		if c.Storage.Dir == "" {
			return fmt.Errorf("storage.dir must not be empty when storage.backend=file")
		}
	case "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must not be empty when storage.backend=s3")
		}
	default:
		return fmt.Errorf("storage.backend must be \"file\" or \"s3\", got %q", c.Storage.Backend)
	}

	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	if c.Auth.HostTokenSecret == "" {
		return fmt.Errorf("auth.host_token_secret must not be empty")
	}

	if c.RateLimiting.Enabled {
		if c.RateLimiting.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Burst <= 0 {
			return fmt.Errorf("rate_limiting.burst must be > 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from a YAML file, applies defaults and env
// overrides. A missing file falls back to defaults.
func Load(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults. The timing
// values are tuning knobs, not protocol constants.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Relay.Address = ":8081"
	cfg.Relay.PingInterval = 30 * time.Second
	cfg.Relay.PongTimeout = 60 * time.Second
	cfg.Relay.WriteTimeout = 10 * time.Second
	cfg.Relay.ShutdownTimeout = 30 * time.Second

	cfg.Signaling.RelayURL = "ws://localhost:8081/ws"
	cfg.Signaling.SubscribeTimeout = 10 * time.Second
	cfg.Signaling.PublishTimeout = 5 * time.Second
	cfg.Signaling.SubscribeRetries = 3

	cfg.Session.MaxAttempts = 5
	cfg.Session.Disconnected.Base = 2 * time.Second
	cfg.Session.Disconnected.Multiplier = 1.5
	cfg.Session.Disconnected.MaxDelay = 15 * time.Second
	cfg.Session.Failed.Base = time.Second
	cfg.Session.Failed.Multiplier = 2.0
	cfg.Session.Failed.MaxDelay = 10 * time.Second

	cfg.Broadcast.AnnounceInterval = 3 * time.Second
	cfg.Broadcast.GoLiveBurst = 3
	cfg.Broadcast.BurstSpacing = 500 * time.Millisecond

	cfg.Viewer.InitialOfferDelay = 300 * time.Millisecond
	cfg.Viewer.OfferResendInterval = 2 * time.Second
	cfg.Viewer.MaxOfferResends = 3

	cfg.Recording.Enabled = true

	cfg.Storage.Backend = "file"
	cfg.Storage.Dir = "replays"
	cfg.Storage.Prefix = "replays"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.PrometheusAddress = ":9090"
	cfg.Monitoring.JaegerEndpoint = "http://localhost:14268/api/traces"
	cfg.Monitoring.TracingEnabled = false

	cfg.Logging.Level = "info"

	cfg.Auth.HostTokenSecret = "change-me-in-production"
	cfg.Auth.HostTokenTTL = 12 * time.Hour

	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.MessagesPerSecond = 50
	cfg.RateLimiting.Burst = 100

	cfg.Control.Address = ":8080"

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("LIVECAST_RELAY_ADDRESS"); addr != "" {
		c.Relay.Address = addr
	}
	if url := os.Getenv("LIVECAST_RELAY_URL"); url != "" {
		c.Signaling.RelayURL = url
	}
	if level := os.Getenv("LIVECAST_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("LIVECAST_HOST_TOKEN_SECRET"); secret != "" {
		c.Auth.HostTokenSecret = secret
	}
	if addr := os.Getenv("LIVECAST_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
	}
}
