package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/osvaldoandrade/fpilot/pkg/persistence"

	"github.com/go-redis/redis/v8"
)

// Config holds Redis-specific configuration
type Config struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
}

// Plugin implements PluginPersistence for Redis/KVRocks
type Plugin struct {
	client    *redis.Client
	tz        *time.Location
	retention time.Duration
	ownClient bool
}

// NewPlugin creates a new Redis persistence plugin
func NewPlugin(config persistence.PluginConfig) (persistence.PluginPersistence, error) {
	var cfg Config
	if len(config.Config) > 0 {
		if err := json.Unmarshal(config.Config, &cfg); err != nil {
			return nil, err
		}
	}
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	p := New(client, config)
	p.ownClient = true
	return p, nil
}

// New wraps an existing client. Close leaves a shared client open.
func New(client *redis.Client, config persistence.PluginConfig) *Plugin {
	tz := config.Timezone
	if tz == nil {
		tz = time.UTC
	}
	return &Plugin{client: client, tz: tz, retention: config.RunRetention}
}

// StrategyStorage returns the strategy storage implementation
func (p *Plugin) StrategyStorage() persistence.StrategyStorage {
	return &strategyStorage{rdb: p.client}
}

// ProfileStorage returns the profile storage implementation
func (p *Plugin) ProfileStorage() persistence.ProfileStorage {
	return &profileStorage{rdb: p.client}
}

// RunStorage returns the run storage implementation
func (p *Plugin) RunStorage() persistence.RunStorage {
	return &runStorage{rdb: p.client, tz: p.tz, retention: p.retention}
}

// Client exposes the underlying client for collectors sharing the connection
func (p *Plugin) Client() *redis.Client {
	return p.client
}

// Health checks if Redis is healthy
func (p *Plugin) Health(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close releases the Redis connection when the plugin created it
func (p *Plugin) Close() error {
	if !p.ownClient {
		return nil
	}
	return p.client.Close()
}

func init() {
	persistence.RegisterProvider("redis", NewPlugin)
}
