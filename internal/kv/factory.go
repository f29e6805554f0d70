package kv

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Backend names the Store implementation a deployment wants.
type Backend string

const (
	// BackendMemory keeps all state in-process. Only correct for a
	// single-instance deployment, since the registry, leadership, and
	// queue components assume the store is shared.
	BackendMemory Backend = "memory"
	// BackendRedis shares state across every instance via Redis.
	BackendRedis Backend = "redis"
)

// Config selects and configures a Store backend.
type Config struct {
	Backend Backend
	Redis   RedisConfig
	// SweepInterval is how often the memory backend reclaims expired
	// entries. Ignored by the redis backend, which relies on Redis's own
	// key expiry.
	SweepInterval time.Duration
}

// NewStore constructs the Store named by cfg.Backend.
func NewStore(logger *zap.Logger, cfg Config) (Store, error) {
	logger.Info("initializing kv store", zap.String("backend", string(cfg.Backend)))
	switch cfg.Backend {
	case BackendMemory, "":
		return NewMemoryStore(logger, cfg.SweepInterval), nil
	case BackendRedis:
		return NewRedisStore(logger, cfg.Redis)
	default:
		return nil, fmt.Errorf("kv: unsupported backend %q", cfg.Backend)
	}
}
