// Package data provides data access layer implementations.
// It holds the window and breaker state stores, the audit log and the downstream forwarder.
package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"HookGuard/internal/conf"
	"HookGuard/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewData,
	NewRedisClient,
	NewCacheClient,
	NewMySQLClient,
	NewStateStore,
	NewWindowStore,
	NewAuditLogger,
	NewLogNotifier,
	NewHTTPForwarder,
)

// State store drivers.
const (
	StateDriverMemory = "memory"
	StateDriverMySQL  = "mysql"
	StateDriverRedis  = "redis"
)

// StateStore mirrors biz.StateStore so the data layer can pick an implementation
// without importing biz.
type StateStore interface {
	GetState(ctx context.Context, key model.BreakerKey) (*model.BreakerRecord, error)
	SetState(ctx context.Context, key model.BreakerKey, record *model.BreakerRecord) error
	DeleteState(ctx context.Context, key model.BreakerKey) error
	GetAllStates(ctx context.Context) (map[model.BreakerKey]*model.BreakerRecord, error)
}

// WindowStore mirrors biz.WindowStore.
type WindowStore interface {
	Slide(ctx context.Context, key string, window time.Duration, max int, now time.Time) (model.WindowDecision, error)
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Data contains all data layer dependencies.
type Data struct {
	redisClient *redis.Client
	db          *gorm.DB
	cache       CacheClient
	// pingRedis is set when a selected driver keeps state in Redis.
	pingRedis bool
}

// NewData creates a new Data instance with all data layer dependencies.
// Redis and MySQL are both optional (graceful degradation).
func NewData(c *conf.Data, gate *conf.Gate, logger log.Logger, rdb *redis.Client, db *gorm.DB, cache CacheClient, audit *AuditLoggerImpl) (*Data, func(), error) {
	helper := log.NewHelper(log.With(logger, "module", "data"))

	if rdb == nil {
		helper.Warn("Redis client is nil, shared windows and redis breaker state are unavailable")
	}
	if err := audit.Migrate(context.Background()); err != nil {
		helper.Warnw("msg", "failed to migrate audit table", "error", err)
	}

	d := &Data{
		redisClient: rdb,
		db:          db,
		cache:       cache,
		pingRedis:   redisInUse(c, gate),
	}
	if rdb != nil && !d.pingRedis {
		helper.Info("Redis is configured but no state or window driver uses it")
	}

	cleanup := func() {
		helper.Info("closing the data resources")
		audit.Close()
	}

	return d, cleanup, nil
}

// Ping reports whether every backend in use answers. Redis counts only when the
// breaker state or rate limit driver selects it.
func (d *Data) Ping(ctx context.Context) error {
	var errs []error
	if d.redisClient != nil && d.pingRedis {
		if err := d.redisClient.Ping(ctx).Err(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if d.db != nil {
		sqlDB, err := d.db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("mysql: %w", err))
		}
	}
	return errors.Join(errs...)
}

func redisInUse(c *conf.Data, gate *conf.Gate) bool {
	if c != nil && c.StateStore != nil && c.StateStore.Driver == StateDriverRedis {
		return true
	}
	return gate != nil && gate.RateLimit != nil && gate.RateLimit.Backend == "redis"
}

// GetCache returns the cache client for repository use.
func (d *Data) GetCache() CacheClient {
	return d.cache
}

// NewStateStore selects the breaker state store from c.StateStore.Driver.
// The durable drivers are fronted by a CachedStateStore.
func NewStateStore(c *conf.Data, db *gorm.DB, rdb *redis.Client, cache CacheClient, logger log.Logger) (StateStore, error) {
	helper := log.NewHelper(log.With(logger, "module", "data/state"))

	driver, size, ttl := StateDriverMemory, 0, time.Duration(0)
	if c != nil && c.StateStore != nil {
		if c.StateStore.Driver != "" {
			driver = c.StateStore.Driver
		}
		size, ttl = c.StateStore.CacheSize, c.StateStore.CacheTTL
	}

	switch driver {
	case StateDriverMemory:
		helper.Info("breaker state kept in process memory")
		return NewMemoryStateStore(), nil
	case StateDriverMySQL:
		if db == nil {
			return nil, fmt.Errorf("state store driver %q requires data.database.source", driver)
		}
		backend := NewGormStateBackend(db, logger)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := backend.Migrate(ctx); err != nil {
			return nil, err
		}
		helper.Infow("msg", "breaker state stored in MySQL", "cache_size", size, "cache_ttl", ttl)
		return NewCachedStateStore(backend, size, ttl, logger), nil
	case StateDriverRedis:
		if rdb == nil {
			return nil, fmt.Errorf("state store driver %q requires data.redis.addr", driver)
		}
		helper.Infow("msg", "breaker state stored in Redis", "cache_size", size, "cache_ttl", ttl)
		return NewCachedStateStore(NewRedisStateBackend(cache, logger), size, ttl, logger), nil
	default:
		return nil, fmt.Errorf("unknown state store driver %q", driver)
	}
}

// NewWindowStore selects the rate limit window store from c.RateLimit.Backend.
// The Redis store needs a client; without one the memory store is used.
func NewWindowStore(c *conf.Gate, rdb *redis.Client, logger log.Logger) WindowStore {
	local := newMemoryWindowStoreFromConf(c)
	if c == nil || c.RateLimit == nil || c.RateLimit.Backend != "redis" {
		return local
	}
	if rdb == nil {
		log.NewHelper(logger).Warn("rate limit backend redis requested without a Redis client, using memory")
		return local
	}
	return NewRedisWindowStore(rdb, local, logger)
}
