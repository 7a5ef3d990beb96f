package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/laserostop/booking-calendar/internal/catalog"
	"github.com/laserostop/booking-calendar/internal/clinictime"
	appconfig "github.com/laserostop/booking-calendar/internal/config"
	"github.com/laserostop/booking-calendar/internal/settings"
	"github.com/laserostop/booking-calendar/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// OpenDatabase connects the pgx pool and a database/sql handle sharing it.
// Both are nil when no DATABASE_URL is configured.
func OpenDatabase(ctx context.Context, cfg *appconfig.Config) (*pgxpool.Pool, *sql.DB, error) {
	if cfg == nil || strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, nil, nil
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	return pool, stdlib.OpenDBFromPool(pool), nil
}

// BuildGrid loads the opening hours, falling back to the embedded schedule.
func BuildGrid(cfg *appconfig.Config) (*clinictime.Grid, error) {
	if cfg == nil || strings.TrimSpace(cfg.ScheduleFile) == "" {
		return clinictime.DefaultGrid(), nil
	}
	grid, err := clinictime.LoadGridFile(cfg.ScheduleFile)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: load schedule: %w", err)
	}
	return grid, nil
}

// DefaultCenter returns the configured fallback center.
func DefaultCenter(cfg *appconfig.Config) (catalog.Center, error) {
	if cfg == nil || cfg.DefaultCenter == "" {
		return catalog.CenterTunis, nil
	}
	center, err := catalog.ParseCenter(cfg.DefaultCenter)
	if err != nil {
		return "", fmt.Errorf("bootstrap: DEFAULT_CENTER: %w", err)
	}
	return center, nil
}

// BuildSettingsStore picks the settings backend: Postgres when a database is
// available, memory otherwise, with an optional Redis read-through cache.
func BuildSettingsStore(sqlDB *sql.DB, redisClient *redis.Client, cfg *appconfig.Config, logger *logging.Logger) settings.Store {
	var notificationEmail string
	var ttl time.Duration
	if cfg != nil {
		notificationEmail = cfg.NotificationEmail
		ttl = cfg.SettingsCacheTTL
	}
	defaults := settings.Defaults(notificationEmail)

	var store settings.Store
	if sqlDB != nil {
		store = settings.NewSQLRepository(sqlDB, defaults)
	} else {
		store = settings.NewMemoryStore(defaults)
	}
	if redisClient == nil {
		return store
	}
	return settings.NewCachedStore(store, redisClient, ttl, logger)
}
