package main

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"procgrid/internal/cache"
	"procgrid/internal/catalog"
	"procgrid/internal/config"
	"procgrid/internal/database"
	"procgrid/internal/events"
	"procgrid/internal/handlers"
	"procgrid/internal/middleware"
	"procgrid/internal/store"
	"procgrid/internal/store/memory"
)

// app holds the wired collaborators shared by every command.
type app struct {
	cfg      *config.Config
	db       *sql.DB
	valkey   *redis.Client
	svc      *catalog.Service
	cacheLog *store.CacheLogStore
	limiter  middleware.Limiter
	closers  []func()
}

// newApp connects the configured backends and builds the catalog service.
// When migrate is true, pending migrations run before anything else.
func newApp(cfg *config.Config, migrate bool) (*app, error) {
	a := &app{cfg: cfg}

	var st catalog.Store
	switch cfg.Store {
	case config.StoreMemory:
		slog.Warn("using in-memory store, data is lost on exit")
		st = memory.New()
	default:
		db, err := database.Connect(cfg.DSN())
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		a.db = db
		a.closers = append(a.closers, func() { db.Close() })
		if migrate {
			if err := database.Migrate(db); err != nil {
				a.close()
				return nil, fmt.Errorf("run migrations: %w", err)
			}
		}
		st = store.NewCategoryStore(db)
		a.cacheLog = store.NewCacheLogStore(db)
	}

	if cfg.NeedsValkey() {
		client, err := cache.ConnectValkey(cfg.ValkeyHost, cfg.ValkeyPort, cfg.ValkeyPassword)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("connect to valkey: %w", err)
		}
		a.valkey = client
		a.closers = append(a.closers, func() { client.Close() })
	}

	var c catalog.Cache
	switch cfg.CacheDriver {
	case config.CacheValkey:
		c = cache.NewCategoryCache(a.valkey, cfg.CacheTTL)
	case config.CacheMemory:
		c = cache.NewMemory(cfg.CacheTTL)
	}

	var pub catalog.Publisher
	switch cfg.EventSink {
	case config.EventsStream:
		pub = events.NewStreamPublisher(a.valkey, cfg.EventStream, cfg.EventStreamMaxLen)
	default:
		pub = events.NewLogPublisher(slog.Default())
	}

	// Keep the interface nil when there is no log so the service skips it.
	var invLog catalog.InvalidationLog
	if a.cacheLog != nil {
		invLog = a.cacheLog
	}
	a.svc = catalog.NewService(st, c, pub, invLog, cfg.MaxDepth)

	slog.Info("catalog wired",
		"store", cfg.Store,
		"cache", cfg.CacheDriver,
		"events", cfg.EventSink,
		"max_depth", cfg.MaxDepth,
	)
	return a, nil
}

// rateLimiter picks the shared Valkey limiter when Valkey is available and
// falls back to a per-process one. Returns nil when rate limiting is off.
func (a *app) rateLimiter() middleware.Limiter {
	if a.cfg.RateLimit <= 0 {
		return nil
	}
	if a.valkey != nil {
		return middleware.NewValkeyRateLimiter(a.valkey, a.cfg.RateLimit, a.cfg.RateWindow)
	}
	rl := middleware.NewRateLimiter(a.cfg.RateLimit, a.cfg.RateWindow)
	a.closers = append(a.closers, rl.Stop)
	return rl
}

// cacheLogReader returns the admin cache-log source, or nil without Postgres.
func (a *app) cacheLogReader() handlers.CacheLogReader {
	if a.cacheLog == nil {
		return nil
	}
	return a.cacheLog
}

// close releases backends in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
