package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	cfhttp "github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/adapter/http"
	cfnats "github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/adapter/nats"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/adapter/natskv"
	cfotel "github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/adapter/otel"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/adapter/postgres"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/adapter/ristretto"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/adapter/sqlite"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/adapter/tiered"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/config"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/port/cache"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/port/durable"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/resilience"
)

// storage is the assembled cache hierarchy and the resources behind it.
type storage struct {
	cache   *tiered.Cache
	checks  map[string]cfhttp.HealthCheck
	closers []func()
}

// close releases resources in reverse order of acquisition.
func (s *storage) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// openStorage builds Hot (ristretto), Warm (sqlite or NATS KV) and Durable
// (postgres or sqlite) from cfg. queue may be nil when NATS is disabled.
func openStorage(ctx context.Context, cfg *config.Config, queue *cfnats.Queue, metrics *cfotel.Metrics, log *slog.Logger) (*storage, error) {
	s := &storage{checks: make(map[string]cfhttp.HealthCheck)}
	ok := false
	defer func() {
		if !ok {
			s.close()
		}
	}()

	hot, err := ristretto.New(cfg.Cache.HotMaxSizeMB << 20)
	if err != nil {
		return nil, fmt.Errorf("hot tier: %w", err)
	}
	s.closers = append(s.closers, hot.Close)

	var lite *sqlite.Store
	openSQLite := func() (*sqlite.Store, error) {
		if lite != nil {
			return lite, nil
		}
		st, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		lite = st
		s.closers = append(s.closers, func() { _ = st.Close() })
		s.checks["sqlite"] = st.Ping
		log.Info("sqlite opened", "path", st.Path())
		return st, nil
	}

	var warm cache.Cache
	switch cfg.Cache.WarmBackend {
	case config.BackendNATS:
		if queue == nil {
			return nil, errors.New("warm tier: nats backend requires nats.url")
		}
		kv, err := natskv.Open(ctx, queue.JetStream(), cfg.NATS.KVBucket, cfg.Cache.WarmTTL)
		if err != nil {
			return nil, fmt.Errorf("warm tier: %w", err)
		}
		warm = kv
	default:
		st, err := openSQLite()
		if err != nil {
			return nil, err
		}
		w := st.Warm()
		stop := w.StartSweeper(cfg.Cache.WarmSweep, func(err error) {
			log.Warn("warm sweep failed", "error", err)
		})
		s.closers = append(s.closers, stop)
		warm = w
	}

	var store durable.Store
	switch cfg.Cache.DurableBackend {
	case config.BackendPostgres:
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		s.closers = append(s.closers, pool.Close)
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return nil, fmt.Errorf("migrations: %w", err)
		}
		s.checks["postgres"] = pingPool(pool)
		store = postgres.NewDurableStore(pool)
		log.Info("postgres connected", "max_conns", cfg.Postgres.MaxConns)
	default:
		st, err := openSQLite()
		if err != nil {
			return nil, err
		}
		store = st.Durable()
	}

	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout,
		resilience.WithName("durable"),
		resilience.WithLogger(log),
		resilience.WithIgnore(func(err error) bool { return errors.Is(err, context.Canceled) }),
	)

	s.cache = tiered.New(tiered.Options{
		Hot:       hot,
		Warm:      warm,
		Durable:   store,
		HotTTL:    cfg.Cache.HotTTL,
		WarmTTL:   cfg.Cache.WarmTTL,
		IOTimeout: cfg.Cache.IOTimeout,
		Breaker:   breaker,
		Logger:    log.With("component", "cache"),
		Observe:   metrics.ObserveCache,
	})
	log.Info("cache hierarchy ready",
		"warm", cfg.Cache.WarmBackend,
		"durable", cfg.Cache.DurableBackend,
	)
	ok = true
	return s, nil
}

func pingPool(pool *pgxpool.Pool) cfhttp.HealthCheck {
	return func(ctx context.Context) error { return pool.Ping(ctx) }
}
