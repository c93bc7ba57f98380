package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/stake-plus/stakegate/src/api/challenge"
	"github.com/stake-plus/stakegate/src/api/config"
	"github.com/stake-plus/stakegate/src/api/data"
	"github.com/stake-plus/stakegate/src/api/governance"
	"github.com/stake-plus/stakegate/src/api/ledger"
	"github.com/stake-plus/stakegate/src/api/locks"
	"github.com/stake-plus/stakegate/src/api/metrics"
	"github.com/stake-plus/stakegate/src/api/store"
	"github.com/stake-plus/stakegate/src/api/sweeps"
	"github.com/stake-plus/stakegate/src/api/verify"
	"github.com/stake-plus/stakegate/src/api/webserver"
)

// app is the wired service: clients, store and engines.
type app struct {
	db       *gorm.DB
	rdb      *redis.Client
	registry *prometheus.Registry
	store    *store.Store
	verify   *verify.Service
	locks    *locks.Engine
	gov      *governance.Engine
	sweeps   *sweeps.Runner
	log      *zap.Logger
}

func openDB(cfg config.Config) (*gorm.DB, error) {
	if cfg.SQLitePath != "" {
		return data.ConnectSQLite(cfg.SQLitePath)
	}
	return data.ConnectMySQL(cfg.MySQLDSN)
}

func newApp(cfg config.Config, log *zap.Logger, withProcessMetrics bool) (*app, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		if rdb, err = data.ConnectRedis(cfg.RedisURL); err != nil {
			return nil, err
		}
	}

	reg := prometheus.NewRegistry()
	if withProcessMetrics {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	m := metrics.New(reg)

	st := store.New(db)
	var gw ledger.Gateway = ledger.NewLCD(cfg.LedgerURL, cfg.LedgerTimeout)
	gw = ledger.NewCached(gw, rdb, cfg.LedgerCacheTTL)

	codec := challenge.NewCodec([]byte(cfg.ChallengeSecret))
	matcher := verify.NewMatcher(gw, cfg.VerificationAddress, cfg.LedgerTimeout, cfg.LedgerTxLimit, log, m)
	vs := verify.NewService(verify.Config{
		AddressPrefix:       cfg.AddressPrefix,
		VerificationAddress: cfg.VerificationAddress,
		ChallengeTTL:        cfg.ChallengeTTL,
	}, codec, matcher, st, rdb, log, m)

	le := locks.NewEngine(locks.Config{
		AddressPrefix: cfg.AddressPrefix,
		Denom:         cfg.StakeDenom,
		LedgerTimeout: cfg.LedgerTimeout,
		Parallelism:   cfg.SweepParallelism,
	}, st, gw, rdb, log, m)
	ge := governance.NewEngine(governance.Config{
		DefaultQuorum:    cfg.DefaultQuorum,
		DefaultThreshold: cfg.DefaultThreshold,
	}, st, le, rdb, log, m)

	return &app{
		db:       db,
		rdb:      rdb,
		registry: reg,
		store:    st,
		verify:   vs,
		locks:    le,
		gov:      ge,
		sweeps:   sweeps.NewRunner(le, ge, rdb, log),
		log:      log,
	}, nil
}

func (a *app) deps() webserver.Deps {
	return webserver.Deps{
		Store:      a.store,
		Redis:      a.rdb,
		Verify:     a.verify,
		Locks:      a.locks,
		Governance: a.gov,
		Sweeps:     a.sweeps,
		Gatherer:   a.registry,
		Log:        a.log,
	}
}

func (a *app) close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
