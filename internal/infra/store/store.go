/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// Package store opens the configured state store backend.
package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/kentakayama/capgate/internal/config"
	"github.com/kentakayama/capgate/internal/domain"
	"github.com/kentakayama/capgate/internal/domain/service"
	"github.com/kentakayama/capgate/internal/infra/memory"
	"github.com/kentakayama/capgate/internal/infra/postgres"
	"github.com/kentakayama/capgate/internal/infra/redisstore"
	"github.com/kentakayama/capgate/internal/infra/sqlite"
	"github.com/kentakayama/capgate/internal/util"
)

// Backend holds the two repositories of one opened store.
type Backend struct {
	Name       string
	Challenges service.ChallengeRepository
	Tokens     service.TokenRepository

	ping    func(context.Context) error
	version func(context.Context) (int64, int64, error)
	close   func() error
}

// Open connects to the backend named by cfg.Backend. SQL backends are
// migrated to the latest schema before Open returns.
func Open(ctx context.Context, cfg config.StoreConfig, clock util.Clock, logger zerolog.Logger) (*Backend, error) {
	if clock == nil {
		clock = util.SystemClock
	}
	switch cfg.Backend {
	case config.BackendSQLite:
		db, err := sqlite.InitDB(ctx, cfg.SQLite.Path, sqlite.Options{
			Driver:       cfg.SQLite.Driver,
			BusyTimeout:  cfg.SQLite.BusyTimeout,
			MaxOpenConns: cfg.SQLite.MaxOpenConns,
		})
		if err != nil {
			return nil, err
		}
		logger.Info().Str("path", cfg.SQLite.Path).Str("driver", cfg.SQLite.Driver).Msg("sqlite store opened")
		return &Backend{
			Name:       cfg.Backend,
			Challenges: sqlite.NewChallengeRepository(db, clock),
			Tokens:     sqlite.NewTokenRepository(db, clock),
			ping:       db.PingContext,
			version: func(ctx context.Context) (int64, int64, error) {
				return sqlite.SchemaVersion(ctx, db)
			},
			close: func() error { return sqlite.CloseDB(db) },
		}, nil

	case config.BackendPostgres:
		opts := postgres.DefaultOptions()
		opts.MaxConns = cfg.Postgres.MaxConns
		opts.MinConns = cfg.Postgres.MinConns
		opts.MaxConnLifetime = cfg.Postgres.MaxConnLifetime
		opts.HealthCheckPeriod = cfg.Postgres.HealthCheckPeriod
		pool, err := postgres.Connect(ctx, cfg.Postgres.DSN, opts)
		if err != nil {
			return nil, err
		}
		logger.Info().Int32("max_conns", pool.Config().MaxConns).Msg("postgres store opened")
		return &Backend{
			Name:       cfg.Backend,
			Challenges: postgres.NewChallengeRepository(pool, clock),
			Tokens:     postgres.NewTokenRepository(pool, clock),
			ping:       pool.Ping,
			version: func(ctx context.Context) (int64, int64, error) {
				return postgres.SchemaVersion(ctx, pool)
			},
			close: func() error {
				pool.Close()
				return nil
			},
		}, nil

	case config.BackendRedis:
		client, err := redisstore.Connect(ctx, redisstore.Options{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		logger.Info().Str("addr", cfg.Redis.Addr).Str("prefix", cfg.Redis.Prefix).Msg("redis store opened")
		return &Backend{
			Name:       cfg.Backend,
			Challenges: redisstore.NewChallengeRepository(client, clock, cfg.Redis.Prefix),
			Tokens:     redisstore.NewTokenRepository(client, clock, cfg.Redis.Prefix),
			ping: func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			},
			close: client.Close,
		}, nil

	case config.BackendMemory:
		logger.Warn().Msg("memory store: state is lost on restart and not shared between instances")
		return NewMemory(clock), nil
	}
	return nil, fmt.Errorf("%w: %q", domain.ErrUnknownBackend, cfg.Backend)
}

// NewMemory returns a process-local backend.
func NewMemory(clock util.Clock) *Backend {
	return &Backend{
		Name:       config.BackendMemory,
		Challenges: memory.NewChallengeRepository(clock),
		Tokens:     memory.NewTokenRepository(clock),
	}
}

// Ping reports whether the backend is reachable.
func (b *Backend) Ping(ctx context.Context) error {
	if b.ping == nil {
		return nil
	}
	return b.ping(ctx)
}

// SchemaVersion returns the current and latest migration versions of a SQL
// backend. Other backends return domain.ErrNoSchema.
func (b *Backend) SchemaVersion(ctx context.Context) (current int64, latest int64, err error) {
	if b.version == nil {
		return 0, 0, fmt.Errorf("%w: %s", domain.ErrNoSchema, b.Name)
	}
	return b.version(ctx)
}

func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}
