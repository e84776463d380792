/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/kentakayama/capgate/internal/access"
	"github.com/kentakayama/capgate/internal/assets"
	"github.com/kentakayama/capgate/internal/config"
	"github.com/kentakayama/capgate/internal/infra/store"
	"github.com/kentakayama/capgate/internal/pow"
	"github.com/kentakayama/capgate/internal/sweep"
	"github.com/kentakayama/capgate/internal/util"
)

var ErrAssetsMissing = errors.New("assets binding not found")

// Server wires the HTTP listener and request handling stack.
type Server struct {
	cfg     config.Config
	handler http.Handler
	http    *http.Server
	backend *store.Backend
	pow     *pow.Service
	logger  zerolog.Logger

	sweepCtx context.Context
	stop     context.CancelFunc
}

// Option overrides a dependency New would otherwise build from config.
type Option func(*options)

type options struct {
	backend   *store.Backend
	assets    http.Handler
	assetsSet bool
	clock     util.Clock
}

// WithBackend uses an already opened store. The Server closes it on Shutdown.
func WithBackend(b *store.Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithAssets replaces the asset server. A nil handler makes New fail.
func WithAssets(h http.Handler) Option {
	return func(o *options) {
		o.assets = h
		o.assetsSet = true
	}
}

func WithClock(c util.Clock) Option {
	return func(o *options) { o.clock = c }
}

// New constructs a Server using the provided configuration.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Server, error) {
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	o := options{clock: util.SystemClock}
	for _, opt := range opts {
		opt(&o)
	}

	assetHandler := o.assets
	if !o.assetsSet {
		a, err := assets.Open(cfg.Assets.Dir)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAssetsMissing, err)
		}
		assetHandler = a
	}
	if assetHandler == nil {
		return nil, ErrAssetsMissing
	}

	backend := o.backend
	if backend == nil {
		b, err := store.Open(ctx, cfg.Store, o.clock, logger)
		if err != nil {
			return nil, err
		}
		backend = b
	}
	if err := backend.Ping(ctx); err != nil {
		backend.Close()
		return nil, fmt.Errorf("%s store unreachable: %w", backend.Name, err)
	}

	svc, err := pow.New(backend.Challenges, backend.Tokens, PowOptions(cfg.Pow),
		pow.WithClock(o.clock), pow.WithLogger(logger))
	if err != nil {
		backend.Close()
		return nil, err
	}

	filter := access.New(cfg.Allowed)
	if filter.Open() {
		logger.Warn().Msg("ALLOWED is empty: protected routes accept every origin")
	} else {
		logger.Info().Strs("allowed", filter.Patterns()).Msg("origin allow-list loaded")
	}

	h := newHandler(handlerConfig{
		pow:       svc,
		filter:    filter,
		assets:    assetHandler,
		aliases:   newAliasTable(cfg.Assets.Aliases),
		protected: cfg.Assets.ProtectedPrefixes,
		maxBody:   cfg.HTTP.MaxBodyBytes,
		logger:    logger,
	})

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	sweepCtx, stop := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		handler:  h,
		http:     httpSrv,
		backend:  backend,
		pow:      svc,
		logger:   logger,
		sweepCtx: sweepCtx,
		stop:     stop,
	}, nil
}

// PowOptions converts the pow section of the configuration.
func PowOptions(c config.PowConfig) pow.Options {
	return pow.Options{
		Count:        c.ChallengeCount,
		Size:         c.ChallengeSize,
		Difficulty:   c.ChallengeDifficulty,
		ChallengeTTL: c.ChallengeTTL,
		TokenTTL:     c.TokenTTL,
		KeepTokens:   c.KeepTokens,
	}
}

// Handler returns the request handling stack without the listener.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe starts the expiry sweeper and the HTTP server and blocks
// until the server stops.
func (s *Server) ListenAndServe() error {
	go sweep.Start(s.sweepCtx, s.pow, s.cfg.Store.SweepInterval, s.logger)

	s.logger.Info().
		Str("addr", s.http.Addr).
		Str("store", s.backend.Name).
		Msg("capgate listening")

	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully takes down the HTTP server, stops the sweeper and
// closes the store.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	s.stop()
	if cerr := s.backend.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
