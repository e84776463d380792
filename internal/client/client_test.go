/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kentakayama/capgate/internal/config"
	"github.com/kentakayama/capgate/internal/server"
)

func newGateway(t *testing.T, allowed string) *httptest.Server {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Backend = config.BackendMemory
	cfg.Allowed = allowed
	cfg.Pow.ChallengeCount = 4
	cfg.Pow.ChallengeDifficulty = 2

	srv, err := server.New(context.Background(), cfg)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Shutdown(context.Background())
	})
	return ts
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New(Config{BaseURL: "localhost:8787"})
	assert.Error(t, err)
	_, err = New(Config{BaseURL: "http://%zz"})
	assert.Error(t, err)
}

func TestCheck(t *testing.T) {
	ts := newGateway(t, "*.example.com")

	c, err := New(Config{BaseURL: ts.URL, Origin: "https://app.example.com", HTTPClient: ts.Client()})
	require.NoError(t, err)
	require.NoError(t, c.Check(context.Background(), time.Second))
}

func TestCheck_BaseURLWithPath(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Backend = config.BackendMemory
	cfg.Pow.ChallengeCount = 2
	cfg.Pow.ChallengeDifficulty = 2
	srv, err := server.New(context.Background(), cfg)
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		paths []string
	)
	mux := http.NewServeMux()
	mux.Handle("/gate/", http.StripPrefix("/gate", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		srv.Handler().ServeHTTP(w, r)
	})))
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Shutdown(context.Background())
	})

	for _, base := range []string{ts.URL + "/gate", ts.URL + "/gate/"} {
		mu.Lock()
		paths = nil
		mu.Unlock()
		c, err := New(Config{BaseURL: base, HTTPClient: ts.Client()})
		require.NoError(t, err)
		require.NoError(t, c.Check(context.Background(), 0), base)
		mu.Lock()
		assert.Equal(t, []string{"/api/challenge", "/api/redeem", "/api/validate"}, paths, base)
		mu.Unlock()
	}
}

func TestCheck_Forbidden(t *testing.T) {
	ts := newGateway(t, "*.example.com")

	c, err := New(Config{BaseURL: ts.URL, HTTPClient: ts.Client()})
	require.NoError(t, err)
	err = c.Check(context.Background(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestRedeem_WrongSolution(t *testing.T) {
	ts := newGateway(t, "")
	c, err := New(Config{BaseURL: ts.URL, HTTPClient: ts.Client()})
	require.NoError(t, err)

	ch, err := c.CreateChallenge(context.Background())
	require.NoError(t, err)
	res, err := c.Redeem(context.Background(), ch.Token, []int64{1})
	require.NoError(t, err)
	assert.False(t, res.Success)

	v, err := c.Validate(context.Background(), "nope:nope")
	require.NoError(t, err)
	assert.False(t, v.Success)
}

func TestCheck_Unreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	ts.Close()

	c, err := New(Config{BaseURL: ts.URL})
	require.NoError(t, err)
	assert.Error(t, c.Check(context.Background(), 300*time.Millisecond))
}
