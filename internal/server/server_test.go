/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kentakayama/capgate/internal/assets"
	"github.com/kentakayama/capgate/internal/config"
	"github.com/kentakayama/capgate/internal/infra/store"
	"github.com/kentakayama/capgate/internal/pow"
	"github.com/kentakayama/capgate/internal/util"
)

var testFiles = fstest.MapFS{
	"demo/landing.html": {Data: []byte("<h1>landing</h1>")},
	"widget/widget.js":  {Data: []byte("// widget")},
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Pow.ChallengeCount = 3
	cfg.Pow.ChallengeDifficulty = 2
	return cfg
}

func newTestServer(t *testing.T, cfg config.Config) (*Server, *util.ManualClock) {
	t.Helper()
	clock := util.NewManualClock(time.UnixMilli(1_700_000_000_000))
	s, err := New(context.Background(), cfg,
		WithBackend(store.NewMemory(clock.Clock())),
		WithAssets(assets.New(testFiles)),
		WithClock(clock.Clock()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s, clock
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestNew_Assets(t *testing.T) {
	cfg := testConfig()

	_, err := New(context.Background(), cfg,
		WithBackend(store.NewMemory(util.SystemClock)),
		WithAssets(nil),
	)
	assert.ErrorIs(t, err, ErrAssetsMissing)

	cfg.Assets.Dir = filepath.Join(t.TempDir(), "missing")
	_, err = New(context.Background(), cfg, WithBackend(store.NewMemory(util.SystemClock)))
	assert.ErrorIs(t, err, ErrAssetsMissing)
}

func TestNew_SQLiteBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Store.SQLite.Path = filepath.Join(t.TempDir(), "capgate.db")

	s, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer s.Shutdown(context.Background())

	rec := do(t, s.Handler(), http.MethodPost, "/api/challenge", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s.Handler(), http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<cap-widget")
}

func TestNew_UnreachableBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Store.SQLite.Path = filepath.Join(t.TempDir(), "capgate.db")
	b, err := store.Open(context.Background(), cfg.Store, nil, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, b.Close())

	_, err = New(context.Background(), cfg, WithBackend(b), WithAssets(assets.New(testFiles)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sqlite store unreachable")
}

func TestAPI_ChallengeRedeemValidate(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/challenge", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var challenge pow.Challenge
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &challenge))
	require.NotEmpty(t, challenge.Token)
	assert.Equal(t, pow.Params{Count: 3, Size: 32, Difficulty: 2}, challenge.Challenge)

	nonces, err := pow.Solve(context.Background(), &challenge)
	require.NoError(t, err)
	body, err := json.Marshal(map[string]any{"token": challenge.Token, "solutions": nonces})
	require.NoError(t, err)

	rec = do(t, h, http.MethodPost, "/api/redeem", string(body))
	require.Equal(t, http.StatusOK, rec.Code)
	redeemed := decode(t, rec)
	require.Equal(t, true, redeemed["success"], rec.Body.String())
	token, _ := redeemed["token"].(string)
	require.Contains(t, token, ":")

	rec = do(t, h, http.MethodPost, "/api/redeem", string(body))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"success": false, "message": pow.MsgChallengeExpired}, decode(t, rec))

	validate := `{"token":"` + token + `"}`
	rec = do(t, h, http.MethodPost, "/api/validate", validate)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"success": true}, decode(t, rec))

	rec = do(t, h, http.MethodPost, "/api/validate", validate)
	assert.Equal(t, map[string]any{"success": false}, decode(t, rec))
}

func TestAPI_RedeemMissingParameters(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	for _, body := range []string{
		`{}`,
		`{"token":"abc"}`,
		`{"solutions":[1,2]}`,
		`{"token":"","solutions":[1]}`,
		`{"token":"abc","solutions":null}`,
		`{"token":"abc","solutions":0}`,
		`{"token":"abc","solutions":false}`,
		`{"token":0,"solutions":[1]}`,
		`[1,2,3]`,
	} {
		rec := do(t, s.Handler(), http.MethodPost, "/api/redeem", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, map[string]any{"success": false, "error": "Missing parameters"}, decode(t, rec), body)
	}
}

func TestAPI_RedeemInvalidBody(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	rec := do(t, s.Handler(), http.MethodPost, "/api/redeem", `{"token":"abc","solutions":"1,2"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"success": false, "message": pow.MsgInvalidBody}, decode(t, rec))

	rec = do(t, s.Handler(), http.MethodPost, "/api/redeem", `{"token":`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, false, out["success"])
	assert.NotEmpty(t, out["error"])

	rec = do(t, s.Handler(), http.MethodPost, "/api/validate", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, false, decode(t, rec)["success"])
}

func TestAPI_RejectsNullAndTrailingBodies(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	for _, path := range []string{"/api/redeem", "/api/validate"} {
		for _, body := range []string{
			`null`,
			` null `,
			`{"token":"a","solutions":[1]} trailing`,
			`{"token":"a","solutions":[1]}{}`,
		} {
			rec := do(t, s.Handler(), http.MethodPost, path, body)
			assert.Equal(t, http.StatusInternalServerError, rec.Code, "%s %s", path, body)
			out := decode(t, rec)
			assert.Equal(t, false, out["success"], body)
			assert.NotEmpty(t, out["error"], body)
		}
	}

	rec := do(t, s.Handler(), http.MethodPost, "/api/redeem", "{\"token\":\"a\",\"solutions\":[1]}\n")
	assert.Equal(t, http.StatusOK, rec.Code, "trailing whitespace is allowed")
}

func TestAPI_ValidateUnknownToken(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	for _, body := range []string{`{"token":"abc:def"}`, `{}`, `{"token":42}`} {
		rec := do(t, s.Handler(), http.MethodPost, "/api/validate", body)
		assert.Equal(t, http.StatusOK, rec.Code, body)
		assert.Equal(t, map[string]any{"success": false}, decode(t, rec), body)
	}
}

func TestAccessControl(t *testing.T) {
	cfg := testConfig()
	cfg.Allowed = `"*.example.com", 'partner.io'`
	s, _ := newTestServer(t, cfg)
	h := s.Handler()

	tests := []struct {
		name    string
		method  string
		path    string
		headers []string
		status  int
	}{
		{"api without origin", http.MethodPost, "/api/challenge", nil, http.StatusForbidden},
		{"api from subdomain", http.MethodPost, "/api/challenge", []string{"Origin", "https://app.example.com"}, http.StatusOK},
		{"api from apex", http.MethodPost, "/api/challenge", []string{"Origin", "https://example.com"}, http.StatusForbidden},
		{"api from exact host", http.MethodPost, "/api/challenge", []string{"Referer", "https://partner.io/form"}, http.StatusOK},
		{"referer wins over origin", http.MethodPost, "/api/challenge", []string{"Referer", "https://evil.test/", "Origin", "https://app.example.com"}, http.StatusForbidden},
		{"malformed origin", http.MethodPost, "/api/challenge", []string{"Origin", "null"}, http.StatusForbidden},
		{"widget without origin", http.MethodGet, "/widget/widget.js", nil, http.StatusForbidden},
		{"widget from subdomain", http.MethodGet, "/widget/widget.js", []string{"Referer", "https://a.b.example.com/"}, http.StatusOK},
		{"dot segments to widget", http.MethodGet, "/x/../widget/widget.js", []string{"Origin", "https://evil.com"}, http.StatusForbidden},
		{"encoded dot segments to widget", http.MethodGet, "/%2e%2e/widget/widget.js", []string{"Origin", "https://evil.com"}, http.StatusForbidden},
		{"doubled slash to api", http.MethodPost, "//api/challenge", []string{"Origin", "https://evil.com"}, http.StatusForbidden},
		{"dot segments from subdomain", http.MethodGet, "/x/../widget/widget.js", []string{"Origin", "https://app.example.com"}, http.StatusOK},
		{"landing is public", http.MethodGet, "/", nil, http.StatusOK},
		{"unknown asset is public", http.MethodGet, "/nope.css", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, "", tt.headers...)
			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusForbidden {
				assert.Equal(t, "Forbidden", rec.Body.String())
			}
		})
	}
}

func TestAssetRouting(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	h := s.Handler()

	for _, path := range []string{"/", "/demo", "/landing.html", "/demo/landing.html"} {
		rec := do(t, h, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "<h1>landing</h1>", rec.Body.String(), path)
	}

	rec := do(t, h, http.MethodGet, "/widget", "")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/widget/widget.js", rec.Header().Get("Location"))

	rec = do(t, h, http.MethodGet, "/widget/widget.js", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "// widget", rec.Body.String())

	// Non-POST on an API path falls through to the assets.
	rec = do(t, h, http.MethodGet, "/api/challenge", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAssetRouting_ConfiguredAliases(t *testing.T) {
	cfg := testConfig()
	cfg.Assets.Aliases = []config.AliasRule{
		{Match: "/", Redirect: "/widget/widget.js", Status: http.StatusMovedPermanently},
		{Match: "/docs/**", Rewrite: "/demo/landing.html"},
	}
	s, _ := newTestServer(t, cfg)

	rec := do(t, s.Handler(), http.MethodGet, "/", "")
	assert.Equal(t, http.StatusMovedPermanently, rec.Code)
	assert.Equal(t, "/widget/widget.js", rec.Header().Get("Location"))

	rec = do(t, s.Handler(), http.MethodGet, "/docs/a/b", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<h1>landing</h1>", rec.Body.String())

	rec = do(t, s.Handler(), http.MethodGet, "/demo", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestID(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	rec := do(t, s.Handler(), http.MethodGet, "/", "")
	assert.True(t, strings.HasPrefix(rec.Header().Get("X-Request-Id"), "req_"))
	other := do(t, s.Handler(), http.MethodGet, "/", "")
	assert.NotEqual(t, rec.Header().Get("X-Request-Id"), other.Header().Get("X-Request-Id"))
}

func TestShutdown_ClosesBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Store.SQLite.Path = filepath.Join(t.TempDir(), "capgate.db")
	b, err := store.Open(context.Background(), cfg.Store, nil, zerolog.Nop())
	require.NoError(t, err)

	s, err := New(context.Background(), cfg, WithBackend(b), WithAssets(assets.New(testFiles)))
	require.NoError(t, err)
	require.NoError(t, s.Shutdown(context.Background()))
	assert.Error(t, b.Ping(context.Background()))
}
