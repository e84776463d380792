/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/kentakayama/capgate/internal/access"
	"github.com/kentakayama/capgate/internal/assets"
	"github.com/kentakayama/capgate/internal/config"
	"github.com/kentakayama/capgate/internal/pow"
)

type brokenService struct {
	err   error
	panic bool
}

func (b brokenService) CreateChallenge(context.Context) (*pow.Challenge, error) {
	if b.panic {
		panic("boom")
	}
	return nil, b.err
}

func (b brokenService) RedeemChallenge(context.Context, string, json.RawMessage) (*pow.RedeemResult, error) {
	return nil, b.err
}

func (b brokenService) ValidateToken(context.Context, string) (*pow.ValidateResult, error) {
	return nil, b.err
}

func newBareHandler(svc challengeService, files http.Handler) http.Handler {
	return newHandler(handlerConfig{
		pow:       svc,
		filter:    access.New(""),
		assets:    files,
		aliases:   newAliasTable(config.DefaultAliases()),
		protected: []string{"/api", "/widget"},
		logger:    zerolog.Nop(),
	})
}

func TestHandler_ServiceErrors(t *testing.T) {
	h := newBareHandler(brokenService{err: errors.New("database is locked")}, assets.New(testFiles))

	rec := do(t, h, http.MethodPost, "/api/challenge", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, map[string]any{"error": "database is locked"}, decode(t, rec))

	rec = do(t, h, http.MethodPost, "/api/redeem", `{"token":"t","solutions":[1]}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, map[string]any{"success": false, "error": "database is locked"}, decode(t, rec))

	rec = do(t, h, http.MethodPost, "/api/validate", `{"token":"a:b"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, map[string]any{"success": false, "error": "database is locked"}, decode(t, rec))
}

func TestHandler_Panic(t *testing.T) {
	h := newBareHandler(brokenService{panic: true}, assets.New(testFiles))

	rec := do(t, h, http.MethodPost, "/api/challenge", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandler_NoAssets(t *testing.T) {
	h := newBareHandler(brokenService{}, nil)

	for _, path := range []string{"/", "/widget/widget.js", "/anything"} {
		rec := do(t, h, http.MethodGet, path, "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code, path)
		assert.Contains(t, rec.Body.String(), "Configuration Error: Assets binding not found.", path)
	}
}

func TestFalsy(t *testing.T) {
	tests := map[string]bool{
		"":        true,
		"null":    true,
		"false":   true,
		`""`:      true,
		"0":       true,
		"-0":      true,
		"0.0":     true,
		" 0 ":     true,
		"1":       false,
		"true":    false,
		`"0"`:     false,
		"[]":      false,
		"{}":      false,
		`"token"`: false,
	}
	for raw, want := range tests {
		assert.Equal(t, want, falsy(json.RawMessage(raw)), "falsy(%q)", raw)
	}
}

func TestStringValue(t *testing.T) {
	assert.Equal(t, "abc", stringValue(json.RawMessage(`"abc"`)))
	assert.Equal(t, "", stringValue(json.RawMessage(`42`)))
	assert.Equal(t, "", stringValue(nil))
}

func TestCanonicalPath(t *testing.T) {
	tests := map[string]string{
		"":                       "/",
		"/":                      "/",
		"/widget/widget.js":      "/widget/widget.js",
		"/x/../widget/widget.js": "/widget/widget.js",
		"/../widget/widget.js":   "/widget/widget.js",
		"//api//challenge":       "/api/challenge",
		"/./api/./redeem":        "/api/redeem",
		"/demo/":                 "/demo/",
		"/demo/../":              "/",
		"widget":                 "/widget",
	}
	for in, want := range tests {
		assert.Equal(t, want, canonicalPath(in), "canonicalPath(%q)", in)
	}
}
