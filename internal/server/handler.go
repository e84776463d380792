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
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/kentakayama/capgate/internal/access"
	"github.com/kentakayama/capgate/internal/pow"
)

const (
	defaultMaxBodyBytes = 1 << 20

	msgMissingParameters = "Missing parameters"
	msgAssetsMissing     = "Configuration Error: Assets binding not found."
)

var (
	errNullBody     = errors.New("request body is null")
	errTrailingData = errors.New("unexpected data after request body")
)

// challengeService is the part of pow.Service the API routes call.
type challengeService interface {
	CreateChallenge(ctx context.Context) (*pow.Challenge, error)
	RedeemChallenge(ctx context.Context, token string, solutions json.RawMessage) (*pow.RedeemResult, error)
	ValidateToken(ctx context.Context, token string) (*pow.ValidateResult, error)
}

type handlerConfig struct {
	pow       challengeService
	filter    *access.Filter
	assets    http.Handler
	aliases   aliasTable
	protected []string
	maxBody   int64
	logger    zerolog.Logger
}

type handler struct {
	pow     challengeService
	assets  http.Handler
	aliases aliasTable
	maxBody int64
}

type responseSpec struct {
	status      int
	body        []byte
	contentType string
}

func newHandler(cfg handlerConfig) http.Handler {
	h := &handler{
		pow:     cfg.pow,
		assets:  cfg.assets,
		aliases: cfg.aliases,
		maxBody: cfg.maxBody,
	}
	if h.maxBody <= 0 {
		h.maxBody = defaultMaxBodyBytes
	}

	r := chi.NewRouter()
	r.Use(hlog.NewHandler(cfg.logger))
	r.Use(requestID)
	r.Use(hlog.AccessHandler(accessLog))
	r.Use(middleware.Recoverer)
	r.Use(cleanPath)
	r.Use(cfg.filter.Middleware(cfg.protected))

	r.Post("/api/challenge", h.createChallenge)
	r.Post("/api/redeem", h.redeemChallenge)
	r.Post("/api/validate", h.validateToken)

	// Everything else, including other methods on the API paths, is an asset.
	r.NotFound(h.serveAsset)
	r.MethodNotAllowed(h.serveAsset)
	return r
}

func (h *handler) createChallenge(w http.ResponseWriter, r *http.Request) {
	challenge, err := h.pow.CreateChallenge(r.Context())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("create challenge failed")
		h.writeJSON(w, r, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	h.writeJSON(w, r, http.StatusOK, challenge)
}

type redeemRequest struct {
	Token     json.RawMessage `json:"token"`
	Solutions json.RawMessage `json:"solutions"`
}

func (h *handler) redeemChallenge(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := h.readJSON(w, r, &req); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("failed reading redeem body")
		h.writeJSON(w, r, http.StatusInternalServerError, failureBody{Error: err.Error()})
		return
	}
	if falsy(req.Token) || falsy(req.Solutions) {
		h.writeJSON(w, r, http.StatusBadRequest, failureBody{Error: msgMissingParameters})
		return
	}

	result, err := h.pow.RedeemChallenge(r.Context(), stringValue(req.Token), req.Solutions)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("redeem challenge failed")
		h.writeJSON(w, r, http.StatusInternalServerError, failureBody{Error: err.Error()})
		return
	}
	h.writeJSON(w, r, http.StatusOK, result)
}

type validateRequest struct {
	Token json.RawMessage `json:"token"`
}

func (h *handler) validateToken(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := h.readJSON(w, r, &req); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("failed reading validate body")
		h.writeJSON(w, r, http.StatusInternalServerError, failureBody{Error: err.Error()})
		return
	}

	result, err := h.pow.ValidateToken(r.Context(), stringValue(req.Token))
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("validate token failed")
		h.writeJSON(w, r, http.StatusInternalServerError, failureBody{Error: err.Error()})
		return
	}
	h.writeJSON(w, r, http.StatusOK, result)
}

func (h *handler) serveAsset(w http.ResponseWriter, r *http.Request) {
	if h.assets == nil {
		hlog.FromRequest(r).Error().Msg("no asset server configured")
		http.Error(w, msgAssetsMissing, http.StatusInternalServerError)
		return
	}

	rule, ok := h.aliases.match(r.URL.Path)
	if !ok {
		h.assets.ServeHTTP(w, r)
		return
	}
	if rule.Redirect != "" {
		http.Redirect(w, r, rule.Redirect, rule.Status)
		return
	}
	rewritten := r.Clone(r.Context())
	rewritten.URL.Path = rule.Rewrite
	rewritten.URL.RawPath = ""
	h.assets.ServeHTTP(w, rewritten)
}

type errorBody struct {
	Error string `json:"error"`
}

type failureBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// readJSON decodes a JSON body into dst. The body must hold exactly one
// value other than null. A value that is not an object leaves dst untouched,
// so its fields read as absent.
func (h *handler) readJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	if err := dec.Decode(&json.RawMessage{}); !errors.Is(err, io.EOF) {
		return errTrailingData
	}
	body := strings.TrimSpace(string(raw))
	if body == "null" {
		return errNullBody
	}
	if !strings.HasPrefix(body, "{") {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func (h *handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed encoding response")
		h.writeResponse(w, r, responseSpec{status: http.StatusInternalServerError})
		return
	}
	h.writeResponse(w, r, responseSpec{
		status:      status,
		body:        body,
		contentType: "application/json",
	})
}

func (h *handler) writeResponse(w http.ResponseWriter, r *http.Request, spec responseSpec) {
	if len(spec.body) > 0 {
		for k, v := range defaultHeaders {
			w.Header().Set(k, v)
		}
		w.Header().Set("Content-Type", spec.contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(spec.body)))
		w.WriteHeader(spec.status)
		if _, err := w.Write(spec.body); err != nil {
			hlog.FromRequest(r).Warn().Err(err).Msg("failed writing response body")
		}
		return
	}

	w.WriteHeader(spec.status)
}

var defaultHeaders = map[string]string{
	"Cache-Control":           "no-store",
	"X-Content-Type-Options":  "nosniff",
	"Content-Security-Policy": "default-src 'none'",
	"Referrer-Policy":         "no-referrer",
}

// falsy reports whether a JSON value is absent, null, false, zero or the
// empty string. Arrays and objects are never falsy, even when empty.
func falsy(raw json.RawMessage) bool {
	v := strings.TrimSpace(string(raw))
	switch v {
	case "", "null", "false", `""`:
		return true
	}
	if v[0] == '-' || (v[0] >= '0' && v[0] <= '9') {
		f, err := strconv.ParseFloat(v, 64)
		return err == nil && f == 0
	}
	return false
}

// stringValue returns raw as a string when it is a JSON string, and the
// empty string otherwise.
func stringValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
