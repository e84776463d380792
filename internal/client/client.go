/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// Package client calls the gateway API the way the browser widget does.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/kentakayama/capgate/internal/pow"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "capgate-client"
)

var ErrCheckFailed = errors.New("gateway check failed")

type Config struct {
	BaseURL string
	// Origin is sent on every request, for gateways with an allow-list.
	Origin      string
	InsecureTLS bool
	Timeout     time.Duration
	Logger      zerolog.Logger
	// HTTPClient replaces the client built from InsecureTLS and Timeout.
	HTTPClient *http.Client
}

type Client struct {
	baseURL    *url.URL
	origin     string
	httpClient *http.Client
	logger     zerolog.Logger
}

func New(cfg Config) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse gateway URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("gateway URL %q must be absolute", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = defaultTimeout
		}
		transport := &http.Transport{}
		if base.Scheme == "https" {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: cfg.InsecureTLS}
		}
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: transport,
		}
	}

	return &Client{
		baseURL:    base,
		origin:     cfg.Origin,
		httpClient: httpClient,
		logger:     cfg.Logger,
	}, nil
}

func (c *Client) CreateChallenge(ctx context.Context) (*pow.Challenge, error) {
	var out pow.Challenge
	if err := c.post(ctx, "/api/challenge", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Redeem(ctx context.Context, token string, solutions []int64) (*pow.RedeemResult, error) {
	var out pow.RedeemResult
	in := map[string]any{"token": token, "solutions": solutions}
	if err := c.post(ctx, "/api/redeem", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Validate(ctx context.Context, token string) (*pow.ValidateResult, error) {
	var out pow.ValidateResult
	if err := c.post(ctx, "/api/validate", map[string]string{"token": token}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Check requests a challenge, solves it, redeems the solutions and validates
// the resulting token. The first request is retried for up to wait while the
// gateway may still be starting.
func (c *Client) Check(ctx context.Context, wait time.Duration) error {
	var challenge *pow.Challenge
	op := func() error {
		var err error
		challenge, err = c.CreateChallenge(ctx)
		return err
	}
	if wait <= 0 {
		if err := op(); err != nil {
			return err
		}
	} else {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 100 * time.Millisecond
		b.MaxElapsedTime = wait
		if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
			return err
		}
	}
	c.logger.Info().
		Str("token", challenge.Token).
		Int("count", challenge.Challenge.Count).
		Int("difficulty", challenge.Challenge.Difficulty).
		Msg("challenge issued")

	start := time.Now()
	solutions, err := pow.Solve(ctx, challenge)
	if err != nil {
		return err
	}
	c.logger.Info().Dur("elapsed", time.Since(start)).Msg("challenge solved")

	redeemed, err := c.Redeem(ctx, challenge.Token, solutions)
	if err != nil {
		return err
	}
	if !redeemed.Success {
		return fmt.Errorf("%w: redeem: %s", ErrCheckFailed, redeemed.Message)
	}
	c.logger.Info().Time("expires", time.UnixMilli(redeemed.Expires)).Msg("token redeemed")

	validated, err := c.Validate(ctx, redeemed.Token)
	if err != nil {
		return err
	}
	if !validated.Success {
		return fmt.Errorf("%w: token did not validate", ErrCheckFailed)
	}
	c.logger.Info().Msg("token validated")
	return nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	target := c.baseURL.JoinPath(path)

	var body io.Reader = http.NoBody
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", defaultUserAgent)
	if c.origin != "" {
		req.Header.Set("Origin", c.origin)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected %s status %s: %s", path, resp.Status, bytes.TrimSpace(data))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
