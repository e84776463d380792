/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// Package memory keeps challenges and tokens in process memory. Entries do
// not survive a restart and are not shared between instances.
package memory

import (
	"context"
	"sync"

	"github.com/kentakayama/capgate/internal/domain/model"
	"github.com/kentakayama/capgate/internal/util"
)

type ChallengeRepository struct {
	mu    sync.Mutex
	clock util.Clock
	items map[string]model.Challenge
}

func NewChallengeRepository(clock util.Clock) *ChallengeRepository {
	return &ChallengeRepository{clock: clock, items: make(map[string]model.Challenge)}
}

func (r *ChallengeRepository) Store(_ context.Context, token string, data string, expires int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[token] = model.Challenge{Token: token, Data: data, Expires: expires}
	return nil
}

func (r *ChallengeRepository) Read(_ context.Context, token string) (*model.Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.items[token]
	if !ok || c.Expires <= r.clock.NowMillis() {
		return nil, nil
	}
	return &c, nil
}

func (r *ChallengeRepository) Delete(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, token)
	return nil
}

func (r *ChallengeRepository) DeleteExpired(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.NowMillis()
	var n int64
	for k, c := range r.items {
		if c.Expires <= now {
			delete(r.items, k)
			n++
		}
	}
	return n, nil
}

type TokenRepository struct {
	mu    sync.Mutex
	clock util.Clock
	items map[string]int64
}

func NewTokenRepository(clock util.Clock) *TokenRepository {
	return &TokenRepository{clock: clock, items: make(map[string]int64)}
}

func (r *TokenRepository) Store(_ context.Context, key string, expires int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[key] = expires
	return nil
}

func (r *TokenRepository) Get(_ context.Context, key string) (*model.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	expires, ok := r.items[key]
	if !ok || expires <= r.clock.NowMillis() {
		return nil, nil
	}
	return &model.Token{Key: key, Expires: expires}, nil
}

func (r *TokenRepository) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, key)
	return nil
}

func (r *TokenRepository) DeleteExpired(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.NowMillis()
	var n int64
	for k, expires := range r.items {
		if expires <= now {
			delete(r.items, k)
			n++
		}
	}
	return n, nil
}
