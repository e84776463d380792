/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package redisstore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/kentakayama/capgate/internal/domain/model"
	"github.com/kentakayama/capgate/internal/util"
)

// TokenRepository keeps redemption tokens under <prefix>:tokens:<key>.
type TokenRepository struct {
	t table
}

func NewTokenRepository(client *redis.Client, clock util.Clock, prefix string) *TokenRepository {
	return &TokenRepository{t: newTable(client, clock, prefix, "tokens")}
}

func (r *TokenRepository) Store(ctx context.Context, key string, expires int64) error {
	if err := r.t.put(ctx, key, record{Expires: expires}); err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	return nil
}

func (r *TokenRepository) Get(ctx context.Context, key string) (*model.Token, error) {
	rec, err := r.t.get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}
	if rec == nil {
		return nil, nil
	}
	return &model.Token{Key: key, Expires: rec.Expires}, nil
}

func (r *TokenRepository) Delete(ctx context.Context, key string) error {
	if err := r.t.del(ctx, key); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

func (r *TokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	n, err := r.t.sweep(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	return n, nil
}
