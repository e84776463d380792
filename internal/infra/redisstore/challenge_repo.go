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

// ChallengeRepository keeps challenges under <prefix>:challenges:<token>.
type ChallengeRepository struct {
	t table
}

func NewChallengeRepository(client *redis.Client, clock util.Clock, prefix string) *ChallengeRepository {
	return &ChallengeRepository{t: newTable(client, clock, prefix, "challenges")}
}

func (r *ChallengeRepository) Store(ctx context.Context, token string, data string, expires int64) error {
	if err := r.t.put(ctx, token, record{Data: data, Expires: expires}); err != nil {
		return fmt.Errorf("store challenge: %w", err)
	}
	return nil
}

func (r *ChallengeRepository) Read(ctx context.Context, token string) (*model.Challenge, error) {
	rec, err := r.t.get(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("read challenge: %w", err)
	}
	if rec == nil {
		return nil, nil
	}
	return &model.Challenge{Token: token, Data: rec.Data, Expires: rec.Expires}, nil
}

func (r *ChallengeRepository) Delete(ctx context.Context, token string) error {
	if err := r.t.del(ctx, token); err != nil {
		return fmt.Errorf("delete challenge: %w", err)
	}
	return nil
}

func (r *ChallengeRepository) DeleteExpired(ctx context.Context) (int64, error) {
	n, err := r.t.sweep(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete expired challenges: %w", err)
	}
	return n, nil
}
