/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package service

import (
	"context"

	"github.com/kentakayama/capgate/internal/domain/model"
)

// ChallengeRepository defines the interface for challenge persistence.
//
// Store is an upsert. Read returns (nil, nil) when the challenge is absent or
// its expiry is at or before the current time, even if the row still exists.
// Delete is idempotent. DeleteExpired removes every challenge whose expiry is
// at or before the current time and reports how many were removed.
type ChallengeRepository interface {
	Store(ctx context.Context, token string, data string, expires int64) error
	Read(ctx context.Context, token string) (*model.Challenge, error)
	Delete(ctx context.Context, token string) error
	DeleteExpired(ctx context.Context) (int64, error)
}

// TokenRepository defines the interface for redemption token persistence.
// The semantics mirror ChallengeRepository.
type TokenRepository interface {
	Store(ctx context.Context, key string, expires int64) error
	Get(ctx context.Context, key string) (*model.Token, error)
	Delete(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context) (int64, error)
}
