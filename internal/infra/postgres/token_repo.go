/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kentakayama/capgate/internal/domain/model"
	"github.com/kentakayama/capgate/internal/util"
)

type TokenRepository struct {
	db    *pgxpool.Pool
	clock util.Clock
}

func NewTokenRepository(db *pgxpool.Pool, clock util.Clock) *TokenRepository {
	return &TokenRepository{db: db, clock: clock}
}

func (r *TokenRepository) Store(ctx context.Context, key string, expires int64) error {
	const q = `
		INSERT INTO tokens (key, expires)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET expires = EXCLUDED.expires
	`
	if _, err := r.db.Exec(ctx, q, key, expires); err != nil {
		return fmt.Errorf("upsert token: %w", err)
	}
	return nil
}

func (r *TokenRepository) Get(ctx context.Context, key string) (*model.Token, error) {
	const q = `SELECT key, expires FROM tokens WHERE key = $1 AND expires > $2`
	var t model.Token
	err := r.db.QueryRow(ctx, q, key, r.clock.NowMillis()).Scan(&t.Key, &t.Expires)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan token: %w", err)
	}
	return &t, nil
}

func (r *TokenRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM tokens WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

func (r *TokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM tokens WHERE expires <= $1`, r.clock.NowMillis())
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}
