/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kentakayama/capgate/internal/domain/model"
	"github.com/kentakayama/capgate/internal/util"
)

// TokenRepository handles redemption token persistence.
type TokenRepository struct {
	db    *sql.DB
	clock util.Clock
}

func NewTokenRepository(db *sql.DB, clock util.Clock) *TokenRepository {
	return &TokenRepository{db: db, clock: clock}
}

// Store inserts the token or replaces the expiry of an existing one.
func (r *TokenRepository) Store(ctx context.Context, key string, expires int64) error {
	const q = `
		INSERT INTO tokens (key, expires)
		VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET expires = excluded.expires
	`
	if _, err := r.db.ExecContext(ctx, q, key, expires); err != nil {
		return fmt.Errorf("upsert token: %w", err)
	}
	return nil
}

// Get returns the token stored under key, or nil when it is missing or
// already expired.
func (r *TokenRepository) Get(ctx context.Context, key string) (*model.Token, error) {
	const q = `
		SELECT key, expires
		FROM tokens
		WHERE key = ?
		  AND expires > ?
		LIMIT 1
	`
	row := r.db.QueryRowContext(ctx, q, key, r.clock.NowMillis())
	var t model.Token
	if err := row.Scan(&t.Key, &t.Expires); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan token: %w", err)
	}
	return &t, nil
}

// Delete removes the token stored under key.
func (r *TokenRepository) Delete(ctx context.Context, key string) error {
	const q = `DELETE FROM tokens WHERE key = ?`
	if _, err := r.db.ExecContext(ctx, q, key); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

// DeleteExpired removes every token whose expiry has passed.
func (r *TokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	const q = `DELETE FROM tokens WHERE expires <= ?`
	res, err := r.db.ExecContext(ctx, q, r.clock.NowMillis())
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	return res.RowsAffected()
}
