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

// ChallengeRepository handles challenge persistence.
type ChallengeRepository struct {
	db    *sql.DB
	clock util.Clock
}

func NewChallengeRepository(db *sql.DB, clock util.Clock) *ChallengeRepository {
	return &ChallengeRepository{db: db, clock: clock}
}

// Store inserts the challenge or replaces the one stored under token.
func (r *ChallengeRepository) Store(ctx context.Context, token string, data string, expires int64) error {
	const q = `
		INSERT INTO challenges (token, data, expires)
		VALUES (?, ?, ?)
		ON CONFLICT (token) DO UPDATE SET data = excluded.data, expires = excluded.expires
	`
	if _, err := r.db.ExecContext(ctx, q, token, data, expires); err != nil {
		return fmt.Errorf("upsert challenge: %w", err)
	}
	return nil
}

// Read returns the challenge stored under token, or nil when it is missing
// or already expired.
func (r *ChallengeRepository) Read(ctx context.Context, token string) (*model.Challenge, error) {
	const q = `
		SELECT token, data, expires
		FROM challenges
		WHERE token = ?
		  AND expires > ?
		LIMIT 1
	`
	row := r.db.QueryRowContext(ctx, q, token, r.clock.NowMillis())
	var c model.Challenge
	if err := row.Scan(&c.Token, &c.Data, &c.Expires); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan challenge: %w", err)
	}
	return &c, nil
}

// Delete removes the challenge stored under token. Deleting a missing
// challenge is not an error.
func (r *ChallengeRepository) Delete(ctx context.Context, token string) error {
	const q = `DELETE FROM challenges WHERE token = ?`
	if _, err := r.db.ExecContext(ctx, q, token); err != nil {
		return fmt.Errorf("delete challenge: %w", err)
	}
	return nil
}

// DeleteExpired removes every challenge whose expiry has passed.
func (r *ChallengeRepository) DeleteExpired(ctx context.Context) (int64, error) {
	const q = `DELETE FROM challenges WHERE expires <= ?`
	res, err := r.db.ExecContext(ctx, q, r.clock.NowMillis())
	if err != nil {
		return 0, fmt.Errorf("delete expired challenges: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}
