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

type ChallengeRepository struct {
	db    *pgxpool.Pool
	clock util.Clock
}

func NewChallengeRepository(db *pgxpool.Pool, clock util.Clock) *ChallengeRepository {
	return &ChallengeRepository{db: db, clock: clock}
}

func (r *ChallengeRepository) Store(ctx context.Context, token string, data string, expires int64) error {
	const q = `
		INSERT INTO challenges (token, data, expires)
		VALUES ($1, $2, $3)
		ON CONFLICT (token) DO UPDATE SET data = EXCLUDED.data, expires = EXCLUDED.expires
	`
	if _, err := r.db.Exec(ctx, q, token, data, expires); err != nil {
		return fmt.Errorf("upsert challenge: %w", err)
	}
	return nil
}

func (r *ChallengeRepository) Read(ctx context.Context, token string) (*model.Challenge, error) {
	const q = `
		SELECT token, data, expires
		FROM challenges
		WHERE token = $1 AND expires > $2
	`
	var c model.Challenge
	err := r.db.QueryRow(ctx, q, token, r.clock.NowMillis()).Scan(&c.Token, &c.Data, &c.Expires)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan challenge: %w", err)
	}
	return &c, nil
}

func (r *ChallengeRepository) Delete(ctx context.Context, token string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM challenges WHERE token = $1`, token); err != nil {
		return fmt.Errorf("delete challenge: %w", err)
	}
	return nil
}

func (r *ChallengeRepository) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM challenges WHERE expires <= $1`, r.clock.NowMillis())
	if err != nil {
		return 0, fmt.Errorf("delete expired challenges: %w", err)
	}
	return tag.RowsAffected(), nil
}
