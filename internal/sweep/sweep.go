/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package sweep

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Cleaner removes expired challenges and tokens.
type Cleaner interface {
	Cleanup(ctx context.Context) (challenges int64, tokens int64, err error)
}

// Start periodically sweeps expired entries until ctx is cancelled. It blocks,
// so run it in its own goroutine. A non-positive interval returns at once.
func Start(ctx context.Context, cleaner Cleaner, interval time.Duration, logger zerolog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			Once(ctx, cleaner, logger)
		}
	}
}

// Once runs a single sweep and logs the outcome.
func Once(ctx context.Context, cleaner Cleaner, logger zerolog.Logger) (int64, int64, error) {
	challenges, tokens, err := cleaner.Cleanup(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("store sweep failed")
		return challenges, tokens, err
	}
	if challenges > 0 || tokens > 0 {
		logger.Debug().
			Int64("challenges", challenges).
			Int64("tokens", tokens).
			Msg("expired entries removed")
	}
	return challenges, tokens, nil
}
