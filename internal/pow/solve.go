/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package pow

import (
	"context"
	"strconv"
)

// Solve finds a nonce for every sub-challenge of c, as the widget does in the
// browser. It stops early when ctx is cancelled.
func Solve(ctx context.Context, c *Challenge) ([]int64, error) {
	nonces := make([]int64, c.Challenge.Count)
	for i := 1; i <= c.Challenge.Count; i++ {
		salt := prng(c.Token+strconv.Itoa(i), c.Challenge.Size)
		target := prng(c.Token+strconv.Itoa(i)+"d", c.Challenge.Difficulty)
		for n := int64(0); ; n++ {
			if n&0xfff == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
			if solves(salt, target, n) {
				nonces[i-1] = n
				break
			}
		}
	}
	return nonces, nil
}
