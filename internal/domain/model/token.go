/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

// Token is a redemption token granted after a challenge was solved.
// Its presence in the store is the proof; there is no payload.
type Token struct {
	Key     string
	Expires int64
}
