/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

// Challenge is a proof-of-work puzzle waiting to be redeemed.
// Data is the opaque payload produced by the challenge issuer.
// Expires is an absolute timestamp in Unix milliseconds.
type Challenge struct {
	Token   string
	Data    string
	Expires int64
}
