/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package pow

import "errors"

var (
	ErrInvalidConfig = errors.New("invalid proof-of-work configuration")
	ErrRandomSource  = errors.New("random source failed")
)
