/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package pow

import "fmt"

// prng expands seed into length hex characters. The seed is hashed with
// 32-bit FNV-1a and the hash drives a xorshift32 stream; every step adds
// eight zero-padded hex digits. Widget solvers derive the same salts and
// targets from the challenge token, so the output must not change.
func prng(seed string, length int) string {
	state := uint32(2166136261)
	for i := 0; i < len(seed); i++ {
		state ^= uint32(seed[i])
		state *= 16777619
	}

	buf := make([]byte, 0, length+8)
	for len(buf) < length {
		state ^= state << 13
		state ^= state >> 17
		state ^= state << 5
		buf = fmt.Appendf(buf, "%08x", state)
	}
	return string(buf[:length])
}
