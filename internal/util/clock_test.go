/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualClock_Advance(t *testing.T) {
	start := time.UnixMilli(1_700_000_000_000)
	mc := NewManualClock(start)
	clock := mc.Clock()

	assert.Equal(t, int64(1_700_000_000_000), clock.NowMillis())

	mc.Advance(1500 * time.Millisecond)
	assert.Equal(t, int64(1_700_000_001_500), clock.NowMillis())
}

func TestClock_NilFallsBackToWallClock(t *testing.T) {
	var c Clock
	before := time.Now().UnixMilli()
	got := c.NowMillis()
	assert.GreaterOrEqual(t, got, before)
}

func TestSet(t *testing.T) {
	s := NewSet("a", "b", "a")
	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Has("a"))
	assert.False(t, s.Has("c"))
}
