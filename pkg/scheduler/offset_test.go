package scheduler

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOffsetForDeterministic(t *testing.T) {
	window := 24 * time.Hour
	cycle := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	first := OffsetFor("player-a", cycle, window)
	second := OffsetFor("player-a", cycle, window)
	assert.Equal(t, first, second, "same account and cycle always hash to the same slot")
}

func TestOffsetForWithinWindow(t *testing.T) {
	window := 24 * time.Hour
	cycle := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 1000; i++ {
		at := OffsetFor(fmt.Sprintf("player-%d", i), cycle, window)
		assert.False(t, at.Before(cycle))
		assert.True(t, at.Before(cycle.Add(window)))
	}
}

func TestOffsetForVariesByCycle(t *testing.T) {
	window := 24 * time.Hour
	day1 := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	day2 := day1.Add(window)

	off1 := OffsetFor("player-a", day1, window).Sub(day1)
	off2 := OffsetFor("player-a", day2, window).Sub(day2)
	assert.NotEqual(t, off1, off2, "cycle stamp is part of the hash, so placement moves day to day")
}

// A rough uniformity check: hashing many accounts into 24 hourly buckets
// should leave no bucket starved or overloaded.
func TestOffsetForSpread(t *testing.T) {
	window := 24 * time.Hour
	cycle := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	const accounts = 24000
	buckets := make([]int, 24)
	for i := 0; i < accounts; i++ {
		at := OffsetFor(fmt.Sprintf("acct-%d", i), cycle, window)
		buckets[at.Sub(cycle)/time.Hour]++
	}

	expected := accounts / 24
	for hour, n := range buckets {
		assert.Greater(t, n, expected/2, "hour %d starved", hour)
		assert.Less(t, n, expected*2, "hour %d overloaded", hour)
	}
}

func TestNextOffsetLandsInFollowingCycle(t *testing.T) {
	window := 24 * time.Hour
	from := time.Date(2026, 8, 1, 13, 45, 0, 0, time.UTC)

	next := NextOffset("player-a", from, window)
	cycle := CycleStart(from, window).Add(window)

	require.False(t, next.Before(cycle), "next entry belongs to the following cycle")
	assert.True(t, next.Before(cycle.Add(window)))
	assert.True(t, next.After(from))
}

func TestCycleStart(t *testing.T) {
	window := 24 * time.Hour
	at := time.Date(2026, 8, 1, 23, 59, 59, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), CycleStart(at, window))
}
