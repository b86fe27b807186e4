package scheduler

import (
	"encoding/binary"
	"hash/fnv"
	"time"
)

// CycleStart truncates t down to the start of its scheduling window.
func CycleStart(t time.Time, window time.Duration) time.Time {
	return t.UTC().Truncate(window)
}

// OffsetFor places an account's recompute inside the cycle beginning at
// cycleStart. Placement is a pure FNV-64a hash of the account and the
// cycle stamp: deterministic per (account, cycle), uniformly spread over
// the window so the population never bunches at one instant.
func OffsetFor(account string, cycleStart time.Time, window time.Duration) time.Time {
	h := fnv.New64a()
	h.Write([]byte(account))

	var stamp [8]byte
	binary.BigEndian.PutUint64(stamp[:], uint64(cycleStart.Unix()))
	h.Write(stamp[:])

	return cycleStart.Add(time.Duration(h.Sum64() % uint64(window)))
}

// NextOffset returns the account's slot in the cycle after from. Used
// both to seed a player's first entry and to chain each successful
// recompute to the next one.
func NextOffset(account string, from time.Time, window time.Duration) time.Time {
	next := CycleStart(from, window).Add(window)
	return OffsetFor(account, next, window)
}
