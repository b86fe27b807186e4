package game

import (
	"time"
)

// Schedule entry statuses. Due and leased are live; succeeded and failed
// are terminal. An active player always has exactly one live entry.
const (
	ScheduleDue       = "due"
	ScheduleLeased    = "leased"
	ScheduleSucceeded = "succeeded"
	ScheduleFailed    = "failed"
)

// ScheduleEntry is one earnings-recompute assignment for a player within
// a scheduling cycle. Entries are archived on resolution, not deleted.
type ScheduleEntry struct {
	ID            int64     `json:"id"`
	PlayerAddress string    `json:"playerAddress"`
	ScheduledAt   time.Time `json:"scheduledAt"`
	Status        string    `json:"status"`
	LeaseOwner    string    `json:"leaseOwner,omitempty"`
	LeaseExpires  time.Time `json:"leaseExpires,omitempty"`
	AttemptCount  uint32    `json:"attemptCount"`
	LastError     string    `json:"lastError,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	ResolvedAt    time.Time `json:"resolvedAt,omitempty"`
}

// ScheduleStatus is the read-surface view of a player's next recompute.
type ScheduleStatus struct {
	PlayerAddress   string    `json:"playerAddress"`
	NextRecomputeAt time.Time `json:"nextRecomputeAt"`
	Status          string    `json:"status"`
	AttemptCount    uint32    `json:"attemptCount"`
}
