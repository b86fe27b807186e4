package game

import (
	"time"
)

// Player is the materialized projection of one account. It is owned by
// the fold path: every column here is derivable by replaying the event
// store from sequence zero.
type Player struct {
	Address string `json:"address"`

	// EarningsBalance is accrued-but-unclaimed yield in base units.
	EarningsBalance uint64 `json:"earningsBalance"`
	// CommissionBalance mirrors SUM(commission_ledger.amount); kept
	// consistent in the same transaction as every ledger insert so it is
	// always auditable against the ledger.
	CommissionBalance uint64 `json:"commissionBalance"`

	SlotCapacity    uint32    `json:"slotCapacity"`
	IsActive        bool      `json:"isActive"`
	NextRecomputeAt time.Time `json:"nextRecomputeAt"`

	// LastAppliedSequence is the idempotency watermark. It never
	// decreases; folding an event at or below it is a no-op.
	LastAppliedSequence uint64 `json:"lastAppliedSequence"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Business is one owned business instance, child of exactly one player.
// There is no accrual_rate column: the rate is a pure function of
// (type, level, slot bonus) and is recomputed from the balance table.
type Business struct {
	PlayerAddress string    `json:"playerAddress"`
	Slot          uint32    `json:"slot"`
	BusinessType  string    `json:"businessType"`
	Level         uint32    `json:"level"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Snapshot is the read surface returned to external collaborators.
type Snapshot struct {
	Player     Player     `json:"player"`
	Businesses []Business `json:"businesses"`
}
