package game

import (
	"time"
)

// ReferralEdge is one direct (level-1) referral link. Deeper levels are
// derived by traversal, never stored, so an ancestor change cannot leave
// stale level-2/3 rows behind.
type ReferralEdge struct {
	ReferrerAddress string    `json:"referrerAddress"`
	RefereeAddress  string    `json:"refereeAddress"`
	CreatedAt       time.Time `json:"createdAt"`
}

// CommissionEntry is one immutable commission ledger row.
type CommissionEntry struct {
	ID            int64     `json:"id"`
	Beneficiary   string    `json:"beneficiary"`
	SourceAccount string    `json:"sourceAccount"`
	SourceEvent   string    `json:"sourceEvent"` // event key string: slot/signature/index
	Level         uint32    `json:"level"`
	RateApplied   string    `json:"rateApplied"`
	Amount        uint64    `json:"amount"`
	CreditedAt    time.Time `json:"creditedAt"`
}

// CommissionSummary aggregates a beneficiary's ledger by level.
type CommissionSummary struct {
	Beneficiary string            `json:"beneficiary"`
	Total       uint64            `json:"total"`
	ByLevel     map[uint32]uint64 `json:"byLevel"`
}
