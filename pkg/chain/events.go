package chain

import (
	"fmt"
	"time"
)

// Kind identifies a decoded program event.
type Kind string

const (
	KindPlayerCreate     Kind = "player_create"
	KindPurchase         Kind = "purchase"
	KindUpgrade          Kind = "upgrade"
	KindClaim            Kind = "claim"
	KindRecompute        Kind = "recompute"
	KindReferralRegister Kind = "referral_register"
	KindSlotUnlock       Kind = "slot_unlock"
)

// Status is the processing status of a stored event.
type Status string

const (
	StatusPending Status = "pending"
	StatusApplied Status = "applied"
	StatusFailed  Status = "failed"
)

// Key uniquely identifies an on-chain event occurrence. It is the
// de-duplication key: a transaction replayed by the upstream feed maps to
// the same key and is applied at most once.
type Key struct {
	Slot             uint64 `json:"slot"`
	TxSignature      string `json:"txSignature"`
	InstructionIndex uint32 `json:"instructionIndex"`
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%s/%d", k.Slot, k.TxSignature, k.InstructionIndex)
}

// SequenceID derives a monotonic ordering value from the event's chain
// position. Slot dominates, then the transaction's position within the
// slot, then the instruction index within the transaction. The low ten
// bits are always zero: that range below every chain position belongs to
// scheduler-synthesized events (NextSyntheticID), so a synthetic id can
// never equal a real instruction's id.
func SequenceID(slot uint64, txIndex uint32, ixIndex uint32) uint64 {
	return slot<<30 | uint64(txIndex&0x3FF)<<20 | uint64(ixIndex&0x3FF)<<10
}

// NextSyntheticID returns the sequence id for a synthesized event
// following the given watermark. Synthetic ids fill the reserved gap
// between a chain position and the next, so they order after the event
// they follow and strictly before any chain instruction not yet applied.
// The gap holds 1023 consecutive synthetics; draining it means something
// is minting recomputes far faster than the schedule window, and that
// surfaces as an error instead of a silent collision.
func NextSyntheticID(watermark uint64) (uint64, error) {
	if watermark&0x3FF == 0x3FF {
		return 0, fmt.Errorf("synthetic sequence range after %d exhausted", watermark)
	}
	return watermark + 1, nil
}

// Event is one decoded program event, ready to be stored and folded into
// the projection. Payload holds exactly one variant matching Kind.
type Event struct {
	Key        Key
	SequenceID uint64
	Kind       Kind
	Account    string
	Payload    Payload
	ObservedAt time.Time
}

// Payload is the tagged-variant interface implemented by every event
// payload type.
type Payload interface {
	EventKind() Kind
}

// PlayerCreatePayload activates an account on first interaction.
type PlayerCreatePayload struct {
	Owner string `json:"owner"`
}

// PurchasePayload places a new business into a slot. Payment is
// chain-side; the projection only records the instance.
type PurchasePayload struct {
	BusinessType string `json:"businessType"`
	Slot         uint32 `json:"slot"`
	Price        uint64 `json:"price"`
}

// UpgradePayload bumps the level of the business in a slot. Cost is the
// amount paid chain-side and is the qualifying amount for commissions.
type UpgradePayload struct {
	Slot uint32 `json:"slot"`
	Cost uint64 `json:"cost"`
}

// ClaimPayload withdraws accrued earnings. Amount is in base units and is
// the qualifying amount for referral commissions.
type ClaimPayload struct {
	Amount uint64 `json:"amount"`
}

// RecomputePayload is emitted by the earnings scheduler, not the chain.
// Routing it through the same event path gives recomputes the same
// idempotency and audit trail as chain events.
type RecomputePayload struct {
	Delta      uint64    `json:"delta"`
	ComputedAt time.Time `json:"computedAt"`
}

// ReferralRegisterPayload links the acting account to its referrer.
type ReferralRegisterPayload struct {
	Referrer string `json:"referrer"`
}

// SlotUnlockPayload extends the account's slot capacity.
type SlotUnlockPayload struct {
	Slot  uint32 `json:"slot"`
	Bonus string `json:"bonus"`
}

func (PlayerCreatePayload) EventKind() Kind     { return KindPlayerCreate }
func (PurchasePayload) EventKind() Kind         { return KindPurchase }
func (UpgradePayload) EventKind() Kind          { return KindUpgrade }
func (ClaimPayload) EventKind() Kind            { return KindClaim }
func (RecomputePayload) EventKind() Kind        { return KindRecompute }
func (ReferralRegisterPayload) EventKind() Kind { return KindReferralRegister }
func (SlotUnlockPayload) EventKind() Kind       { return KindSlotUnlock }
