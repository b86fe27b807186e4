package projection

import (
	"errors"
	"fmt"
	"time"

	"github.com/tycoon-works/tycoonx/pkg/chain"
	"github.com/tycoon-works/tycoonx/pkg/db/models/game"
)

// ErrFoldRejected marks an event the projection refuses to apply: the
// payload is well-formed but violates state invariants (occupied slot,
// unknown player, duplicate referrer). Rejected events are recorded as
// failed and never retried; they cannot become valid later.
var ErrFoldRejected = errors.New("event rejected by fold")

// State is the in-memory view of one account the fold operates on.
// Player is nil until a player_create event has been applied.
type State struct {
	Player     *game.Player
	Businesses map[uint32]game.Business
	Referrer   string
}

// Trigger describes a commission fan-out owed for a qualifying event.
type Trigger struct {
	SourceAccount string
	SourceEvent   chain.Key
	Amount        uint64
	At            time.Time
}

// Outcome reports the side effects the applier must persist alongside
// the mutated state.
type Outcome struct {
	Commission *Trigger
	NewEdge    *game.ReferralEdge
	// SeedSchedule is set when the account became active and needs its
	// first earnings-schedule entry.
	SeedSchedule bool
	// Business is the created or upgraded instance, when any.
	Business *game.Business
}

// Fold applies one event to the state. It is a pure transition: the same
// state and event always produce the same result, which is what makes a
// full replay land on identical bytes. An event at or below the player's
// applied watermark is a no-op.
func Fold(state *State, ev *chain.Event) (Outcome, error) {
	if state.Player != nil && ev.SequenceID <= state.Player.LastAppliedSequence {
		return Outcome{}, nil
	}

	var out Outcome

	switch p := ev.Payload.(type) {
	case chain.PlayerCreatePayload:
		if state.Player != nil {
			return out, fmt.Errorf("%w: player %s already exists", ErrFoldRejected, ev.Account)
		}
		state.Player = &game.Player{
			Address:      ev.Account,
			SlotCapacity: 2,
			IsActive:     true,
			CreatedAt:    ev.ObservedAt,
		}
		out.SeedSchedule = true

	case chain.PurchasePayload:
		if err := requirePlayer(state, ev); err != nil {
			return out, err
		}
		if _, occupied := state.Businesses[p.Slot]; occupied {
			return out, fmt.Errorf("%w: slot %d occupied for %s", ErrFoldRejected, p.Slot, ev.Account)
		}
		if p.Slot >= state.Player.SlotCapacity {
			return out, fmt.Errorf("%w: slot %d beyond capacity %d", ErrFoldRejected, p.Slot, state.Player.SlotCapacity)
		}
		biz := game.Business{
			PlayerAddress: ev.Account,
			Slot:          p.Slot,
			BusinessType:  p.BusinessType,
			Level:         1,
			CreatedAt:     ev.ObservedAt,
		}
		state.Businesses[p.Slot] = biz
		out.Business = &biz
		out.Commission = &Trigger{
			SourceAccount: ev.Account,
			SourceEvent:   ev.Key,
			Amount:        p.Price,
			At:            ev.ObservedAt,
		}

	case chain.UpgradePayload:
		if err := requirePlayer(state, ev); err != nil {
			return out, err
		}
		biz, ok := state.Businesses[p.Slot]
		if !ok {
			return out, fmt.Errorf("%w: no business in slot %d for %s", ErrFoldRejected, p.Slot, ev.Account)
		}
		biz.Level++
		state.Businesses[p.Slot] = biz
		out.Business = &biz
		out.Commission = &Trigger{
			SourceAccount: ev.Account,
			SourceEvent:   ev.Key,
			Amount:        p.Cost,
			At:            ev.ObservedAt,
		}

	case chain.ClaimPayload:
		if err := requirePlayer(state, ev); err != nil {
			return out, err
		}
		// The chain is authoritative for the claimed amount; the local
		// balance floors at zero rather than rejecting a mismatch.
		if p.Amount >= state.Player.EarningsBalance {
			state.Player.EarningsBalance = 0
		} else {
			state.Player.EarningsBalance -= p.Amount
		}
		out.Commission = &Trigger{
			SourceAccount: ev.Account,
			SourceEvent:   ev.Key,
			Amount:        p.Amount,
			At:            ev.ObservedAt,
		}

	case chain.RecomputePayload:
		if err := requirePlayer(state, ev); err != nil {
			return out, err
		}
		state.Player.EarningsBalance += p.Delta

	case chain.ReferralRegisterPayload:
		if err := requirePlayer(state, ev); err != nil {
			return out, err
		}
		if p.Referrer == ev.Account {
			return out, fmt.Errorf("%w: self-referral by %s", ErrFoldRejected, ev.Account)
		}
		if state.Referrer != "" {
			return out, fmt.Errorf("%w: %s already has a referrer", ErrFoldRejected, ev.Account)
		}
		state.Referrer = p.Referrer
		out.NewEdge = &game.ReferralEdge{
			ReferrerAddress: p.Referrer,
			RefereeAddress:  ev.Account,
			CreatedAt:       ev.ObservedAt,
		}

	case chain.SlotUnlockPayload:
		if err := requirePlayer(state, ev); err != nil {
			return out, err
		}
		if p.Slot < state.Player.SlotCapacity {
			return out, fmt.Errorf("%w: slot %d already unlocked", ErrFoldRejected, p.Slot)
		}
		state.Player.SlotCapacity = p.Slot + 1

	default:
		return out, fmt.Errorf("%w: unhandled kind %q", ErrFoldRejected, ev.Kind)
	}

	state.Player.LastAppliedSequence = ev.SequenceID
	state.Player.UpdatedAt = ev.ObservedAt
	return out, nil
}

func requirePlayer(state *State, ev *chain.Event) error {
	if state.Player == nil {
		return fmt.Errorf("%w: no player %s", ErrFoldRejected, ev.Account)
	}
	return nil
}
