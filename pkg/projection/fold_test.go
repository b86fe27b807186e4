package projection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tycoon-works/tycoonx/pkg/chain"
	"github.com/tycoon-works/tycoonx/pkg/db/models/game"
)

func newEvent(seq uint64, account string, payload chain.Payload) *chain.Event {
	return &chain.Event{
		Key:        chain.Key{Slot: seq, TxSignature: "sig", InstructionIndex: 0},
		SequenceID: seq,
		Kind:       payload.EventKind(),
		Account:    account,
		Payload:    payload,
		ObservedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func emptyState() *State {
	return &State{Businesses: map[uint32]game.Business{}}
}

func activeState(seq uint64) *State {
	return &State{
		Player: &game.Player{
			Address:             "alice",
			SlotCapacity:        2,
			IsActive:            true,
			LastAppliedSequence: seq,
		},
		Businesses: map[uint32]game.Business{},
	}
}

func TestFoldPlayerCreate(t *testing.T) {
	state := emptyState()

	out, err := Fold(state, newEvent(10, "alice", chain.PlayerCreatePayload{Owner: "alice"}))
	require.NoError(t, err)

	require.NotNil(t, state.Player)
	assert.Equal(t, "alice", state.Player.Address)
	assert.Equal(t, uint32(2), state.Player.SlotCapacity, "new players start with two slots")
	assert.True(t, state.Player.IsActive)
	assert.Equal(t, uint64(10), state.Player.LastAppliedSequence)
	assert.True(t, out.SeedSchedule, "first activation seeds the earnings schedule")

	_, err = Fold(state, newEvent(11, "alice", chain.PlayerCreatePayload{Owner: "alice"}))
	assert.ErrorIs(t, err, ErrFoldRejected, "second create for the same account is rejected")
}

func TestFoldWatermarkNoOp(t *testing.T) {
	state := activeState(100)

	out, err := Fold(state, newEvent(100, "alice", chain.PurchasePayload{BusinessType: "kiosk", Slot: 0, Price: 500}))
	require.NoError(t, err)

	assert.Nil(t, out.Business, "event at the watermark must not mutate state")
	assert.Empty(t, state.Businesses)
	assert.Equal(t, uint64(100), state.Player.LastAppliedSequence)
}

func TestFoldChainEventAfterSyntheticWatermark(t *testing.T) {
	// A recompute commits between two adjacent instructions of one
	// transaction. The later instruction must still fold: the synthetic
	// watermark sits strictly below the next chain id.
	applied := chain.SequenceID(500, 3, 0)
	syn, err := chain.NextSyntheticID(applied)
	require.NoError(t, err)

	state := activeState(syn)
	next := chain.SequenceID(500, 3, 1)
	require.Greater(t, next, syn)

	out, err := Fold(state, newEvent(next, "alice", chain.PurchasePayload{BusinessType: "kiosk", Slot: 0, Price: 500}))
	require.NoError(t, err)

	require.NotNil(t, out.Business, "instruction after a recompute must not be swallowed by the watermark")
	assert.Contains(t, state.Businesses, uint32(0))
	assert.Equal(t, next, state.Player.LastAppliedSequence)
}

func TestFoldPurchase(t *testing.T) {
	tests := []struct {
		name    string
		slot    uint32
		prep    func(*State)
		wantErr bool
	}{
		{name: "empty slot within capacity", slot: 1},
		{
			name: "occupied slot",
			slot: 0,
			prep: func(s *State) {
				s.Businesses[0] = game.Business{PlayerAddress: "alice", Slot: 0, BusinessType: "kiosk", Level: 1}
			},
			wantErr: true,
		},
		{name: "slot beyond capacity", slot: 2, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := activeState(0)
			if tt.prep != nil {
				tt.prep(state)
			}

			out, err := Fold(state, newEvent(5, "alice", chain.PurchasePayload{BusinessType: "cafe", Slot: tt.slot, Price: 900}))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrFoldRejected)
				return
			}
			require.NoError(t, err)

			require.NotNil(t, out.Business)
			assert.Equal(t, uint32(1), out.Business.Level, "purchases always create at level 1")
			require.NotNil(t, out.Commission)
			assert.Equal(t, uint64(900), out.Commission.Amount, "purchase price is the qualifying amount")
		})
	}
}

func TestFoldUpgrade(t *testing.T) {
	state := activeState(0)
	state.Businesses[0] = game.Business{PlayerAddress: "alice", Slot: 0, BusinessType: "kiosk", Level: 3}

	out, err := Fold(state, newEvent(6, "alice", chain.UpgradePayload{Slot: 0, Cost: 1200}))
	require.NoError(t, err)

	assert.Equal(t, uint32(4), state.Businesses[0].Level)
	require.NotNil(t, out.Commission)
	assert.Equal(t, uint64(1200), out.Commission.Amount, "upgrade cost is the qualifying amount")

	_, err = Fold(state, newEvent(7, "alice", chain.UpgradePayload{Slot: 1, Cost: 1}))
	assert.ErrorIs(t, err, ErrFoldRejected, "upgrading an empty slot is rejected")
}

func TestFoldClaimFloorsAtZero(t *testing.T) {
	state := activeState(0)
	state.Player.EarningsBalance = 300

	out, err := Fold(state, newEvent(8, "alice", chain.ClaimPayload{Amount: 1000}))
	require.NoError(t, err)

	assert.Equal(t, uint64(0), state.Player.EarningsBalance, "over-claim floors the local balance")
	require.NotNil(t, out.Commission)
	assert.Equal(t, uint64(1000), out.Commission.Amount, "chain amount stays authoritative for commissions")
}

func TestFoldRecompute(t *testing.T) {
	state := activeState(0)
	state.Player.EarningsBalance = 50

	_, err := Fold(state, newEvent(9, "alice", chain.RecomputePayload{Delta: 450, ComputedAt: time.Now()}))
	require.NoError(t, err)
	assert.Equal(t, uint64(500), state.Player.EarningsBalance)
}

func TestFoldReferralRegister(t *testing.T) {
	state := activeState(0)

	out, err := Fold(state, newEvent(10, "alice", chain.ReferralRegisterPayload{Referrer: "bob"}))
	require.NoError(t, err)
	require.NotNil(t, out.NewEdge)
	assert.Equal(t, "bob", out.NewEdge.ReferrerAddress)
	assert.Equal(t, "alice", out.NewEdge.RefereeAddress)

	_, err = Fold(state, newEvent(11, "alice", chain.ReferralRegisterPayload{Referrer: "carol"}))
	assert.ErrorIs(t, err, ErrFoldRejected, "a player gets at most one referrer")

	fresh := activeState(0)
	_, err = Fold(fresh, newEvent(12, "alice", chain.ReferralRegisterPayload{Referrer: "alice"}))
	assert.ErrorIs(t, err, ErrFoldRejected, "self-referral is rejected")
}

func TestFoldSlotUnlock(t *testing.T) {
	state := activeState(0)

	_, err := Fold(state, newEvent(13, "alice", chain.SlotUnlockPayload{Slot: 4}))
	require.NoError(t, err)
	assert.Equal(t, uint32(5), state.Player.SlotCapacity)

	_, err = Fold(state, newEvent(14, "alice", chain.SlotUnlockPayload{Slot: 1}))
	assert.ErrorIs(t, err, ErrFoldRejected, "unlocking an already unlocked slot is rejected")
}

func TestFoldRequiresPlayer(t *testing.T) {
	payloads := []chain.Payload{
		chain.PurchasePayload{BusinessType: "kiosk", Slot: 0, Price: 1},
		chain.UpgradePayload{Slot: 0, Cost: 1},
		chain.ClaimPayload{Amount: 1},
		chain.RecomputePayload{Delta: 1},
		chain.ReferralRegisterPayload{Referrer: "bob"},
		chain.SlotUnlockPayload{Slot: 2},
	}

	for _, p := range payloads {
		t.Run(string(p.EventKind()), func(t *testing.T) {
			_, err := Fold(emptyState(), newEvent(1, "ghost", p))
			assert.ErrorIs(t, err, ErrFoldRejected)
		})
	}
}

// Replaying the same event sequence twice must land on identical state.
func TestFoldReplayDeterminism(t *testing.T) {
	events := []*chain.Event{
		newEvent(1, "alice", chain.PlayerCreatePayload{Owner: "alice"}),
		newEvent(2, "alice", chain.PurchasePayload{BusinessType: "kiosk", Slot: 0, Price: 100}),
		newEvent(3, "alice", chain.SlotUnlockPayload{Slot: 2}),
		newEvent(4, "alice", chain.PurchasePayload{BusinessType: "cafe", Slot: 2, Price: 400}),
		newEvent(5, "alice", chain.RecomputePayload{Delta: 777}),
		newEvent(6, "alice", chain.ClaimPayload{Amount: 500}),
	}

	run := func() *State {
		state := emptyState()
		for _, ev := range events {
			_, err := Fold(state, ev)
			require.NoError(t, err)
		}
		return state
	}

	first, second := run(), run()
	assert.Equal(t, first.Player, second.Player)
	assert.Equal(t, first.Businesses, second.Businesses)
	assert.Equal(t, uint64(277), first.Player.EarningsBalance)
	assert.Equal(t, uint64(6), first.Player.LastAppliedSequence)
}
