package referral

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tycoon-works/tycoonx/pkg/db/models/game"
	"github.com/tycoon-works/tycoonx/pkg/db/postgres"
	"go.uber.org/zap"
)

// fakeStore is an in-memory referral graph plus ledger.
type fakeStore struct {
	referrers map[string]string
	players   map[string]*game.Player
	ledger    []game.CommissionEntry
	balances  map[string]uint64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		referrers: map[string]string{},
		players:   map[string]*game.Player{},
		balances:  map[string]uint64{},
	}
}

func (f *fakeStore) GetReferrer(_ context.Context, _ postgres.Executor, referee string) (string, error) {
	return f.referrers[referee], nil
}

func (f *fakeStore) GetPlayerForUpdate(_ context.Context, _ postgres.Executor, address string) (*game.Player, error) {
	return f.players[address], nil
}

func (f *fakeStore) InsertCommission(_ context.Context, _ postgres.Executor, entry *game.CommissionEntry) error {
	f.ledger = append(f.ledger, *entry)
	return nil
}

func (f *fakeStore) AddCommissionBalance(_ context.Context, _ postgres.Executor, beneficiary string, amount uint64) error {
	f.balances[beneficiary] += amount
	return nil
}

func (f *fakeStore) addPlayer(address string, active bool) {
	f.players[address] = &game.Player{Address: address, IsActive: active}
}

func testEngine(store Store) *Engine {
	return NewEngine(store, zap.NewNop())
}

func TestDistributeThreeLevels(t *testing.T) {
	// alice <- bob <- carol <- dave: dave's spend pays alice nothing
	// (level 4) and carol 10%, bob 5%, alice 2.5%.
	store := newFakeStore()
	for _, addr := range []string{"alice", "bob", "carol", "dave"} {
		store.addPlayer(addr, true)
	}
	store.referrers["dave"] = "carol"
	store.referrers["carol"] = "bob"
	store.referrers["bob"] = "alice"

	entries, err := testEngine(store).Distribute(context.Background(), nil, "dave", "1/sig/0", 10000, time.Now())
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, uint64(1000), store.balances["carol"], "level 1 earns 10%")
	assert.Equal(t, uint64(500), store.balances["bob"], "level 2 earns 5%")
	assert.Equal(t, uint64(250), store.balances["alice"], "level 3 earns 2.5%")
	assert.Zero(t, store.balances["dave"], "the actor never earns from itself")

	for _, e := range store.ledger {
		assert.Equal(t, "dave", e.SourceAccount)
		assert.Equal(t, "1/sig/0", e.SourceEvent)
	}
}

func TestDistributeShortChain(t *testing.T) {
	store := newFakeStore()
	store.addPlayer("alice", true)
	store.addPlayer("bob", true)
	store.referrers["bob"] = "alice"

	entries, err := testEngine(store).Distribute(context.Background(), nil, "bob", "2/sig/0", 1000, time.Now())
	require.NoError(t, err)

	require.Len(t, entries, 1, "walk stops where the chain ends")
	assert.Equal(t, uint64(100), store.balances["alice"])
}

func TestDistributeSkipsInactiveBeneficiary(t *testing.T) {
	// carol is deactivated: her level is skipped but the walk continues
	// and alice still collects level 2.
	store := newFakeStore()
	store.addPlayer("alice", true)
	store.addPlayer("carol", false)
	store.addPlayer("dave", true)
	store.referrers["dave"] = "carol"
	store.referrers["carol"] = "alice"

	entries, err := testEngine(store).Distribute(context.Background(), nil, "dave", "3/sig/0", 10000, time.Now())
	require.NoError(t, err)

	require.Len(t, entries, 1)
	assert.Zero(t, store.balances["carol"], "inactive beneficiary is skipped, not redirected")
	assert.Equal(t, uint64(500), store.balances["alice"], "level 2 rate applies despite the skip")
}

func TestDistributeZeroAmount(t *testing.T) {
	store := newFakeStore()
	store.addPlayer("alice", true)
	store.addPlayer("bob", true)
	store.referrers["bob"] = "alice"

	entries, err := testEngine(store).Distribute(context.Background(), nil, "bob", "4/sig/0", 0, time.Now())
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Empty(t, store.ledger)
}

func TestDistributeTruncatesFractionalShares(t *testing.T) {
	store := newFakeStore()
	store.addPlayer("alice", true)
	store.addPlayer("bob", true)
	store.referrers["bob"] = "alice"

	// 10% of 15 is 1.5; integer base units truncate down.
	_, err := testEngine(store).Distribute(context.Background(), nil, "bob", "5/sig/0", 15, time.Now())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), store.balances["alice"])
}

func TestValidateEdge(t *testing.T) {
	store := newFakeStore()
	store.referrers["bob"] = "alice"
	store.referrers["carol"] = "bob"
	engine := testEngine(store)

	assert.NoError(t, engine.ValidateEdge(context.Background(), nil, "carol", "dave"),
		"a fresh leaf edge is fine")

	err := engine.ValidateEdge(context.Background(), nil, "carol", "alice")
	assert.ErrorIs(t, err, ErrEdgeRejected, "closing alice->bob->carol->alice is a cycle")

	err = engine.ValidateEdge(context.Background(), nil, "alice", "alice")
	assert.ErrorIs(t, err, ErrEdgeRejected, "self edge")
}

func TestRatesAreExact(t *testing.T) {
	assert.True(t, Rates[1].Equal(decimal.RequireFromString("0.10")))
	assert.True(t, Rates[2].Equal(decimal.RequireFromString("0.05")))
	assert.True(t, Rates[3].Equal(decimal.RequireFromString("0.025")))
}
