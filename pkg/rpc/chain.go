package rpc

import (
	"context"
	"time"

	"github.com/tycoon-works/tycoonx/pkg/chain"
)

// Client is the read interface the indexer and scheduler consume. The
// concrete implementation talks JSON-RPC to the chain node; tests swap in
// fakes.
type Client interface {
	// FinalizedSlot returns the highest slot the node considers final.
	FinalizedSlot(ctx context.Context) (uint64, error)
	// ProgramInstructions returns every instruction the program emitted
	// in (fromSlot, toSlot], ordered by slot then transaction position.
	// The feed may contain duplicates and gaps; the indexer's dedup key
	// and finality window absorb both.
	ProgramInstructions(ctx context.Context, programID string, fromSlot, toSlot uint64) ([]chain.RawInstruction, error)
	// AccountClock returns the on-chain accrual anchor for an account:
	// the timestamp its earnings were last settled at. Recompute deltas
	// accrue from this anchor.
	AccountClock(ctx context.Context, address string) (time.Time, error)
}

type commitmentParam struct {
	Commitment string `json:"commitment"`
}

type instructionRangeParams struct {
	Program  string `json:"program"`
	FromSlot uint64 `json:"fromSlot"`
	ToSlot   uint64 `json:"toSlot"`
}

type accountParam struct {
	Address string `json:"address"`
}

type accountClockResult struct {
	SettledAt int64 `json:"settledAt"` // unix seconds
}

// FinalizedSlot implements Client.
func (c *HTTPClient) FinalizedSlot(ctx context.Context) (uint64, error) {
	var slot uint64
	if err := c.call(ctx, "getSlot", []any{commitmentParam{Commitment: "finalized"}}, &slot); err != nil {
		return 0, err
	}
	return slot, nil
}

// ProgramInstructions implements Client.
func (c *HTTPClient) ProgramInstructions(ctx context.Context, programID string, fromSlot, toSlot uint64) ([]chain.RawInstruction, error) {
	var out []chain.RawInstruction
	params := instructionRangeParams{Program: programID, FromSlot: fromSlot, ToSlot: toSlot}
	if err := c.call(ctx, "getProgramInstructions", []any{params}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AccountClock implements Client.
func (c *HTTPClient) AccountClock(ctx context.Context, address string) (time.Time, error) {
	var res accountClockResult
	if err := c.call(ctx, "getAccountClock", []any{accountParam{Address: address}}, &res); err != nil {
		return time.Time{}, err
	}
	return time.Unix(res.SettledAt, 0).UTC(), nil
}
