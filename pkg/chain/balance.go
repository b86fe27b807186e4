package chain

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
)

// BalanceTable holds the game-balance inputs for yield computation. The
// values are tuning data supplied by configuration, not part of this
// core's contract; only the shape and the purity of AccrualRate are.
type BalanceTable struct {
	// BaseRates maps business type to base yield in base units per hour
	// at level 1.
	BaseRates map[string]uint64 `json:"baseRates"`
	// LevelStep is the per-level multiplier applied (level-1) times.
	LevelStep decimal.Decimal `json:"levelStep"`
	// SlotBonuses maps slot index to a percentage bonus ("5" = +5%).
	SlotBonuses map[uint32]decimal.Decimal `json:"slotBonuses"`
}

// DefaultBalanceTable returns a conservative table used when no override
// file is configured. Numbers here are placeholders for local runs; real
// deployments inject the tuned table via BALANCE_TABLE_PATH.
func DefaultBalanceTable() *BalanceTable {
	return &BalanceTable{
		BaseRates: map[string]uint64{
			"kiosk":      1_000_000,
			"cafe":       4_500_000,
			"factory":    20_000_000,
			"skyscraper": 95_000_000,
		},
		LevelStep: decimal.NewFromFloat(1.15),
		SlotBonuses: map[uint32]decimal.Decimal{
			3: decimal.NewFromInt(5),
			5: decimal.NewFromInt(10),
			7: decimal.NewFromInt(15),
			9: decimal.NewFromInt(25),
		},
	}
}

// LoadBalanceTable reads the table from the given JSON file, falling back
// to the defaults when path is empty.
func LoadBalanceTable(path string) (*BalanceTable, error) {
	if path == "" {
		return DefaultBalanceTable(), nil
	}

	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read balance table: %w", err)
	}

	var table BalanceTable
	if err := json.Unmarshal(buf, &table); err != nil {
		return nil, fmt.Errorf("parse balance table: %w", err)
	}
	if len(table.BaseRates) == 0 {
		return nil, fmt.Errorf("balance table %s has no base rates", path)
	}
	return &table, nil
}

// AccrualRate computes base units per hour for a business. It is a pure
// function of its inputs; rates are recomputed wherever needed and never
// stored, so a table change cannot drift against persisted state.
func (t *BalanceTable) AccrualRate(businessType string, level uint32, slot uint32) uint64 {
	base, ok := t.BaseRates[businessType]
	if !ok || level == 0 {
		return 0
	}

	rate := decimal.NewFromUint64(base)
	for i := uint32(1); i < level; i++ {
		rate = rate.Mul(t.LevelStep)
	}

	if bonus, ok := t.SlotBonuses[slot]; ok {
		rate = rate.Mul(decimal.NewFromInt(100).Add(bonus)).Div(decimal.NewFromInt(100))
	}

	return uint64(rate.IntPart())
}
