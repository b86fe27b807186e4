package chain

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccrualRate(t *testing.T) {
	table := &BalanceTable{
		BaseRates:   map[string]uint64{"kiosk": 1000},
		LevelStep:   decimal.NewFromFloat(1.5),
		SlotBonuses: map[uint32]decimal.Decimal{3: decimal.NewFromInt(10)},
	}

	tests := []struct {
		name         string
		businessType string
		level        uint32
		slot         uint32
		want         uint64
	}{
		{name: "level 1 base rate", businessType: "kiosk", level: 1, slot: 0, want: 1000},
		{name: "level 3 compounds the step", businessType: "kiosk", level: 3, slot: 0, want: 2250},
		{name: "bonus slot adds 10%", businessType: "kiosk", level: 1, slot: 3, want: 1100},
		{name: "unknown type yields zero", businessType: "casino", level: 1, slot: 0, want: 0},
		{name: "level zero yields zero", businessType: "kiosk", level: 0, slot: 0, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, table.AccrualRate(tt.businessType, tt.level, tt.slot))
		})
	}
}

func TestAccrualRateIsPure(t *testing.T) {
	table := DefaultBalanceTable()
	first := table.AccrualRate("factory", 5, 5)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, table.AccrualRate("factory", 5, 5))
	}
}

func TestLoadBalanceTable(t *testing.T) {
	t.Run("empty path falls back to defaults", func(t *testing.T) {
		table, err := LoadBalanceTable("")
		require.NoError(t, err)
		assert.NotEmpty(t, table.BaseRates)
	})

	t.Run("valid file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "balance.json")
		body := `{"baseRates":{"kiosk":500},"levelStep":"1.2","slotBonuses":{"2":"5"}}`
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

		table, err := LoadBalanceTable(path)
		require.NoError(t, err)
		assert.Equal(t, uint64(500), table.BaseRates["kiosk"])
		assert.Equal(t, uint64(600), table.AccrualRate("kiosk", 2, 0))
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadBalanceTable(filepath.Join(t.TempDir(), "nope.json"))
		assert.Error(t, err)
	})

	t.Run("no base rates", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "empty.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"baseRates":{}}`), 0o600))

		_, err := LoadBalanceTable(path)
		assert.Error(t, err)
	})
}
