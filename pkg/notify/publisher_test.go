package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChannelNamesArePerProgram(t *testing.T) {
	assert.Equal(t, "tycoon:mainnet:player.updated", PlayerChannel("mainnet"))
	assert.Equal(t, "tycoon:mainnet:commission.credited", CommissionChannel("mainnet"))
	assert.Equal(t, "tycoon:mainnet:stream:commissions", CommissionStream("mainnet"))

	// Two programs sharing one Redis must never collide.
	assert.NotEqual(t, PlayerChannel("mainnet"), PlayerChannel("devnet"))
}
