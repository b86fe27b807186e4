package chain

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawWith(t *testing.T, body string) RawInstruction {
	t.Helper()
	return RawInstruction{
		Slot:        1000,
		TxSignature: "sigA",
		TxIndex:     3,
		Index:       1,
		Data:        base64.StdEncoding.EncodeToString([]byte(body)),
	}
}

func TestDecodePurchase(t *testing.T) {
	raw := rawWith(t, `{"kind":"purchase","account":"alice","data":{"businessType":"cafe","slot":1,"price":4500}}`)

	ev, err := Decode(raw, time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Equal(t, KindPurchase, ev.Kind)
	assert.Equal(t, "alice", ev.Account)
	assert.Equal(t, Key{Slot: 1000, TxSignature: "sigA", InstructionIndex: 1}, ev.Key)
	assert.Equal(t, SequenceID(1000, 3, 1), ev.SequenceID)

	p, ok := ev.Payload.(PurchasePayload)
	require.True(t, ok)
	assert.Equal(t, "cafe", p.BusinessType)
	assert.Equal(t, uint32(1), p.Slot)
	assert.Equal(t, uint64(4500), p.Price)
}

func TestDecodeRejections(t *testing.T) {
	tests := []struct {
		name string
		raw  RawInstruction
	}{
		{name: "bad base64", raw: RawInstruction{Data: "%%%not-base64%%%"}},
		{name: "bad envelope json", raw: rawWith(t, `{"kind":`)},
		{name: "missing account", raw: rawWith(t, `{"kind":"claim","data":{"amount":1}}`)},
		{name: "unknown kind", raw: rawWith(t, `{"kind":"governance_vote","account":"alice","data":{}}`)},
		{name: "empty payload", raw: rawWith(t, `{"kind":"claim","account":"alice"}`)},
		{name: "payload type mismatch", raw: rawWith(t, `{"kind":"claim","account":"alice","data":{"amount":"many"}}`)},
		{name: "tx index out of range", raw: RawInstruction{TxIndex: 1024}},
		{name: "instruction index out of range", raw: RawInstruction{Index: 1024}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.raw, time.Now())
			assert.ErrorIs(t, err, ErrDecode)
		})
	}
}

func TestMarshalPayloadRoundTrip(t *testing.T) {
	wire, err := MarshalPayload("alice", UpgradePayload{Slot: 2, Cost: 777})
	require.NoError(t, err)

	ev, err := Decode(RawInstruction{Slot: 5, TxSignature: "s", Index: 0, Data: wire}, time.Now())
	require.NoError(t, err)

	p, ok := ev.Payload.(UpgradePayload)
	require.True(t, ok)
	assert.Equal(t, uint32(2), p.Slot)
	assert.Equal(t, uint64(777), p.Cost)
}

func TestSequenceIDOrdering(t *testing.T) {
	// Slot dominates, then tx position, then instruction index.
	assert.Less(t, SequenceID(1, 1023, 1023), SequenceID(2, 0, 0))
	assert.Less(t, SequenceID(7, 1, 5), SequenceID(7, 2, 0))
	assert.Less(t, SequenceID(7, 2, 0), SequenceID(7, 2, 1))
}

func TestSyntheticIDsStayBetweenChainPositions(t *testing.T) {
	base := SequenceID(500, 3, 0)
	next := SequenceID(500, 3, 1) // adjacent instruction, same tx

	assert.Zero(t, base&0x3FF, "chain ids leave the synthetic range free")

	syn, err := NextSyntheticID(base)
	require.NoError(t, err)
	assert.Greater(t, syn, base)
	assert.Less(t, syn, next)

	// Chained synthetics walk the gap and error out at its end rather
	// than spilling into the next instruction's id.
	for i := 0; i < 1022; i++ {
		syn, err = NextSyntheticID(syn)
		require.NoError(t, err)
		assert.Less(t, syn, next)
	}
	_, err = NextSyntheticID(syn)
	assert.Error(t, err)
}

func TestKeyString(t *testing.T) {
	k := Key{Slot: 42, TxSignature: "abc", InstructionIndex: 3}
	assert.Equal(t, "42/abc/3", k.String())
}
