package chain

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrDecode marks a malformed or unrecognized instruction payload. Decode
// failures are recorded and skipped; they never stop the indexing cursor.
var ErrDecode = errors.New("undecodable event payload")

// RawInstruction is one program instruction as delivered by the chain
// activity source.
type RawInstruction struct {
	Slot        uint64 `json:"slot"`
	TxSignature string `json:"txSignature"`
	TxIndex     uint32 `json:"txIndex"`
	Index       uint32 `json:"index"`
	Data        string `json:"data"` // base64 envelope
}

// envelope is the wire shape of an instruction payload.
type envelope struct {
	Kind    Kind            `json:"kind"`
	Account string          `json:"account"`
	Data    json.RawMessage `json:"data"`
}

// Decode turns a raw instruction into a typed Event. Unknown kinds are
// rejected explicitly rather than ignored, so a program upgrade that adds
// an event kind surfaces as failed rows instead of silent data loss.
func Decode(raw RawInstruction, observedAt time.Time) (*Event, error) {
	// Positions must fit the ten bits SequenceID packs them into;
	// anything wider would alias another instruction's id.
	if raw.TxIndex > 0x3FF || raw.Index > 0x3FF {
		return nil, fmt.Errorf("%w: position %d/%d out of sequence range", ErrDecode, raw.TxIndex, raw.Index)
	}

	buf, err := base64.StdEncoding.DecodeString(raw.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrDecode, err)
	}

	var env envelope
	if err := json.Unmarshal(buf, &env); err != nil {
		return nil, fmt.Errorf("%w: envelope: %v", ErrDecode, err)
	}
	if env.Account == "" {
		return nil, fmt.Errorf("%w: missing account", ErrDecode)
	}

	payload, err := decodePayload(env.Kind, env.Data)
	if err != nil {
		return nil, err
	}

	return &Event{
		Key: Key{
			Slot:             raw.Slot,
			TxSignature:      raw.TxSignature,
			InstructionIndex: raw.Index,
		},
		SequenceID: SequenceID(raw.Slot, raw.TxIndex, raw.Index),
		Kind:       env.Kind,
		Account:    env.Account,
		Payload:    payload,
		ObservedAt: observedAt.UTC(),
	}, nil
}

func decodePayload(kind Kind, data json.RawMessage) (Payload, error) {
	var (
		payload Payload
		err     error
	)

	switch kind {
	case KindPlayerCreate:
		payload, err = unmarshalPayload[PlayerCreatePayload](data)
	case KindPurchase:
		payload, err = unmarshalPayload[PurchasePayload](data)
	case KindUpgrade:
		payload, err = unmarshalPayload[UpgradePayload](data)
	case KindClaim:
		payload, err = unmarshalPayload[ClaimPayload](data)
	case KindRecompute:
		payload, err = unmarshalPayload[RecomputePayload](data)
	case KindReferralRegister:
		payload, err = unmarshalPayload[ReferralRegisterPayload](data)
	case KindSlotUnlock:
		payload, err = unmarshalPayload[SlotUnlockPayload](data)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrDecode, kind)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrDecode, kind, err)
	}
	return payload, nil
}

func unmarshalPayload[T Payload](data json.RawMessage) (Payload, error) {
	var v T
	if len(data) == 0 {
		return nil, errors.New("empty payload")
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// MarshalPayload serializes a payload back into the stored wire form so
// replay reads the exact bytes the indexer observed.
func MarshalPayload(account string, p Payload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	env, err := json.Marshal(envelope{Kind: p.EventKind(), Account: account, Data: data})
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(env), nil
}
