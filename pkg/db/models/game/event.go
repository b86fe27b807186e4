package game

import (
	"time"
)

// Event is one stored row of the append-only event store. Rows with
// status applied are never mutated again.
type Event struct {
	Slot             uint64    `json:"slot"`
	TxSignature      string    `json:"txSignature"`
	InstructionIndex uint32    `json:"instructionIndex"`
	SequenceID       uint64    `json:"sequenceId"`
	Kind             string    `json:"kind"`
	Account          string    `json:"account"`
	Payload          string    `json:"payload"` // base64 wire envelope
	Status           string    `json:"status"`
	FailReason       string    `json:"failReason,omitempty"`
	ObservedAt       time.Time `json:"observedAt"`
}
