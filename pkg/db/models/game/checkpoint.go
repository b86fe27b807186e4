package game

import (
	"time"
)

// Checkpoint is the single durable indexing cursor for one program
// identity. Version implements optimistic concurrency: an advance only
// lands when the version it read is still current. Owner/LeaseExpires
// gate which indexer instance may advance at all.
type Checkpoint struct {
	ProgramID    string    `json:"programId"`
	LastSlot     uint64    `json:"lastSlot"`
	Version      uint64    `json:"version"`
	Owner        string    `json:"owner,omitempty"`
	LeaseExpires time.Time `json:"leaseExpires,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
