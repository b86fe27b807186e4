package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tycoon-works/tycoonx/pkg/db/models/game"
	"github.com/tycoon-works/tycoonx/pkg/db/postgres"
)

// ErrCheckpointConflict is returned when a compare-and-swap advance loses
// the race: the row's version moved, or the caller no longer holds the
// lease. The caller must re-read and retry from the new cursor.
var ErrCheckpointConflict = errors.New("checkpoint advance conflict")

// initCheckpoint creates the single-row-per-program indexing cursor.
func (db *DB) initCheckpoint(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS index_checkpoint (
			program_id TEXT PRIMARY KEY,
			last_slot BIGINT NOT NULL DEFAULT 0,
			version BIGINT NOT NULL DEFAULT 0,
			owner TEXT NOT NULL DEFAULT '',
			lease_expires TIMESTAMP WITH TIME ZONE,
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);
	`

	return db.Exec(ctx, query)
}

// EnsureCheckpoint creates the cursor row for a program when missing.
func (db *DB) EnsureCheckpoint(ctx context.Context, programID string, startSlot uint64) error {
	query := `
		INSERT INTO index_checkpoint (program_id, last_slot)
		VALUES ($1, $2)
		ON CONFLICT (program_id) DO NOTHING
	`

	return db.Exec(ctx, query, programID, startSlot)
}

// GetCheckpoint reads the durable cursor.
func (db *DB) GetCheckpoint(ctx context.Context, programID string) (*game.Checkpoint, error) {
	query := `
		SELECT program_id, last_slot, version, owner,
		       COALESCE(lease_expires, 'epoch'::timestamptz), updated_at
		FROM index_checkpoint
		WHERE program_id = $1
	`

	var cp game.Checkpoint
	err := db.QueryRow(ctx, query, programID).Scan(
		&cp.ProgramID, &cp.LastSlot, &cp.Version, &cp.Owner, &cp.LeaseExpires, &cp.UpdatedAt,
	)
	if err != nil {
		if postgres.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	return &cp, nil
}

// AcquireCheckpointLease takes or renews checkpoint-advance authority.
// Only one instance holds it at a time; a standby acquires it only after
// the current owner's lease expires.
func (db *DB) AcquireCheckpointLease(ctx context.Context, programID, owner string, ttl time.Duration) (bool, error) {
	query := `
		UPDATE index_checkpoint SET
			owner = $2,
			lease_expires = NOW() + make_interval(secs => $3),
			updated_at = NOW()
		WHERE program_id = $1
		  AND (owner = $2 OR owner = '' OR lease_expires IS NULL OR lease_expires <= NOW())
	`

	tag, err := db.Pool.Exec(ctx, query, programID, owner, ttl.Seconds())
	if err != nil {
		return false, fmt.Errorf("failed to acquire checkpoint lease: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// AdvanceCheckpoint moves the cursor forward under optimistic versioning.
// The write lands only if the version the caller read is still current
// and the caller still owns the lease; anything else is a conflict.
func (db *DB) AdvanceCheckpoint(ctx context.Context, programID string, newSlot, expectedVersion uint64, owner string) error {
	query := `
		UPDATE index_checkpoint SET
			last_slot = $2,
			version = version + 1,
			updated_at = NOW()
		WHERE program_id = $1
		  AND version = $3
		  AND owner = $4
		  AND lease_expires > NOW()
		  AND last_slot <= $2
	`

	tag, err := db.Pool.Exec(ctx, query, programID, newSlot, expectedVersion, owner)
	if err != nil {
		return fmt.Errorf("failed to advance checkpoint: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return ErrCheckpointConflict
	}
	return nil
}
