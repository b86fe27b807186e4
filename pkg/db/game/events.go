package game

import (
	"context"
	"fmt"

	"github.com/tycoon-works/tycoonx/pkg/chain"
	"github.com/tycoon-works/tycoonx/pkg/db/models/game"
	"github.com/tycoon-works/tycoonx/pkg/db/postgres"
)

// initEvents creates the append-only event store. The composite primary
// key is the de-duplication key; applied rows are never updated again.
func (db *DB) initEvents(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS events (
			slot BIGINT NOT NULL,
			tx_signature TEXT NOT NULL,
			instruction_index INT NOT NULL,
			sequence_id BIGINT NOT NULL,
			kind TEXT NOT NULL,
			account TEXT NOT NULL,
			payload TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			fail_reason TEXT NOT NULL DEFAULT '',
			observed_at TIMESTAMP WITH TIME ZONE NOT NULL,
			PRIMARY KEY (slot, tx_signature, instruction_index)
		);

		CREATE INDEX IF NOT EXISTS idx_events_account_seq ON events(account, sequence_id);
		CREATE INDEX IF NOT EXISTS idx_events_status ON events(status);
		CREATE INDEX IF NOT EXISTS idx_events_sequence ON events(sequence_id);
	`

	return db.Exec(ctx, query)
}

// InsertEvent records an observed event as pending. A replayed key is a
// no-op: the first write wins and the row is never overwritten.
func (db *DB) InsertEvent(ctx context.Context, exec postgres.Executor, ev *game.Event) error {
	exec = db.exec(exec)
	query := `
		INSERT INTO events (
			slot, tx_signature, instruction_index, sequence_id,
			kind, account, payload, status, fail_reason, observed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (slot, tx_signature, instruction_index) DO NOTHING
	`

	_, err := exec.Exec(ctx, query,
		ev.Slot, ev.TxSignature, ev.InstructionIndex, ev.SequenceID,
		ev.Kind, ev.Account, ev.Payload, ev.Status, ev.FailReason, ev.ObservedAt,
	)
	return err
}

// EventStatus returns the stored processing status for a key, or the
// empty string when the event has never been observed.
func (db *DB) EventStatus(ctx context.Context, key chain.Key) (string, error) {
	query := `
		SELECT status FROM events
		WHERE slot = $1 AND tx_signature = $2 AND instruction_index = $3
	`

	var status string
	err := db.QueryRow(ctx, query, key.Slot, key.TxSignature, key.InstructionIndex).Scan(&status)
	if err != nil {
		if postgres.IsNoRows(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to query event status: %w", err)
	}
	return status, nil
}

// MarkEventApplied transitions an event to applied. It runs inside the
// same transaction as the projection mutation it accounts for.
func (db *DB) MarkEventApplied(ctx context.Context, exec postgres.Executor, key chain.Key) error {
	exec = db.exec(exec)
	query := `
		UPDATE events SET status = 'applied', fail_reason = ''
		WHERE slot = $1 AND tx_signature = $2 AND instruction_index = $3 AND status <> 'applied'
	`

	_, err := exec.Exec(ctx, query, key.Slot, key.TxSignature, key.InstructionIndex)
	return err
}

// MarkEventFailed records a decode or fold rejection. Applied rows are
// immutable and cannot be demoted to failed.
func (db *DB) MarkEventFailed(ctx context.Context, exec postgres.Executor, key chain.Key, reason string) error {
	exec = db.exec(exec)
	query := `
		UPDATE events SET status = 'failed', fail_reason = $4
		WHERE slot = $1 AND tx_signature = $2 AND instruction_index = $3 AND status <> 'applied'
	`

	_, err := exec.Exec(ctx, query, key.Slot, key.TxSignature, key.InstructionIndex, reason)
	return err
}

// ListAppliedEvents pages applied events in ascending sequence order,
// starting strictly after the (fromSequence, fromSignature) cursor.
// Sequence ids are unique (synthetic ids live in the reserved range
// under their account's last chain position), the signature leg just
// keeps the cursor stable should that ever regress. This is the replay
// feed: folding every page from the zero cursor rebuilds the projection
// exactly.
func (db *DB) ListAppliedEvents(ctx context.Context, fromSequence uint64, fromSignature string, limit int) ([]*game.Event, error) {
	query := `
		SELECT slot, tx_signature, instruction_index, sequence_id,
		       kind, account, payload, status, fail_reason, observed_at
		FROM events
		WHERE status = 'applied' AND (sequence_id, tx_signature) > ($1, $2)
		ORDER BY sequence_id ASC, tx_signature ASC
		LIMIT $3
	`

	rows, err := db.Query(ctx, query, fromSequence, fromSignature, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list applied events: %w", err)
	}
	defer rows.Close()

	var out []*game.Event
	for rows.Next() {
		var ev game.Event
		if err := rows.Scan(
			&ev.Slot, &ev.TxSignature, &ev.InstructionIndex, &ev.SequenceID,
			&ev.Kind, &ev.Account, &ev.Payload, &ev.Status, &ev.FailReason, &ev.ObservedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

// RecordFailedEvent stores an event row directly in failed status. Used
// for undecodable instructions so they stay visible without ever blocking
// the cursor.
func (db *DB) RecordFailedEvent(ctx context.Context, ev *game.Event) error {
	ev.Status = string(chain.StatusFailed)
	return db.InsertEvent(ctx, db.Pool, ev)
}

// EventStatusIn is EventStatus scoped to an executor, for checks that
// must share the applying transaction.
func (db *DB) EventStatusIn(ctx context.Context, exec postgres.Executor, key chain.Key) (string, error) {
	exec = db.exec(exec)
	query := `
		SELECT status FROM events
		WHERE slot = $1 AND tx_signature = $2 AND instruction_index = $3
	`

	var status string
	err := exec.QueryRow(ctx, query, key.Slot, key.TxSignature, key.InstructionIndex).Scan(&status)
	if err != nil {
		if postgres.IsNoRows(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to query event status: %w", err)
	}
	return status, nil
}
