package game

import (
	"context"
	"fmt"
	"time"

	"github.com/tycoon-works/tycoonx/pkg/db/models/game"
	"github.com/tycoon-works/tycoonx/pkg/db/postgres"
)

// initSchedule creates the earnings schedule table. The partial unique
// index enforces the core invariant: at most one live (due or leased)
// entry per player at any time. Resolved entries stay behind as the
// audit trail.
func (db *DB) initSchedule(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS earnings_schedule (
			id BIGSERIAL PRIMARY KEY,
			player_address TEXT NOT NULL,
			scheduled_at TIMESTAMP WITH TIME ZONE NOT NULL,
			status TEXT NOT NULL DEFAULT 'due',
			lease_owner TEXT NOT NULL DEFAULT '',
			lease_expires TIMESTAMP WITH TIME ZONE,
			attempt_count INT NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			resolved_at TIMESTAMP WITH TIME ZONE
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_schedule_one_live
			ON earnings_schedule(player_address)
			WHERE status IN ('due', 'leased');
		CREATE INDEX IF NOT EXISTS idx_schedule_due ON earnings_schedule(scheduled_at) WHERE status = 'due';
	`

	return db.Exec(ctx, query)
}

// InsertScheduleEntry creates the next cycle's entry for a player. If a
// live entry already exists the insert is a no-op, preserving the
// one-live-entry invariant under races.
func (db *DB) InsertScheduleEntry(ctx context.Context, exec postgres.Executor, player string, scheduledAt time.Time) error {
	exec = db.exec(exec)
	query := `
		INSERT INTO earnings_schedule (player_address, scheduled_at)
		VALUES ($1, $2)
		ON CONFLICT (player_address) WHERE status IN ('due', 'leased') DO NOTHING
	`

	_, err := exec.Exec(ctx, query, player, scheduledAt)
	return err
}

// LeaseDueEntries atomically claims up to limit due entries for the
// given owner. SKIP LOCKED makes a concurrent dispatcher pass over rows
// another worker is claiming instead of blocking on them, so overlap is
// a benign no-op rather than a conflict.
func (db *DB) LeaseDueEntries(ctx context.Context, owner string, now time.Time, leaseTTL time.Duration, limit int) ([]game.ScheduleEntry, error) {
	query := `
		UPDATE earnings_schedule SET
			status = 'leased',
			lease_owner = $1,
			lease_expires = $2
		WHERE id IN (
			SELECT id FROM earnings_schedule
			WHERE status = 'due' AND scheduled_at <= $3
			ORDER BY scheduled_at ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, player_address, scheduled_at, status, lease_owner, lease_expires,
		          attempt_count, last_error, created_at
	`

	rows, err := db.Query(ctx, query, owner, now.Add(leaseTTL), now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to lease due entries: %w", err)
	}
	defer rows.Close()

	var out []game.ScheduleEntry
	for rows.Next() {
		var e game.ScheduleEntry
		if err := rows.Scan(&e.ID, &e.PlayerAddress, &e.ScheduledAt, &e.Status,
			&e.LeaseOwner, &e.LeaseExpires, &e.AttemptCount, &e.LastError, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CompleteEntry marks a leased entry succeeded, guarded by lease
// ownership. Returns false when the lease has been lost, in which case
// the caller must abandon its write.
func (db *DB) CompleteEntry(ctx context.Context, exec postgres.Executor, id int64, owner string) (bool, error) {
	exec = db.exec(exec)
	query := `
		UPDATE earnings_schedule SET status = 'succeeded', resolved_at = NOW()
		WHERE id = $1 AND lease_owner = $2 AND status = 'leased' AND lease_expires > NOW()
	`

	tag, err := exec.Exec(ctx, query, id, owner)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// RequeueEntry returns a failed attempt to the due pool with a backoff
// applied to its scheduled time.
func (db *DB) RequeueEntry(ctx context.Context, id int64, owner string, nextAt time.Time, lastErr string) (bool, error) {
	query := `
		UPDATE earnings_schedule SET
			status = 'due',
			lease_owner = '',
			lease_expires = NULL,
			attempt_count = attempt_count + 1,
			scheduled_at = $3,
			last_error = $4
		WHERE id = $1 AND lease_owner = $2 AND status = 'leased'
	`

	tag, err := db.Pool.Exec(ctx, query, id, owner, nextAt, lastErr)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// FailEntry marks an entry terminally failed after the retry ceiling.
func (db *DB) FailEntry(ctx context.Context, id int64, owner string, lastErr string) (bool, error) {
	query := `
		UPDATE earnings_schedule SET
			status = 'failed',
			attempt_count = attempt_count + 1,
			last_error = $3,
			resolved_at = NOW()
		WHERE id = $1 AND lease_owner = $2 AND status = 'leased'
	`

	tag, err := db.Pool.Exec(ctx, query, id, owner, lastErr)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ReclaimExpiredLeases returns crashed workers' entries to the due pool.
// An expired lease with no terminal status is indistinguishable from a
// crash and is treated as one.
func (db *DB) ReclaimExpiredLeases(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE earnings_schedule SET
			status = 'due',
			lease_owner = '',
			lease_expires = NULL,
			attempt_count = attempt_count + 1
		WHERE status = 'leased' AND lease_expires <= $1
	`

	tag, err := db.Pool.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim expired leases: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetScheduleStatus returns the live entry for a player, or the most
// recently resolved one when no live entry exists.
func (db *DB) GetScheduleStatus(ctx context.Context, player string) (*game.ScheduleStatus, error) {
	query := `
		SELECT player_address, scheduled_at, status, attempt_count
		FROM earnings_schedule
		WHERE player_address = $1
		ORDER BY (status IN ('due', 'leased')) DESC, id DESC
		LIMIT 1
	`

	var s game.ScheduleStatus
	err := db.QueryRow(ctx, query, player).Scan(&s.PlayerAddress, &s.NextRecomputeAt, &s.Status, &s.AttemptCount)
	if err != nil {
		if postgres.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get schedule status: %w", err)
	}
	return &s, nil
}
