package game

import (
	"context"
	"fmt"
	"time"

	"github.com/tycoon-works/tycoonx/pkg/db/models/game"
	"github.com/tycoon-works/tycoonx/pkg/db/postgres"
)

// initReferralEdges creates the referral graph table. The referee is the
// primary key, which enforces in-degree <= 1 at the storage layer: an
// account can never gain a second direct referrer.
func (db *DB) initReferralEdges(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS referral_edges (
			referee_address TEXT PRIMARY KEY,
			referrer_address TEXT NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_referral_referrer ON referral_edges(referrer_address);
	`

	return db.Exec(ctx, query)
}

// initCommissionLedger creates the append-only commission ledger. The
// (source_event, level) uniqueness makes a re-credit of the same trigger
// at the same level impossible.
func (db *DB) initCommissionLedger(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS commission_ledger (
			id BIGSERIAL PRIMARY KEY,
			beneficiary TEXT NOT NULL,
			source_account TEXT NOT NULL,
			source_event TEXT NOT NULL,
			level SMALLINT NOT NULL,
			rate_applied TEXT NOT NULL,
			amount BIGINT NOT NULL,
			credited_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			UNIQUE (source_event, level)
		);

		CREATE INDEX IF NOT EXISTS idx_commission_beneficiary ON commission_ledger(beneficiary);
	`

	return db.Exec(ctx, query)
}

// InsertReferralEdge links referee to referrer. Fails on a duplicate
// referee; the fold step turns that into a rejected event.
func (db *DB) InsertReferralEdge(ctx context.Context, exec postgres.Executor, referrer, referee string, at time.Time) error {
	exec = db.exec(exec)
	query := `
		INSERT INTO referral_edges (referee_address, referrer_address, created_at)
		VALUES ($1, $2, $3)
	`

	_, err := exec.Exec(ctx, query, referee, referrer, at)
	return err
}

// GetReferrer returns the direct referrer of an account, or "" when none
// exists.
func (db *DB) GetReferrer(ctx context.Context, exec postgres.Executor, referee string) (string, error) {
	exec = db.exec(exec)
	query := `SELECT referrer_address FROM referral_edges WHERE referee_address = $1`

	var referrer string
	err := exec.QueryRow(ctx, query, referee).Scan(&referrer)
	if err != nil {
		if postgres.IsNoRows(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get referrer for %s: %w", referee, err)
	}
	return referrer, nil
}

// InsertCommission writes one immutable ledger row. A replay crediting
// the same trigger at the same level lands on the existing row: the
// ledger is the audit trail and survives projection rebuilds untouched.
func (db *DB) InsertCommission(ctx context.Context, exec postgres.Executor, entry *game.CommissionEntry) error {
	exec = db.exec(exec)
	query := `
		INSERT INTO commission_ledger (
			beneficiary, source_account, source_event, level, rate_applied, amount, credited_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (source_event, level) DO NOTHING
	`

	_, err := exec.Exec(ctx, query,
		entry.Beneficiary, entry.SourceAccount, entry.SourceEvent,
		entry.Level, entry.RateApplied, entry.Amount, entry.CreditedAt,
	)
	return err
}

// AddCommissionBalance bumps the beneficiary's convenience balance. Runs
// in the same transaction as the matching ledger insert, always.
func (db *DB) AddCommissionBalance(ctx context.Context, exec postgres.Executor, beneficiary string, amount uint64) error {
	exec = db.exec(exec)
	query := `UPDATE players SET commission_balance = commission_balance + $2, updated_at = NOW() WHERE address = $1`

	_, err := exec.Exec(ctx, query, beneficiary, amount)
	return err
}

// GetCommissionSummary aggregates a beneficiary's ledger by level. The
// summary is always re-derived from the ledger rather than read from the
// balance column, so it doubles as the audit view.
func (db *DB) GetCommissionSummary(ctx context.Context, beneficiary string) (*game.CommissionSummary, error) {
	query := `
		SELECT level, COALESCE(SUM(amount), 0)
		FROM commission_ledger
		WHERE beneficiary = $1
		GROUP BY level
	`

	rows, err := db.Query(ctx, query, beneficiary)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize commissions: %w", err)
	}
	defer rows.Close()

	summary := &game.CommissionSummary{
		Beneficiary: beneficiary,
		ByLevel:     map[uint32]uint64{},
	}
	for rows.Next() {
		var level uint32
		var total uint64
		if err := rows.Scan(&level, &total); err != nil {
			return nil, err
		}
		summary.ByLevel[level] = total
		summary.Total += total
	}
	return summary, rows.Err()
}

// ListCommissions pages a beneficiary's ledger entries, newest first.
func (db *DB) ListCommissions(ctx context.Context, beneficiary string, limit int) ([]game.CommissionEntry, error) {
	query := `
		SELECT id, beneficiary, source_account, source_event, level, rate_applied, amount, credited_at
		FROM commission_ledger
		WHERE beneficiary = $1
		ORDER BY id DESC
		LIMIT $2
	`

	rows, err := db.Query(ctx, query, beneficiary, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list commissions: %w", err)
	}
	defer rows.Close()

	var out []game.CommissionEntry
	for rows.Next() {
		var e game.CommissionEntry
		if err := rows.Scan(&e.ID, &e.Beneficiary, &e.SourceAccount, &e.SourceEvent,
			&e.Level, &e.RateApplied, &e.Amount, &e.CreditedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
