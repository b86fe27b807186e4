package game

import (
	"context"
	"fmt"
	"time"

	"github.com/tycoon-works/tycoonx/pkg/db/models/game"
	"github.com/tycoon-works/tycoonx/pkg/db/postgres"
)

// initPlayers creates the player projection table.
func (db *DB) initPlayers(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS players (
			address TEXT PRIMARY KEY,
			earnings_balance BIGINT NOT NULL DEFAULT 0,
			commission_balance BIGINT NOT NULL DEFAULT 0,
			slot_capacity INT NOT NULL DEFAULT 2,
			is_active BOOLEAN NOT NULL DEFAULT true,
			next_recompute_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			last_applied_sequence BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_players_active ON players(is_active);
	`

	return db.Exec(ctx, query)
}

// initBusinesses creates the owned-business projection table.
func (db *DB) initBusinesses(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS businesses (
			player_address TEXT NOT NULL,
			slot INT NOT NULL,
			business_type TEXT NOT NULL,
			level INT NOT NULL DEFAULT 1,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			PRIMARY KEY (player_address, slot)
		);
	`

	return db.Exec(ctx, query)
}

// GetPlayerForUpdate loads a player row with a row lock, serializing
// concurrent event application for the same account. Returns nil when the
// player does not exist yet.
func (db *DB) GetPlayerForUpdate(ctx context.Context, exec postgres.Executor, address string) (*game.Player, error) {
	return db.getPlayer(ctx, exec, address, true)
}

// GetPlayer loads a player snapshot without locking.
func (db *DB) GetPlayer(ctx context.Context, address string) (*game.Player, error) {
	return db.getPlayer(ctx, db.Pool, address, false)
}

func (db *DB) getPlayer(ctx context.Context, exec postgres.Executor, address string, forUpdate bool) (*game.Player, error) {
	exec = db.exec(exec)
	query := `
		SELECT address, earnings_balance, commission_balance, slot_capacity,
		       is_active, next_recompute_at, last_applied_sequence, created_at, updated_at
		FROM players
		WHERE address = $1
	`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var p game.Player
	err := exec.QueryRow(ctx, query, address).Scan(
		&p.Address, &p.EarningsBalance, &p.CommissionBalance, &p.SlotCapacity,
		&p.IsActive, &p.NextRecomputeAt, &p.LastAppliedSequence, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if postgres.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get player %s: %w", address, err)
	}

	return &p, nil
}

// UpsertPlayer writes a folded player state back to the projection.
func (db *DB) UpsertPlayer(ctx context.Context, exec postgres.Executor, p *game.Player) error {
	exec = db.exec(exec)
	query := `
		INSERT INTO players (
			address, earnings_balance, commission_balance, slot_capacity,
			is_active, next_recompute_at, last_applied_sequence, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (address) DO UPDATE SET
			earnings_balance = EXCLUDED.earnings_balance,
			commission_balance = EXCLUDED.commission_balance,
			slot_capacity = EXCLUDED.slot_capacity,
			is_active = EXCLUDED.is_active,
			next_recompute_at = EXCLUDED.next_recompute_at,
			last_applied_sequence = EXCLUDED.last_applied_sequence,
			updated_at = NOW()
	`

	_, err := exec.Exec(ctx, query,
		p.Address, p.EarningsBalance, p.CommissionBalance, p.SlotCapacity,
		p.IsActive, p.NextRecomputeAt, p.LastAppliedSequence, p.CreatedAt,
	)
	return err
}

// UpsertBusiness writes one business instance.
func (db *DB) UpsertBusiness(ctx context.Context, exec postgres.Executor, b *game.Business) error {
	exec = db.exec(exec)
	query := `
		INSERT INTO businesses (player_address, slot, business_type, level, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (player_address, slot) DO UPDATE SET
			business_type = EXCLUDED.business_type,
			level = EXCLUDED.level
	`

	_, err := exec.Exec(ctx, query, b.PlayerAddress, b.Slot, b.BusinessType, b.Level, b.CreatedAt)
	return err
}

// ListBusinesses returns the businesses owned by a player, slot order.
func (db *DB) ListBusinesses(ctx context.Context, exec postgres.Executor, address string) ([]game.Business, error) {
	exec = db.exec(exec)
	query := `
		SELECT player_address, slot, business_type, level, created_at
		FROM businesses
		WHERE player_address = $1
		ORDER BY slot ASC
	`

	rows, err := exec.Query(ctx, query, address)
	if err != nil {
		return nil, fmt.Errorf("failed to list businesses: %w", err)
	}
	defer rows.Close()

	var out []game.Business
	for rows.Next() {
		var b game.Business
		if err := rows.Scan(&b.PlayerAddress, &b.Slot, &b.BusinessType, &b.Level, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// TruncateProjection wipes the derived tables ahead of a full replay.
// Only genuinely derived state goes: the event store is the replay
// source, and the commission ledger and earnings schedule are audit
// trails that are archived, never deleted. Replay re-credits land on
// their existing ledger rows and re-seeded schedule entries no-op
// against the live one.
func (db *DB) TruncateProjection(ctx context.Context) error {
	query := `TRUNCATE players, businesses, referral_edges`
	return db.Exec(ctx, query)
}

// SetNextRecompute stamps the player's next scheduled recompute time.
func (db *DB) SetNextRecompute(ctx context.Context, exec postgres.Executor, address string, at time.Time) error {
	exec = db.exec(exec)
	query := `UPDATE players SET next_recompute_at = $2, updated_at = NOW() WHERE address = $1`
	_, err := exec.Exec(ctx, query, address, at)
	return err
}
