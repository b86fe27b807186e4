package game

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tycoon-works/tycoonx/pkg/db/postgres"
	"go.uber.org/zap"
)

// DB is the single storage layer shared by the indexer, the earnings
// scheduler and the query surface. Every table it owns maps to one of
// the core entities: event store, projection (players + businesses),
// referral edges, commission ledger, earnings schedule and the indexing
// checkpoint.
type DB struct {
	postgres.Client
}

// New connects to postgres and ensures all tables exist.
func New(ctx context.Context, logger *zap.Logger, component string) (*DB, error) {
	client, err := postgres.New(ctx, logger.With(zap.String("component", component)), postgres.DefaultPoolConfig(component))
	if err != nil {
		return nil, err
	}

	db := &DB{Client: client}
	if err := db.InitializeDB(ctx); err != nil {
		client.Close()
		return nil, err
	}

	return db, nil
}

// InitializeDB ensures the required tables exist. All DDL is idempotent
// and runs in parallel.
func (db *DB) InitializeDB(ctx context.Context) error {
	initStart := time.Now()

	initOps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"events", db.initEvents},
		{"players", db.initPlayers},
		{"businesses", db.initBusinesses},
		{"referral_edges", db.initReferralEdges},
		{"commission_ledger", db.initCommissionLedger},
		{"earnings_schedule", db.initSchedule},
		{"index_checkpoint", db.initCheckpoint},
	}

	var wg sync.WaitGroup
	errChan := make(chan error, len(initOps))

	for _, op := range initOps {
		wg.Add(1)
		go func(name string, fn func(context.Context) error) {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				errChan <- fmt.Errorf("init %s: %w", name, err)
			}
		}(op.name, op.fn)
	}

	wg.Wait()
	close(errChan)

	for err := range errChan {
		if err != nil {
			return err
		}
	}

	db.Logger.Info("Game database initialized",
		zap.Duration("took", time.Since(initStart)))

	return nil
}

// Close terminates the underlying PostgreSQL connection
func (db *DB) Close() error {
	db.Pool.Close()
	return nil
}

// exec defaults a nil Executor to the pool, so store methods can be
// called both inside and outside a transaction.
func (db *DB) exec(e postgres.Executor) postgres.Executor {
	if e == nil {
		return db.Pool
	}
	return e
}
