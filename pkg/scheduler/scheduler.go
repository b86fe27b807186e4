package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/tycoon-works/tycoonx/pkg/chain"
	gamemodels "github.com/tycoon-works/tycoonx/pkg/db/models/game"
	"github.com/tycoon-works/tycoonx/pkg/db/postgres"
	"github.com/tycoon-works/tycoonx/pkg/retry"
	"go.uber.org/zap"
)

var (
	// ErrLeaseExpired is returned when a worker finds its lease gone at
	// commit time. The entry belongs to someone else now; the worker's
	// transaction rolls back and it walks away.
	ErrLeaseExpired = errors.New("schedule lease expired")

	// ErrSchedulingExhausted marks an entry that hit the retry ceiling.
	ErrSchedulingExhausted = errors.New("retry ceiling reached")
)

// ChainClock is the one upstream read a recompute needs: the chain's
// notion of time for an account, so accrual stamps cannot drift with
// local clocks.
type ChainClock interface {
	AccountClock(ctx context.Context, address string) (time.Time, error)
}

// Store is the slice of the game store the scheduler drives.
type Store interface {
	ReclaimExpiredLeases(ctx context.Context, now time.Time) (int64, error)
	LeaseDueEntries(ctx context.Context, owner string, now time.Time, leaseTTL time.Duration, limit int) ([]gamemodels.ScheduleEntry, error)
	CompleteEntry(ctx context.Context, exec postgres.Executor, id int64, owner string) (bool, error)
	RequeueEntry(ctx context.Context, id int64, owner string, nextAt time.Time, lastErr string) (bool, error)
	FailEntry(ctx context.Context, id int64, owner string, lastErr string) (bool, error)
	InsertScheduleEntry(ctx context.Context, exec postgres.Executor, player string, scheduledAt time.Time) error
	SetNextRecompute(ctx context.Context, exec postgres.Executor, address string, at time.Time) error
	GetPlayer(ctx context.Context, address string) (*gamemodels.Player, error)
	ListBusinesses(ctx context.Context, exec postgres.Executor, address string) ([]gamemodels.Business, error)
}

// Applier commits the synthetic recompute event plus the caller's hook
// in one transaction.
type Applier interface {
	ApplyEventWith(ctx context.Context, ev *chain.Event, hook func(tx pgx.Tx) error) error
}

// Config tunes the dispatch loop. Defaults suit a single scheduler
// instance; several instances can run the same config safely because
// every entry transition is lease-guarded.
type Config struct {
	// Window is the scheduling cycle length. Every active player gets
	// exactly one recompute per window, at their hashed offset.
	Window time.Duration
	// CronSpec drives the dispatch pass (seconds field included).
	CronSpec string

	BatchSize    int
	LeaseTTL     time.Duration
	RetryCeiling uint32
	WorkerCount  int
	CallTimeout  time.Duration
	Backoff      retry.Config
}

func DefaultConfig() Config {
	return Config{
		Window:       24 * time.Hour,
		CronSpec:     "*/30 * * * * *",
		BatchSize:    200,
		LeaseTTL:     2 * time.Minute,
		RetryCeiling: 5,
		WorkerCount:  16,
		CallTimeout:  15 * time.Second,
		Backoff:      retry.DefaultConfig(),
	}
}

// Scheduler leases due earnings entries in batches and recomputes each
// player's accrual through the same transactional apply path the indexer
// uses. Completing the entry, crediting the delta, and planting the next
// cycle's entry all commit together.
type Scheduler struct {
	DB      Store
	Applier Applier
	Chain   ChainClock
	Balance *chain.BalanceTable
	Logger  *zap.Logger
	Cfg     Config

	owner string
	cron  *cron.Cron
	pool  pond.Pool
}

func New(store Store, applier Applier, clock ChainClock, table *chain.BalanceTable, logger *zap.Logger, cfg Config) *Scheduler {
	return &Scheduler{
		DB:      store,
		Applier: applier,
		Chain:   clock,
		Balance: table,
		Logger:  logger.With(zap.String("component", "scheduler")),
		Cfg:     cfg,
		owner:   uuid.NewString(),
		pool:    pond.NewPool(cfg.WorkerCount),
	}
}

// Start arms the cron loop. Each tick runs one bounded dispatch pass;
// the Recover chain keeps a panicking pass from killing the process.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cron.DefaultLogger)))

	_, err := s.cron.AddFunc(s.Cfg.CronSpec, func() {
		dctx, cancel := context.WithTimeout(ctx, s.Cfg.LeaseTTL)
		defer cancel()
		if err := s.Dispatch(dctx); err != nil {
			s.Logger.Error("Dispatch pass failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule dispatch: %w", err)
	}

	s.cron.Start()
	return nil
}

// Stop halts the cron loop and drains in-flight workers.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.pool.StopAndWait()
}

// Dispatch runs one pass: sweep expired leases back to due, lease a
// batch of due entries under this instance's owner id, and fan the batch
// out to the worker pool. Entries another instance grabbed first simply
// do not show up in the batch.
func (s *Scheduler) Dispatch(ctx context.Context) error {
	now := time.Now().UTC()

	reclaimed, err := s.DB.ReclaimExpiredLeases(ctx, now)
	if err != nil {
		return fmt.Errorf("reclaim expired leases: %w", err)
	}
	if reclaimed > 0 {
		s.Logger.Warn("Reclaimed expired leases", zap.Int64("count", reclaimed))
	}

	entries, err := s.DB.LeaseDueEntries(ctx, s.owner, now, s.Cfg.LeaseTTL, s.Cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("lease due entries: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	s.Logger.Info("Dispatching batch", zap.Int("entries", len(entries)))

	group := s.pool.NewGroup()
	for _, entry := range entries {
		group.SubmitErr(func() error {
			s.process(ctx, entry)
			return nil
		})
	}
	return group.Wait()
}

// process resolves one leased entry. Recompute errors are absorbed into
// the entry's retry state here; nothing propagates, so one bad player
// cannot sink the batch.
func (s *Scheduler) process(ctx context.Context, entry gamemodels.ScheduleEntry) {
	err := s.recompute(ctx, entry)
	if err == nil {
		return
	}
	if errors.Is(err, ErrLeaseExpired) {
		s.Logger.Warn("Lost lease mid-recompute",
			zap.Int64("entry", entry.ID),
			zap.String("player", entry.PlayerAddress))
		return
	}

	attempt := entry.AttemptCount + 1
	if attempt >= s.Cfg.RetryCeiling {
		if _, failErr := s.DB.FailEntry(ctx, entry.ID, s.owner, err.Error()); failErr != nil {
			s.Logger.Error("Fail transition rejected", zap.Int64("entry", entry.ID), zap.Error(failErr))
			return
		}
		s.Logger.Error("Recompute abandoned",
			zap.Int64("entry", entry.ID),
			zap.String("player", entry.PlayerAddress),
			zap.Uint32("attempts", attempt),
			zap.Error(fmt.Errorf("%w: %v", ErrSchedulingExhausted, err)))
		return
	}

	nextAt := time.Now().UTC().Add(retry.NextDelay(s.Cfg.Backoff, int(attempt)))
	if _, reqErr := s.DB.RequeueEntry(ctx, entry.ID, s.owner, nextAt, err.Error()); reqErr != nil {
		s.Logger.Error("Requeue rejected", zap.Int64("entry", entry.ID), zap.Error(reqErr))
		return
	}
	s.Logger.Warn("Recompute requeued",
		zap.Int64("entry", entry.ID),
		zap.String("player", entry.PlayerAddress),
		zap.Uint32("attempt", attempt),
		zap.Time("next", nextAt),
		zap.Error(err))
}

// recompute computes the player's accrued delta for the cycle and folds
// it as a synthetic recompute event. The applier hook retires the leased
// entry and plants the next cycle's one inside the same transaction, so
// either everything lands or the lease eventually expires and the entry
// is retried whole.
func (s *Scheduler) recompute(ctx context.Context, entry gamemodels.ScheduleEntry) error {
	player, err := s.DB.GetPlayer(ctx, entry.PlayerAddress)
	if err != nil {
		return err
	}
	if player == nil || !player.IsActive {
		// No live player behind the entry; retire it without a successor.
		held, err := s.DB.CompleteEntry(ctx, nil, entry.ID, s.owner)
		if err != nil {
			return err
		}
		if !held {
			return ErrLeaseExpired
		}
		s.Logger.Info("Retired entry for inactive player",
			zap.Int64("entry", entry.ID),
			zap.String("player", entry.PlayerAddress))
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, s.Cfg.CallTimeout)
	asOf, err := s.Chain.AccountClock(cctx, entry.PlayerAddress)
	cancel()
	if err != nil {
		return fmt.Errorf("account clock %s: %w", entry.PlayerAddress, err)
	}

	businesses, err := s.DB.ListBusinesses(ctx, nil, entry.PlayerAddress)
	if err != nil {
		return err
	}
	delta := s.accrued(businesses)

	ev := &chain.Event{
		Key:        chain.Key{TxSignature: fmt.Sprintf("recompute-%d", entry.ID)},
		Kind:       chain.KindRecompute,
		Account:    entry.PlayerAddress,
		Payload:    chain.RecomputePayload{Delta: delta, ComputedAt: asOf},
		ObservedAt: time.Now().UTC(),
	}
	next := NextOffset(entry.PlayerAddress, entry.ScheduledAt, s.Cfg.Window)

	applyErr := s.Applier.ApplyEventWith(ctx, ev, func(tx pgx.Tx) error {
		held, err := s.DB.CompleteEntry(ctx, tx, entry.ID, s.owner)
		if err != nil {
			return err
		}
		if !held {
			return ErrLeaseExpired
		}
		if err := s.DB.InsertScheduleEntry(ctx, tx, entry.PlayerAddress, next); err != nil {
			return err
		}
		return s.DB.SetNextRecompute(ctx, tx, entry.PlayerAddress, next)
	})
	if applyErr != nil {
		return applyErr
	}

	s.Logger.Debug("Recompute committed",
		zap.Int64("entry", entry.ID),
		zap.String("player", entry.PlayerAddress),
		zap.Uint64("delta", delta),
		zap.Time("next", next))
	return nil
}

// accrued sums one full window of yield across the player's businesses.
// Rates are base units per hour, recomputed from the balance table, never
// read back from storage.
func (s *Scheduler) accrued(businesses []gamemodels.Business) uint64 {
	hours := decimal.NewFromFloat(s.Cfg.Window.Hours())

	total := decimal.Zero
	for _, b := range businesses {
		rate := s.Balance.AccrualRate(b.BusinessType, b.Level, b.Slot)
		total = total.Add(decimal.NewFromUint64(rate).Mul(hours))
	}
	return uint64(total.IntPart())
}
