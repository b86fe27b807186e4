package indexer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"github.com/tycoon-works/tycoonx/pkg/chain"
	gamedb "github.com/tycoon-works/tycoonx/pkg/db/game"
	gamemodels "github.com/tycoon-works/tycoonx/pkg/db/models/game"
	"github.com/tycoon-works/tycoonx/pkg/retry"
	"github.com/tycoon-works/tycoonx/pkg/rpc"
	"go.uber.org/zap"
)

// Store is the slice of the game store the indexer drives.
type Store interface {
	EnsureCheckpoint(ctx context.Context, programID string, startSlot uint64) error
	GetCheckpoint(ctx context.Context, programID string) (*gamemodels.Checkpoint, error)
	AcquireCheckpointLease(ctx context.Context, programID, owner string, ttl time.Duration) (bool, error)
	AdvanceCheckpoint(ctx context.Context, programID string, newSlot, expectedVersion uint64, owner string) error
	EventStatus(ctx context.Context, key chain.Key) (string, error)
	RecordFailedEvent(ctx context.Context, ev *gamemodels.Event) error
}

// Applier folds decoded events into the projection.
type Applier interface {
	ApplyEvent(ctx context.Context, ev *chain.Event) error
}

// Config tunes the ingest loop.
type Config struct {
	ProgramID         string
	ConfirmationDepth uint64
	StartSlot         uint64
	PollInterval      time.Duration
	// MaxSlotsPerPoll bounds one batch so a cold start cannot fetch the
	// whole history in a single upstream call.
	MaxSlotsPerPoll uint64
	// ApplyConcurrency bounds concurrent per-account apply groups.
	ApplyConcurrency int
	LeaseTTL         time.Duration
	CallTimeout      time.Duration
	Retry            retry.Config
}

// DefaultConfig returns production defaults.
func DefaultConfig(programID string) Config {
	return Config{
		ProgramID:         programID,
		ConfirmationDepth: 32,
		PollInterval:      2 * time.Second,
		MaxSlotsPerPoll:   5_000,
		ApplyConcurrency:  8,
		LeaseTTL:          30 * time.Second,
		CallTimeout:       15 * time.Second,
		Retry:             retry.Config{MaxRetries: 5, InitialDelay: time.Second, MaxDelay: 30 * time.Second, Multiplier: 2.0, JitterEnabled: true},
	}
}

// Indexer turns chain activity into applied events, exactly once, in
// causal per-account order. Multiple instances may run; only the one
// holding the checkpoint lease advances the cursor.
type Indexer struct {
	cfg     Config
	rpc     rpc.Client
	store   Store
	applier Applier
	logger  *zap.Logger
	owner   string
	pool    pond.Pool

	healthy atomic.Bool
}

func New(cfg Config, rpcClient rpc.Client, store Store, applier Applier, logger *zap.Logger) *Indexer {
	ix := &Indexer{
		cfg:     cfg,
		rpc:     rpcClient,
		store:   store,
		applier: applier,
		logger:  logger.With(zap.String("component", "indexer"), zap.String("program", cfg.ProgramID)),
		owner:   uuid.NewString(),
		pool:    pond.NewPool(cfg.ApplyConcurrency),
	}
	ix.healthy.Store(true)
	return ix
}

// Healthy reports whether the indexer considers itself operational.
// It flips to false when upstream retries are exhausted.
func (ix *Indexer) Healthy() bool {
	return ix.healthy.Load()
}

// Run polls until the context is cancelled. Exhausted upstream retries
// are fatal: the loop returns and the process needs operator attention.
func (ix *Indexer) Run(ctx context.Context) error {
	if err := ix.store.EnsureCheckpoint(ctx, ix.cfg.ProgramID, ix.cfg.StartSlot); err != nil {
		return fmt.Errorf("ensure checkpoint: %w", err)
	}

	ticker := time.NewTicker(ix.cfg.PollInterval)
	defer ticker.Stop()
	defer ix.pool.StopAndWait()

	for {
		select {
		case <-ctx.Done():
			ix.logger.Info("Indexer stopping")
			return nil
		case <-ticker.C:
		}

		held, err := ix.store.AcquireCheckpointLease(ctx, ix.cfg.ProgramID, ix.owner, ix.cfg.LeaseTTL)
		if err != nil {
			ix.logger.Warn("Checkpoint lease acquisition failed", zap.Error(err))
			continue
		}
		if !held {
			// Another instance owns the cursor; stay warm as a standby.
			continue
		}

		if err := ix.pollOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			if errors.Is(err, rpc.ErrUpstreamTransient) {
				ix.healthy.Store(false)
				ix.logger.Error("Upstream retries exhausted, indexer unhealthy", zap.Error(err))
				return err
			}
			ix.logger.Warn("Poll pass failed", zap.Error(err))
		}
	}
}

// pollOnce processes one batch: fetch finalized activity past the
// checkpoint, apply it, then advance the cursor under CAS.
func (ix *Indexer) pollOnce(ctx context.Context) error {
	cp, err := ix.store.GetCheckpoint(ctx, ix.cfg.ProgramID)
	if err != nil {
		return err
	}
	if cp == nil {
		return fmt.Errorf("checkpoint row missing for %s", ix.cfg.ProgramID)
	}

	var tip uint64
	err = retry.WithBackoff(ctx, ix.cfg.Retry, ix.logger, "finalized_slot", func() error {
		callCtx, cancel := context.WithTimeout(ctx, ix.cfg.CallTimeout)
		defer cancel()
		var slotErr error
		tip, slotErr = ix.rpc.FinalizedSlot(callCtx)
		return slotErr
	})
	if err != nil {
		return fmt.Errorf("%w: %v", rpc.ErrUpstreamTransient, err)
	}

	// Only slots at finality depth are ever read, so events from
	// abandoned forks never reach the store.
	head := uint64(0)
	if tip > ix.cfg.ConfirmationDepth {
		head = tip - ix.cfg.ConfirmationDepth
	}
	if head <= cp.LastSlot {
		return nil
	}

	to := head
	if to > cp.LastSlot+ix.cfg.MaxSlotsPerPoll {
		to = cp.LastSlot + ix.cfg.MaxSlotsPerPoll
	}

	var raws []chain.RawInstruction
	err = retry.WithBackoff(ctx, ix.cfg.Retry, ix.logger, "program_instructions", func() error {
		callCtx, cancel := context.WithTimeout(ctx, ix.cfg.CallTimeout)
		defer cancel()
		var fetchErr error
		raws, fetchErr = ix.rpc.ProgramInstructions(callCtx, ix.cfg.ProgramID, cp.LastSlot, to)
		return fetchErr
	})
	if err != nil {
		return fmt.Errorf("%w: %v", rpc.ErrUpstreamTransient, err)
	}

	if err := ix.applyBatch(ctx, raws); err != nil {
		return err
	}

	if err := ix.store.AdvanceCheckpoint(ctx, ix.cfg.ProgramID, to, cp.Version, ix.owner); err != nil {
		if errors.Is(err, gamedb.ErrCheckpointConflict) {
			// Lost the cursor mid-batch. The applied events are durable and
			// deduplicated, so whoever owns the cursor now re-covers this
			// range as no-ops.
			ix.logger.Warn("Checkpoint advance lost to another owner",
				zap.Uint64("attempted_slot", to))
			return nil
		}
		return err
	}

	ix.logger.Debug("Batch indexed",
		zap.Uint64("from_slot", cp.LastSlot),
		zap.Uint64("to_slot", to),
		zap.Int("instructions", len(raws)))
	return nil
}

// applyBatch decodes the raw feed and applies each account's events in
// ascending sequence order. Accounts are independent, so their groups run
// concurrently; ordering is only promised within one account.
func (ix *Indexer) applyBatch(ctx context.Context, raws []chain.RawInstruction) error {
	now := time.Now().UTC()
	byAccount := map[string][]*chain.Event{}

	for _, raw := range raws {
		ev, err := chain.Decode(raw, now)
		if err != nil {
			ix.logger.Warn("Skipping undecodable instruction",
				zap.Uint64("slot", raw.Slot),
				zap.String("tx", raw.TxSignature),
				zap.Uint32("index", raw.Index),
				zap.Error(err))
			failed := &gamemodels.Event{
				Slot:             raw.Slot,
				TxSignature:      raw.TxSignature,
				InstructionIndex: raw.Index,
				SequenceID:       chain.SequenceID(raw.Slot, raw.TxIndex, raw.Index),
				Kind:             "unknown",
				Account:          "",
				Payload:          raw.Data,
				FailReason:       err.Error(),
				ObservedAt:       now,
			}
			if recErr := ix.store.RecordFailedEvent(ctx, failed); recErr != nil {
				return fmt.Errorf("record failed event: %w", recErr)
			}
			continue
		}
		byAccount[ev.Account] = append(byAccount[ev.Account], ev)
	}

	group := ix.pool.NewGroup()
	for account, events := range byAccount {
		sort.Slice(events, func(i, j int) bool { return events[i].SequenceID < events[j].SequenceID })

		group.SubmitErr(func() error {
			for _, ev := range events {
				status, err := ix.store.EventStatus(ctx, ev.Key)
				if err != nil {
					return err
				}
				if status == string(chain.StatusApplied) {
					// At-least-once delivery plus this skip is the
					// exactly-once guarantee.
					continue
				}
				if err := ix.applier.ApplyEvent(ctx, ev); err != nil {
					return fmt.Errorf("apply %s for %s: %w", ev.Key, account, err)
				}
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		return err
	}
	return nil
}
