package projection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/tycoon-works/tycoonx/pkg/chain"
	gamedb "github.com/tycoon-works/tycoonx/pkg/db/game"
	"github.com/tycoon-works/tycoonx/pkg/db/models/game"
	"github.com/tycoon-works/tycoonx/pkg/referral"
	"go.uber.org/zap"
)

// Notifier receives projection changes after they commit. Publication is
// best-effort and must never fail the transaction that produced it.
type Notifier interface {
	PlayerUpdated(ctx context.Context, player *game.Player)
	CommissionCredited(ctx context.Context, entry *game.CommissionEntry)
}

// Applier owns all writes to the projection. Every mutation stemming
// from one event, the event-status flip, the player fold result, referral
// edges, commission credits, runs in a single transaction.
type Applier struct {
	DB       *gamedb.DB
	Referral *referral.Engine
	Logger   *zap.Logger

	// NextOffset assigns a player's recompute time when the applier seeds
	// the first schedule entry; wired to the scheduler's offset hash.
	NextOffset func(address string, from time.Time) time.Time

	// Notifier may be nil (replay runs without one).
	Notifier Notifier
}

func NewApplier(db *gamedb.DB, engine *referral.Engine, logger *zap.Logger) *Applier {
	return &Applier{
		DB:       db,
		Referral: engine,
		Logger:   logger.With(zap.String("component", "projection")),
	}
}

// ApplyEvent folds one decoded event into the projection. It is
// idempotent: replaying an already-applied sequence is a committed no-op.
// A fold rejection commits the failed marker and returns nil; only
// infrastructure errors roll back and propagate.
func (a *Applier) ApplyEvent(ctx context.Context, ev *chain.Event) error {
	return a.ApplyEventWith(ctx, ev, nil)
}

// ApplyEventWith is ApplyEvent plus a caller hook that runs inside the
// same transaction, after the fold succeeds and before the event flips
// to applied. The scheduler uses it to retire its leased entry in the
// transaction that commits the recompute, so a crash can never credit
// earnings twice or strand a completed entry as due.
//
// Events without a chain position (SequenceID zero) are scheduler
// synthesized; they take the next id in the reserved synthetic range
// past the player's watermark, which orders them after the event they
// follow without ever shadowing a chain instruction's id.
func (a *Applier) ApplyEventWith(ctx context.Context, ev *chain.Event, hook func(tx pgx.Tx) error) error {
	return a.apply(ctx, ev, hook, false)
}

// replay tells apply to fold rows that are already marked applied; the
// rebuild path walks the event store after truncating the projection,
// so the dedup short-circuit must not fire there.
func (a *Applier) apply(ctx context.Context, ev *chain.Event, hook func(tx pgx.Tx) error, replay bool) error {
	var (
		updated  *game.Player
		credited []game.CommissionEntry
	)

	wire, err := chain.MarshalPayload(ev.Account, ev.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload %s: %w", ev.Key, err)
	}

	txErr := a.DB.BeginFunc(ctx, func(tx pgx.Tx) error {
		player, err := a.DB.GetPlayerForUpdate(ctx, tx, ev.Account)
		if err != nil {
			return err
		}
		if ev.SequenceID == 0 {
			if player == nil {
				return fmt.Errorf("synthetic event %s for unknown player %s", ev.Key, ev.Account)
			}
			seq, err := chain.NextSyntheticID(player.LastAppliedSequence)
			if err != nil {
				return fmt.Errorf("synthetic event %s: %w", ev.Key, err)
			}
			ev.SequenceID = seq
		}

		row := &game.Event{
			Slot:             ev.Key.Slot,
			TxSignature:      ev.Key.TxSignature,
			InstructionIndex: ev.Key.InstructionIndex,
			SequenceID:       ev.SequenceID,
			Kind:             string(ev.Kind),
			Account:          ev.Account,
			Payload:          wire,
			Status:           string(chain.StatusPending),
			ObservedAt:       ev.ObservedAt,
		}
		if err := a.DB.InsertEvent(ctx, tx, row); err != nil {
			return err
		}
		if !replay {
			status, err := a.DB.EventStatusIn(ctx, tx, ev.Key)
			if err != nil {
				return err
			}
			if status == string(chain.StatusApplied) {
				return nil
			}
		}
		if player != nil && ev.SequenceID <= player.LastAppliedSequence {
			// At or below the watermark means an earlier pass already
			// folded it; flip the row for consistency and stop.
			return a.DB.MarkEventApplied(ctx, tx, ev.Key)
		}

		state, err := a.loadState(ctx, tx, player, ev.Account)
		if err != nil {
			return err
		}

		outcome, foldErr := Fold(state, ev)
		if foldErr != nil {
			if errors.Is(foldErr, ErrFoldRejected) {
				a.Logger.Warn("Event rejected",
					zap.String("key", ev.Key.String()),
					zap.String("kind", string(ev.Kind)),
					zap.Error(foldErr))
				return a.DB.MarkEventFailed(ctx, tx, ev.Key, foldErr.Error())
			}
			return foldErr
		}

		if outcome.NewEdge != nil {
			if err := a.Referral.ValidateEdge(ctx, tx, outcome.NewEdge.ReferrerAddress, outcome.NewEdge.RefereeAddress); err != nil {
				if errors.Is(err, referral.ErrEdgeRejected) {
					a.Logger.Warn("Referral edge rejected",
						zap.String("key", ev.Key.String()),
						zap.Error(err))
					return a.DB.MarkEventFailed(ctx, tx, ev.Key, err.Error())
				}
				return err
			}
			if err := a.DB.InsertReferralEdge(ctx, tx, outcome.NewEdge.ReferrerAddress, outcome.NewEdge.RefereeAddress, outcome.NewEdge.CreatedAt); err != nil {
				return err
			}
		}

		if outcome.SeedSchedule && a.NextOffset != nil {
			next := a.NextOffset(ev.Account, ev.ObservedAt)
			state.Player.NextRecomputeAt = next
			if err := a.DB.InsertScheduleEntry(ctx, tx, ev.Account, next); err != nil {
				return err
			}
		}

		if err := a.DB.UpsertPlayer(ctx, tx, state.Player); err != nil {
			return err
		}
		if outcome.Business != nil {
			if err := a.DB.UpsertBusiness(ctx, tx, outcome.Business); err != nil {
				return err
			}
		}

		if outcome.Commission != nil {
			entries, err := a.Referral.Distribute(ctx, tx,
				outcome.Commission.SourceAccount,
				outcome.Commission.SourceEvent.String(),
				outcome.Commission.Amount,
				outcome.Commission.At)
			if err != nil {
				return err
			}
			credited = entries
		}

		if hook != nil {
			if err := hook(tx); err != nil {
				return err
			}
		}

		updated = state.Player
		return a.DB.MarkEventApplied(ctx, tx, ev.Key)
	})
	if txErr != nil {
		return txErr
	}

	if a.Notifier != nil && updated != nil {
		a.Notifier.PlayerUpdated(ctx, updated)
		for i := range credited {
			a.Notifier.CommissionCredited(ctx, &credited[i])
		}
	}
	return nil
}

func (a *Applier) loadState(ctx context.Context, tx pgx.Tx, player *game.Player, account string) (*State, error) {
	state := &State{Player: player, Businesses: map[uint32]game.Business{}}

	if player == nil {
		return state, nil
	}

	businesses, err := a.DB.ListBusinesses(ctx, tx, account)
	if err != nil {
		return nil, err
	}
	for _, b := range businesses {
		state.Businesses[b.Slot] = b
	}

	referrer, err := a.DB.GetReferrer(ctx, tx, account)
	if err != nil {
		return nil, err
	}
	state.Referrer = referrer

	return state, nil
}
