package referral

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tycoon-works/tycoonx/pkg/db/models/game"
	"github.com/tycoon-works/tycoonx/pkg/db/postgres"
	"go.uber.org/zap"
)

// MaxDepth is how many ancestor levels earn commission.
const MaxDepth = 3

// cycleWalkBound caps the defensive edge-validation walk. Cycles are
// structurally impossible while in-degree <= 1 holds; the bound keeps the
// walk terminating even against corrupted data.
const cycleWalkBound = 16

// ErrBeneficiaryMissing marks a commission level whose beneficiary does
// not exist or is deactivated. The level is skipped and logged, never
// redirected to another account.
var ErrBeneficiaryMissing = errors.New("commission beneficiary missing or inactive")

// ErrEdgeRejected marks an edge that would corrupt the referral graph.
var ErrEdgeRejected = errors.New("referral edge rejected")

// Rates are fixed per ancestor level: direct referrer 10%, level 2 5%,
// level 3 2.5% of the qualifying amount.
var Rates = map[uint32]decimal.Decimal{
	1: decimal.New(10, -2),
	2: decimal.New(5, -2),
	3: decimal.New(25, -3),
}

// Store is the slice of the game store the engine needs. All methods
// accept an Executor so distribution runs inside the triggering event's
// transaction.
type Store interface {
	GetReferrer(ctx context.Context, exec postgres.Executor, referee string) (string, error)
	GetPlayerForUpdate(ctx context.Context, exec postgres.Executor, address string) (*game.Player, error)
	InsertCommission(ctx context.Context, exec postgres.Executor, entry *game.CommissionEntry) error
	AddCommissionBalance(ctx context.Context, exec postgres.Executor, beneficiary string, amount uint64) error
}

// Engine fans commission credits out through the referral graph.
type Engine struct {
	Store  Store
	Logger *zap.Logger
}

func NewEngine(store Store, logger *zap.Logger) *Engine {
	return &Engine{Store: store, Logger: logger.With(zap.String("component", "referral"))}
}

// Distribute walks up to MaxDepth ancestors of the acting account and
// credits each one proportionally. It must run inside the same
// transaction as the triggering event's application: either the event and
// every credit land, or none do.
func (e *Engine) Distribute(ctx context.Context, exec postgres.Executor, sourceAccount, sourceEvent string, amount uint64, at time.Time) ([]game.CommissionEntry, error) {
	if amount == 0 {
		return nil, nil
	}

	var credited []game.CommissionEntry
	visited := map[string]bool{sourceAccount: true}
	current := sourceAccount

	for level := uint32(1); level <= MaxDepth; level++ {
		referrer, err := e.Store.GetReferrer(ctx, exec, current)
		if err != nil {
			return nil, fmt.Errorf("walk level %d: %w", level, err)
		}
		if referrer == "" {
			break
		}
		if visited[referrer] {
			// In-degree <= 1 makes this unreachable; hitting it means the
			// graph is corrupted, so stop rather than loop.
			e.Logger.Error("Referral graph cycle detected, aborting walk",
				zap.String("source", sourceAccount),
				zap.String("at", referrer))
			break
		}
		visited[referrer] = true

		rate := Rates[level]
		share := rate.Mul(decimal.NewFromUint64(amount))
		shareUnits := uint64(share.IntPart())

		beneficiary, err := e.Store.GetPlayerForUpdate(ctx, exec, referrer)
		if err != nil {
			return nil, fmt.Errorf("load beneficiary %s: %w", referrer, err)
		}
		if beneficiary == nil || !beneficiary.IsActive {
			// Skipped, not redirected. Logged so the excluded share stays
			// visible to operators.
			e.Logger.Warn("Commission level skipped",
				zap.String("source", sourceAccount),
				zap.String("beneficiary", referrer),
				zap.Uint32("level", level),
				zap.Uint64("amount", shareUnits),
				zap.Error(ErrBeneficiaryMissing))
			current = referrer
			continue
		}

		if shareUnits > 0 {
			entry := game.CommissionEntry{
				Beneficiary:   referrer,
				SourceAccount: sourceAccount,
				SourceEvent:   sourceEvent,
				Level:         level,
				RateApplied:   rate.String(),
				Amount:        shareUnits,
				CreditedAt:    at,
			}
			if err := e.Store.InsertCommission(ctx, exec, &entry); err != nil {
				return nil, fmt.Errorf("credit level %d: %w", level, err)
			}
			if err := e.Store.AddCommissionBalance(ctx, exec, referrer, shareUnits); err != nil {
				return nil, fmt.Errorf("bump balance level %d: %w", level, err)
			}
			credited = append(credited, entry)
		}

		current = referrer
	}

	return credited, nil
}

// ValidateEdge rejects a proposed referrer->referee edge that would close
// a cycle. The referral_edges primary key already blocks a second
// referrer; this guards the other structural invariant.
func (e *Engine) ValidateEdge(ctx context.Context, exec postgres.Executor, referrer, referee string) error {
	if referrer == referee {
		return fmt.Errorf("%w: self-referral", ErrEdgeRejected)
	}

	visited := map[string]bool{}
	current := referrer
	for i := 0; i < cycleWalkBound; i++ {
		if current == referee {
			return fmt.Errorf("%w: would create cycle through %s", ErrEdgeRejected, referrer)
		}
		if current == "" || visited[current] {
			return nil
		}
		visited[current] = true

		next, err := e.Store.GetReferrer(ctx, exec, current)
		if err != nil {
			return fmt.Errorf("validate edge: %w", err)
		}
		current = next
	}
	return nil
}
