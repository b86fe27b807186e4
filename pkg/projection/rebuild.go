package projection

import (
	"context"
	"fmt"
	"time"

	"github.com/tycoon-works/tycoonx/pkg/chain"
	"go.uber.org/zap"
)

const rebuildPageSize = 500

// Rebuild drops every derived table and folds the full event store back
// through the exact same apply path the indexer uses. Because the fold is
// deterministic and ordered by sequence id, the result is identical to
// the incrementally maintained projection.
func (a *Applier) Rebuild(ctx context.Context) error {
	start := time.Now()
	a.Logger.Info("Rebuilding projection from event store")

	if err := a.DB.TruncateProjection(ctx); err != nil {
		return fmt.Errorf("truncate projection: %w", err)
	}

	var (
		fromSeq uint64
		fromSig string
		total   int
	)
	for {
		rows, err := a.DB.ListAppliedEvents(ctx, fromSeq, fromSig, rebuildPageSize)
		if err != nil {
			return fmt.Errorf("list events from %d: %w", fromSeq, err)
		}
		if len(rows) == 0 {
			break
		}

		for _, row := range rows {
			ev, err := chain.Decode(chain.RawInstruction{
				Slot:        row.Slot,
				TxSignature: row.TxSignature,
				Index:       row.InstructionIndex,
				Data:        row.Payload,
			}, row.ObservedAt)
			if err != nil {
				// An applied row that no longer decodes means the store is
				// corrupted; replay cannot silently drop it.
				return fmt.Errorf("replay decode %d/%s/%d: %w",
					row.Slot, row.TxSignature, row.InstructionIndex, err)
			}
			ev.SequenceID = row.SequenceID

			if err := a.apply(ctx, ev, nil, true); err != nil {
				return fmt.Errorf("replay apply %s: %w", ev.Key, err)
			}
		}

		total += len(rows)
		last := rows[len(rows)-1]
		fromSeq, fromSig = last.SequenceID, last.TxSignature
	}

	a.Logger.Info("Projection rebuilt",
		zap.Int("events", total),
		zap.Duration("took", time.Since(start)))
	return nil
}
