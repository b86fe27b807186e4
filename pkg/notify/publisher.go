package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tycoon-works/tycoonx/pkg/db/models/game"
	"go.uber.org/zap"
)

// Channel and stream name builders. Channels are per-program so one
// Redis can serve several deployed programs without crosstalk.
func PlayerChannel(programID string) string {
	return fmt.Sprintf("tycoon:%s:player.updated", programID)
}

func CommissionChannel(programID string) string {
	return fmt.Sprintf("tycoon:%s:commission.credited", programID)
}

func CommissionStream(programID string) string {
	return fmt.Sprintf("tycoon:%s:stream:commissions", programID)
}

// Publisher fans committed projection changes out to Redis. It satisfies
// the applier's notifier hook; every method is fire-and-forget because
// notification loss is acceptable and write rollback is not.
type Publisher struct {
	Redis     *Client
	ProgramID string
	Logger    *zap.Logger
}

func NewPublisher(client *Client, programID string, logger *zap.Logger) *Publisher {
	return &Publisher{
		Redis:     client,
		ProgramID: programID,
		Logger:    logger.With(zap.String("component", "notify")),
	}
}

// PlayerUpdated announces a player's new materialized state.
func (p *Publisher) PlayerUpdated(ctx context.Context, player *game.Player) {
	buf, err := json.Marshal(player)
	if err != nil {
		p.Logger.Warn("Failed to encode player update", zap.Error(err))
		return
	}
	p.Redis.Publish(ctx, PlayerChannel(p.ProgramID), buf)
}

// CommissionCredited announces one ledger credit and appends it to the
// capped commission stream for short-horizon catch-up reads.
func (p *Publisher) CommissionCredited(ctx context.Context, entry *game.CommissionEntry) {
	buf, err := json.Marshal(entry)
	if err != nil {
		p.Logger.Warn("Failed to encode commission credit", zap.Error(err))
		return
	}
	p.Redis.Publish(ctx, CommissionChannel(p.ProgramID), buf)
	p.Redis.XAdd(ctx, CommissionStream(p.ProgramID), map[string]interface{}{
		"beneficiary": entry.Beneficiary,
		"level":       entry.Level,
		"amount":      entry.Amount,
		"source":      entry.SourceEvent,
	})
}
