package metrics

import (
	"context"
	"fmt"

	"hedgie-bot-go/internal/models"

	"go.uber.org/zap"
)

// CounterStore is the trade-log surface the recorder updates.
type CounterStore interface {
	InitMetrics(ctx context.Context, accountID int64, order models.CompletedOrder) error
	RecordTrade(ctx context.Context, order models.CompletedOrder) error
}

// Recorder folds completed orders into the per-account counters.
type Recorder struct {
	counters CounterStore
	logger   *zap.SugaredLogger
}

// NewRecorder builds a recorder over the trade log.
func NewRecorder(counters CounterStore, logger *zap.SugaredLogger) *Recorder {
	return &Recorder{counters: counters, logger: logger}
}

// HandleCompleted updates the counters for one completed order,
// seeding the account's row on first sight.
func (r *Recorder) HandleCompleted(ctx context.Context, order models.CompletedOrder) error {
	if err := r.counters.InitMetrics(ctx, order.AccountID, order); err != nil {
		return fmt.Errorf("seed counters for account %d: %w", order.AccountID, err)
	}
	if err := r.counters.RecordTrade(ctx, order); err != nil {
		return fmt.Errorf("count trade %s: %w", order.OrderID, err)
	}
	r.logger.Debugw("trade counted", "orderId", order.OrderID, "accountId", order.AccountID)
	return nil
}
