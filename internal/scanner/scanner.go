// Package scanner walks the standing triggers on a fixed cadence,
// evaluates each one against the latest price snapshot, and publishes
// the ones that fire.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hedgie-bot-go/internal/bus"
	"hedgie-bot-go/internal/engine"
	"hedgie-bot-go/internal/models"
	"hedgie-bot-go/internal/store"

	"go.uber.org/zap"
)

const pageSize = 200

// TriggerStore is the slice of the durable store the scanner walks.
type TriggerStore interface {
	ScanTriggers(ctx context.Context, cursor string, limit int) ([]models.Trigger, string, error)
	DeleteTrigger(ctx context.Context, accountID, timestamp int64) error
}

// SnapshotStore supplies the price and average snapshots one scan
// pass evaluates every trigger against.
type SnapshotStore interface {
	LatestPrice(ctx context.Context) (*models.PriceSample, error)
	LatestAverages(ctx context.Context) (*models.AverageSet, error)
}

// Publisher is the event-bus surface the scanner needs.
type Publisher interface {
	Publish(topic string, v interface{}) error
}

// Scanner evaluates standing triggers against one price snapshot per
// pass. A trigger that fires is published before it is deleted, so a
// crash between the two steps re-delivers rather than loses it.
type Scanner struct {
	triggers  TriggerStore
	snapshots SnapshotStore
	pub       Publisher
	logger    *zap.SugaredLogger
	now       func() time.Time

	// Fired is an optional hook invoked once per fired trigger.
	Fired func(reason models.FireReason)
}

// New builds a scanner over the given store slices.
func New(triggers TriggerStore, snapshots SnapshotStore, pub Publisher, logger *zap.SugaredLogger) *Scanner {
	return &Scanner{
		triggers:  triggers,
		snapshots: snapshots,
		pub:       pub,
		logger:    logger,
		now:       time.Now,
	}
}

// RunOnce performs a single scan pass and returns how many triggers
// were visited. With no price on record yet there is nothing to
// compare against and the pass is a no-op.
func (s *Scanner) RunOnce(ctx context.Context) (int, error) {
	last, err := s.snapshots.LatestPrice(ctx)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Debug("scan skipped, no price on record yet")
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load latest price: %w", err)
	}

	averages, err := s.snapshots.LatestAverages(ctx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return 0, fmt.Errorf("load latest averages: %w", err)
	}

	now := s.now()
	visited := 0
	cursor := ""
	for {
		page, next, err := s.triggers.ScanTriggers(ctx, cursor, pageSize)
		if err != nil {
			return visited, fmt.Errorf("scan triggers: %w", err)
		}
		for _, trigger := range page {
			visited++
			if err := s.evaluateOne(ctx, trigger, *last, averages, now); err != nil {
				// One bad trigger must not stall the rest of the pass.
				s.logger.Errorw("trigger evaluation failed",
					"accountId", trigger.AccountID, "timestamp", trigger.Timestamp, "error", err)
			}
		}
		if next == "" {
			return visited, nil
		}
		cursor = next
	}
}

func (s *Scanner) evaluateOne(ctx context.Context, trigger models.Trigger, last models.PriceSample, averages *models.AverageSet, now time.Time) error {
	eval := engine.Evaluate(trigger, last, averages, now)
	if !eval.Fired {
		return nil
	}

	fired := models.FiredTrigger{
		Trigger:   eval.Trigger,
		Reason:    eval.Reason,
		LastPrice: last,
	}
	if averages != nil {
		fired.Averages = *averages
	}

	s.logger.Infow("trigger fired",
		"accountId", trigger.AccountID, "reason", eval.Reason, "price", last.Price)

	if err := s.pub.Publish(bus.TopicTriggerFired, fired); err != nil {
		return fmt.Errorf("publish fired trigger: %w", err)
	}
	if s.Fired != nil {
		s.Fired(eval.Reason)
	}
	// Delete after publish: duplicates are absorbed downstream, losses
	// are not recoverable.
	if err := s.triggers.DeleteTrigger(ctx, trigger.AccountID, trigger.Timestamp); err != nil {
		return fmt.Errorf("delete fired trigger: %w", err)
	}
	return nil
}
