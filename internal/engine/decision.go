package engine

import (
	"context"
	"fmt"
	"time"

	"hedgie-bot-go/internal/bus"
	"hedgie-bot-go/internal/models"

	"go.uber.org/zap"
)

// AccountStore is the slice of the durable store the engines need.
// PutAccount must reject a write whose expected version is stale.
type AccountStore interface {
	GetAccount(ctx context.Context, id int64) (*models.Account, error)
	PutAccount(ctx context.Context, account *models.Account, expectedVersion int64) error
}

// Publisher puts a message on a bus topic.
type Publisher interface {
	Publish(topic string, v interface{}) error
}

// DecisionEngine turns fired triggers into exactly one of: a re-armed
// trigger, a range update, or an order request.
type DecisionEngine struct {
	accounts AccountStore
	bus      Publisher
	logger   *zap.SugaredLogger
	now      func() time.Time
}

// NewDecisionEngine wires a decision engine against the account store
// and the event bus.
func NewDecisionEngine(accounts AccountStore, publisher Publisher, logger *zap.SugaredLogger) *DecisionEngine {
	return &DecisionEngine{
		accounts: accounts,
		bus:      publisher,
		logger:   logger,
		now:      time.Now,
	}
}

// HandleFired is the entry point for the trigger-fired topic. Returned
// errors are retryable by redelivery; the version guard on PutAccount
// keeps redelivered firings from double-applying.
func (d *DecisionEngine) HandleFired(ctx context.Context, fired models.FiredTrigger) error {
	account, err := d.accounts.GetAccount(ctx, fired.Trigger.AccountID)
	if err != nil {
		return fmt.Errorf("load account %d for fired trigger: %w", fired.Trigger.AccountID, err)
	}

	switch fired.Reason {
	case models.ReasonRangeUpdate:
		return d.updateRanges(ctx, fired, account)

	case models.ReasonInstantSell:
		d.logger.Infof("account %d: sell price %.2f reached at %.2f", account.ID, fired.Trigger.Instant.Price, fired.LastPrice.Price)
		return d.placeOrder(ctx, account, models.SideSell, fired.LastPrice.Price, false)

	case models.ReasonHedge:
		return d.handleHedge(ctx, fired, account)

	case models.ReasonInstantBuy:
		d.logger.Infof("account %d: buy price %.2f reached at %.2f", account.ID, fired.Trigger.Instant.Price, fired.LastPrice.Price)
		return d.placeOrder(ctx, account, models.SideBuy, fired.LastPrice.Price, false)
	}

	// Nothing recognizable met; put the trigger back unchanged.
	d.logger.Infof("account %d: no condition met, resetting trigger", account.ID)
	return d.bus.Publish(bus.TopicTriggerRegistered, fired.Trigger)
}

// updateRanges re-anchors the account's targets on the trailing average
// at the matched look-back window and re-arms a fresh trigger. No order
// is placed.
func (d *DecisionEngine) updateRanges(ctx context.Context, fired models.FiredTrigger, account *models.Account) error {
	if fired.Trigger.Range == nil {
		return fmt.Errorf("range update fired for account %d without a range condition", account.ID)
	}
	hoursBack := fired.Trigger.Range.Hours
	avg, ok := fired.Averages.At(hoursBack)
	if !ok {
		return fmt.Errorf("no %dh average in snapshot for account %d", hoursBack, account.ID)
	}

	d.logger.Infof("account %d: re-anchoring targets on %dh average %.2f", account.ID, hoursBack, avg)
	if err := UpdatePrices(account, avg); err != nil {
		return err
	}
	if err := d.accounts.PutAccount(ctx, account, account.Version); err != nil {
		return fmt.Errorf("save account %d after range update: %w", account.ID, err)
	}

	trigger, err := NextTrigger(account, d.now().UnixMilli())
	if err != nil {
		return err
	}
	return d.bus.Publish(bus.TopicTriggerRegistered, trigger)
}

// handleHedge sells defensively, unless the account requires a minimum
// dwell below the hedge line that has not elapsed yet — in that case
// the trigger is re-armed from the account's standing sell target.
func (d *DecisionEngine) handleHedge(ctx context.Context, fired models.FiredTrigger, account *models.Account) error {
	if account.HedgeDelayMinutes != nil {
		canHedgeAfter := time.UnixMilli(fired.Trigger.Timestamp).
			Add(time.Duration(*account.HedgeDelayMinutes) * time.Minute)
		if d.now().Before(canHedgeAfter) {
			d.logger.Infof("account %d: below hedge line but only %s of %dm dwell elapsed, re-arming",
				account.ID, d.now().Sub(time.UnixMilli(fired.Trigger.Timestamp)).Round(time.Second), *account.HedgeDelayMinutes)
			return d.rearmSellRange(account, fired.Trigger.Timestamp)
		}
	}

	hedgeLine := 0.0
	if hp := fired.Trigger.Instant.HedgePrice; hp != nil {
		hedgeLine = *hp
	}
	d.logger.Infof("account %d: hedging at %.2f (hedge line %.2f)", account.ID, fired.LastPrice.Price, hedgeLine)
	account.HedgeTimes = append(account.HedgeTimes, d.now().UTC().Format(time.RFC3339))
	return d.placeOrder(ctx, account, models.SideSell, fired.LastPrice.Price, true)
}

// rearmSellRange rebuilds a sell trigger from the account's current
// sell price and look-back window. The original creation timestamp is
// preserved so the hedge dwell keeps accumulating across re-arms
// instead of restarting on every scan pass.
func (d *DecisionEngine) rearmSellRange(account *models.Account, createdAt int64) error {
	if account.SellPrice == nil {
		return fmt.Errorf("account %d has no sell price to re-arm with", account.ID)
	}
	trigger := models.Trigger{
		AccountID: account.ID,
		Timestamp: createdAt,
		Instant: models.InstantCondition{
			Kind:       models.InstantSell,
			Price:      *account.SellPrice,
			HedgePrice: account.HedgePrice,
		},
	}
	if account.HoursToUpdate > 0 {
		trigger.Range = &models.RangeCondition{
			Kind:  models.RangeBelow,
			Hours: account.HoursToUpdate,
		}
	}
	return d.bus.Publish(bus.TopicTriggerRegistered, trigger)
}

// placeOrder transitions the account into its transient trading state,
// persists it, and emits the order request. The persisted transition
// happens first so a crash before publish re-runs into the version
// guard instead of double-ordering.
func (d *DecisionEngine) placeOrder(ctx context.Context, account *models.Account, side models.Side, price float64, isHedge bool) error {
	switch side {
	case models.SideBuy:
		if account.State != models.StateInUSD {
			d.logger.Warnf("account %d: buy fired in state %s, ignoring duplicate", account.ID, account.State)
			return nil
		}
		account.State = models.StateBuying
	case models.SideSell:
		if account.State != models.StateInBTC {
			d.logger.Warnf("account %d: sell fired in state %s, ignoring duplicate", account.ID, account.State)
			return nil
		}
		account.State = models.StateSelling
	default:
		return fmt.Errorf("unrecognized side %q for account %d", side, account.ID)
	}

	if err := d.accounts.PutAccount(ctx, account, account.Version); err != nil {
		return fmt.Errorf("save account %d before %s order: %w", account.ID, side, err)
	}

	request := models.OrderRequest{
		ID:        newOrderID(),
		AccountID: account.ID,
		Side:      side,
		Price:     price,
		IsHedge:   isHedge,
		Timestamp: d.now().UnixMilli(),
	}
	return d.bus.Publish(bus.TopicOrderRequested, request)
}
