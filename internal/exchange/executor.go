package exchange

import (
	"context"
	"fmt"

	"hedgie-bot-go/internal/bus"
	"hedgie-bot-go/internal/models"

	"go.uber.org/zap"
)

// AccountReader looks up the account an order trades for.
type AccountReader interface {
	GetAccount(ctx context.Context, id int64) (*models.Account, error)
}

// TradeRecorder appends executed trades to the trade log.
type TradeRecorder interface {
	InsertTrade(ctx context.Context, order models.CompletedOrder) error
}

// Publisher is the event-bus surface the executor needs.
type Publisher interface {
	Publish(topic string, v interface{}) error
}

// Executor consumes order requests, places them on the venue, records
// the fill, and announces completion.
type Executor struct {
	venue    Exchange
	accounts AccountReader
	trades   TradeRecorder
	pub      Publisher
	logger   *zap.SugaredLogger

	// Executed is an optional hook invoked once per placed order.
	Executed func(side models.Side)
}

// NewExecutor wires an executor to its venue and stores.
func NewExecutor(venue Exchange, accounts AccountReader, trades TradeRecorder, pub Publisher, logger *zap.SugaredLogger) *Executor {
	return &Executor{
		venue:    venue,
		accounts: accounts,
		trades:   trades,
		pub:      pub,
		logger:   logger,
	}
}

// HandleRequest executes one order request end to end.
func (e *Executor) HandleRequest(ctx context.Context, req models.OrderRequest) error {
	account, err := e.accounts.GetAccount(ctx, req.AccountID)
	if err != nil {
		return fmt.Errorf("load account %d for order %s: %w", req.AccountID, req.ID, err)
	}

	order, err := e.venue.PlaceOrder(ctx, account, req)
	if err != nil {
		return fmt.Errorf("place order %s: %w", req.ID, err)
	}

	if err := e.trades.InsertTrade(ctx, *order); err != nil {
		return fmt.Errorf("record order %s: %w", req.ID, err)
	}

	e.logger.Infow("order executed",
		"orderId", order.OrderID, "accountId", order.AccountID, "side", order.Side,
		"executed", order.ExecutedAmount, "price", order.AvgExecutionPrice, "hedge", order.IsHedge)

	if e.Executed != nil {
		e.Executed(order.Side)
	}
	return e.pub.Publish(bus.TopicOrderCompleted, order)
}
