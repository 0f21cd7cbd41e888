package exchange

import (
	"context"
	"fmt"

	"hedgie-bot-go/internal/engine"
	"hedgie-bot-go/internal/models"
)

// Simulated fills every order completely at the requested price and
// charges the taker fee in BTC, mirroring how the real venue settles
// BTC buys.
type Simulated struct{}

// NewSimulated builds the simulated venue.
func NewSimulated() *Simulated {
	return &Simulated{}
}

// PlaceOrder executes req against the account's full working balance.
// A buy spends the USD balance, a sell liquidates the BTC balance; the
// account must be mid-transition on the matching side.
func (s *Simulated) PlaceOrder(ctx context.Context, account *models.Account, req models.OrderRequest) (*models.CompletedOrder, error) {
	if req.Price <= 0 {
		return nil, fmt.Errorf("order %s: non-positive price %v", req.ID, req.Price)
	}

	var executed, original float64
	switch req.Side {
	case models.SideBuy:
		if account.State != models.StateBuying {
			return nil, fmt.Errorf("order %s: account %d is %s, cannot buy", req.ID, account.ID, account.State)
		}
		if account.BalanceUSD <= 0 {
			return nil, fmt.Errorf("order %s: account %d has no USD to spend", req.ID, account.ID)
		}
		// The fee comes out of the fill on both legs of the report, so
		// the settled position is what the buyer actually received.
		gross := account.BalanceUSD / req.Price
		executed = gross - engine.Fee(account.BalanceUSD)/req.Price
		original = executed
	case models.SideSell:
		if account.State != models.StateSelling {
			return nil, fmt.Errorf("order %s: account %d is %s, cannot sell", req.ID, account.ID, account.State)
		}
		if account.BalanceBTC <= 0 {
			return nil, fmt.Errorf("order %s: account %d has no BTC to sell", req.ID, account.ID)
		}
		// The whole position leaves the account, the proceeds come back
		// net of fee.
		original = account.BalanceBTC
		executed = original - engine.Fee(original*req.Price)/req.Price
	default:
		return nil, fmt.Errorf("order %s: unknown side %q", req.ID, req.Side)
	}

	return &models.CompletedOrder{
		OrderID:           req.ID,
		AccountID:         req.AccountID,
		Side:              req.Side,
		ExecutedAmount:    executed,
		OriginalAmount:    original,
		RemainingAmount:   0,
		AvgExecutionPrice: req.Price,
		IsHedge:           req.IsHedge,
		Timestamp:         models.NowMillis(),
	}, nil
}
