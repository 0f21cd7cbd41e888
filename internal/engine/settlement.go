package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"hedgie-bot-go/internal/bus"
	"hedgie-bot-go/internal/models"

	"go.uber.org/zap"
)

// SettlementEngine reconciles account state once an order is reported
// complete: it applies the fill to the balances, runs the profit
// siphon, recomputes the next target, and re-arms the next trigger.
type SettlementEngine struct {
	accounts AccountStore
	bus      Publisher
	logger   *zap.SugaredLogger
	now      func() time.Time
}

// NewSettlementEngine wires a settlement engine against the account
// store and the event bus.
func NewSettlementEngine(accounts AccountStore, publisher Publisher, logger *zap.SugaredLogger) *SettlementEngine {
	return &SettlementEngine{
		accounts: accounts,
		bus:      publisher,
		logger:   logger,
		now:      time.Now,
	}
}

// HandleCompleted is the entry point for the order-completed topic.
// A completion that does not match the account's transient state is
// acknowledged as a duplicate; an unrecognized side is a data error.
func (s *SettlementEngine) HandleCompleted(ctx context.Context, order models.CompletedOrder) error {
	account, err := s.accounts.GetAccount(ctx, order.AccountID)
	if err != nil {
		return fmt.Errorf("load account %d for settlement: %w", order.AccountID, err)
	}

	deltaUSD := order.ExecutedAmount * order.AvgExecutionPrice
	deltaBTC := order.OriginalAmount - order.RemainingAmount

	switch order.Side {
	case models.SideBuy:
		if account.State != models.StateBuying {
			s.logger.Warnf("account %d: buy completion in state %s, ignoring duplicate", account.ID, account.State)
			return nil
		}
		return s.settleBuy(ctx, account, order, deltaUSD, deltaBTC)

	case models.SideSell:
		if account.State != models.StateSelling {
			s.logger.Warnf("account %d: sell completion in state %s, ignoring duplicate", account.ID, account.State)
			return nil
		}
		return s.settleSell(ctx, account, order, deltaUSD, deltaBTC)
	}

	return fmt.Errorf("unrecognized side %q on completed order %s", order.Side, order.OrderID)
}

func (s *SettlementEngine) settleBuy(ctx context.Context, account *models.Account, order models.CompletedOrder, deltaUSD, deltaBTC float64) error {
	account.State = models.StateInBTC
	account.BalanceUSD -= deltaUSD
	account.BalanceBTC += deltaBTC

	// The sell target starts fresh; any previous hedge is gone with
	// the old position.
	account.HedgePrice = nil
	if err := UpdatePrices(account, order.AvgExecutionPrice); err != nil {
		return err
	}

	if account.RiskFactor != nil {
		amtOfMoneyToLose := account.ProfitUSD * *account.RiskFactor
		minAccountValue := account.TargetAmountUSD - amtOfMoneyToLose
		hedgePrice := math.Min(minAccountValue/account.BalanceBTC, *account.SellPrice)
		account.HedgePrice = &hedgePrice
		s.logger.Infof("account %d: willing to risk %.2f of siphoned profit, hedge line %.2f", account.ID, amtOfMoneyToLose, hedgePrice)
	}

	if err := s.accounts.PutAccount(ctx, account, account.Version); err != nil {
		return fmt.Errorf("save account %d after buy settlement: %w", account.ID, err)
	}
	s.logger.Infof("account %d: bought %.6f BTC at %.2f, sell target %.2f", account.ID, deltaBTC, order.AvgExecutionPrice, *account.SellPrice)

	trigger, err := NextTrigger(account, s.now().UnixMilli())
	if err != nil {
		return err
	}
	if err := s.bus.Publish(bus.TopicTriggerRegistered, trigger); err != nil {
		return err
	}
	return s.bus.Publish(bus.TopicNotification, s.buyNotification(account, order))
}

func (s *SettlementEngine) settleSell(ctx context.Context, account *models.Account, order models.CompletedOrder, deltaUSD, deltaBTC float64) error {
	account.State = models.StateInUSD
	account.BalanceUSD += deltaUSD
	account.BalanceBTC -= deltaBTC

	profit := account.BalanceUSD - account.TargetAmountUSD
	if profit >= 0 {
		// Carve realized gains out of the working pool.
		account.ProfitUSD += profit
		account.BalanceUSD -= profit
		s.logger.Infof("account %d: siphoned %.2f profit, reserve now %.2f", account.ID, profit, account.ProfitUSD)
	} else {
		// Draw the reserve down to cover the shortfall, never below zero.
		decrement := math.Min(account.ProfitUSD, math.Abs(profit))
		account.ProfitUSD -= decrement
		account.BalanceUSD += decrement
		s.logger.Infof("account %d: covered %.2f of a %.2f shortfall from the reserve", account.ID, decrement, -profit)
	}

	if !order.IsHedge {
		if err := UpdatePrices(account, order.AvgExecutionPrice); err != nil {
			return err
		}
	} else {
		// Hedge sells keep the prior buy target and ride the move out.
		s.logger.Infof("account %d: hedge sell, keeping buy target in place", account.ID)
	}

	if err := s.accounts.PutAccount(ctx, account, account.Version); err != nil {
		return fmt.Errorf("save account %d after sell settlement: %w", account.ID, err)
	}

	trigger, err := NextTrigger(account, s.now().UnixMilli())
	if err != nil {
		return err
	}
	if err := s.bus.Publish(bus.TopicTriggerRegistered, trigger); err != nil {
		return err
	}
	return s.bus.Publish(bus.TopicNotification, s.sellNotification(account, order))
}

func (s *SettlementEngine) buyNotification(account *models.Account, order models.CompletedOrder) models.Notification {
	n := models.Notification{
		Title:    fmt.Sprintf("Bot %d has bought @ %.2f", account.ID, order.AvgExecutionPrice),
		Fallback: fmt.Sprintf("Bot %d bought @ %.2f", account.ID, order.AvgExecutionPrice),
		Color:    "#439FE0",
		Time:     s.now().UnixMilli(),
	}
	if account.HoursToUpdate > 0 {
		n.Fields = append(n.Fields, models.NotificationField{
			Title: "Activity Setting", Value: fmt.Sprintf("%d", account.HoursToUpdate), Short: true,
		})
	}
	return s.withRiskFactor(account, n)
}

func (s *SettlementEngine) sellNotification(account *models.Account, order models.CompletedOrder) models.Notification {
	var n models.Notification
	if order.IsHedge {
		n = models.Notification{
			Title:    fmt.Sprintf("Bot %d has hedged @ %.2f", account.ID, order.AvgExecutionPrice),
			Fallback: fmt.Sprintf("Bot %d hedged @ %.2f", account.ID, order.AvgExecutionPrice),
			Color:    "danger",
			Time:     s.now().UnixMilli(),
		}
	} else {
		n = models.Notification{
			Title:    fmt.Sprintf("Bot %d has profited @ %.2f!! Congrats!", account.ID, order.AvgExecutionPrice),
			Fallback: fmt.Sprintf("Bot %d sold for a profit @ %.2f", account.ID, order.AvgExecutionPrice),
			Color:    "good",
			Time:     s.now().UnixMilli(),
		}
	}
	n.Fields = append(n.Fields,
		models.NotificationField{
			Title: "Fund Value",
			Value: fmt.Sprintf("$%.2f / $%.2f", account.BalanceUSD, account.TargetAmountUSD),
		},
		models.NotificationField{
			Title: "Siphoned Profit",
			Value: fmt.Sprintf("$%.2f", account.ProfitUSD),
			Short: true,
		},
	)
	return s.withRiskFactor(account, n)
}

func (s *SettlementEngine) withRiskFactor(account *models.Account, n models.Notification) models.Notification {
	if account.RiskFactor != nil {
		n.Fields = append(n.Fields, models.NotificationField{
			Title: "Risk Factor", Value: fmt.Sprintf("%g", *account.RiskFactor), Short: true,
		})
	}
	return n
}
