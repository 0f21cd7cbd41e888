package engine

import (
	"errors"
	"fmt"
	"math"

	"hedgie-bot-go/internal/models"
)

// ErrZeroBalance is returned when a target price cannot be computed
// because the working balance on the relevant side is zero.
var ErrZeroBalance = errors.New("engine: zero balance")

// UpdatePrices recomputes the account's target price(s) from a reference
// price so that the next completed round-trip nets ProfitDelta beyond
// TargetAmountUSD after fees.
//
// In IN_BTC it sets SellPrice and clamps any standing HedgePrice so the
// hedge never sits above the profit-take. In IN_USD it sets BuyPrice.
// Other states have no targets to compute and are an error.
func UpdatePrices(account *models.Account, price float64) error {
	switch account.State {
	case models.StateInBTC:
		if account.BalanceBTC == 0 {
			return fmt.Errorf("account %d has no BTC to price a sell against: %w", account.ID, ErrZeroBalance)
		}
		approxAccountValue := account.BalanceUSD + account.BalanceBTC*price
		fee := Fee(math.Max(0, approxAccountValue+account.ProfitDelta))
		totalGain := account.ProfitDelta + fee
		buyAmount := account.BalanceBTC * price
		sellPrice := (totalGain + buyAmount) / account.BalanceBTC
		account.SellPrice = &sellPrice
		if account.HedgePrice != nil {
			clamped := math.Min(*account.HedgePrice, sellPrice)
			account.HedgePrice = &clamped
		}
		return nil

	case models.StateInUSD:
		if account.BalanceUSD == 0 || price == 0 {
			return fmt.Errorf("account %d cannot size a buy (balance %.2f USD at price %.2f): %w",
				account.ID, account.BalanceUSD, price, ErrZeroBalance)
		}
		fee := Fee(account.BalanceUSD)
		totalMoneyToMake := account.ProfitDelta + fee
		amtToBuy := account.BalanceUSD / price
		buyPrice := (account.TargetAmountUSD - totalMoneyToMake) / amtToBuy
		account.BuyPrice = &buyPrice
		return nil
	}

	return fmt.Errorf("engine: no price targets to update in state %s", account.State)
}

// NextTrigger builds the standing trigger reflecting the account's
// current state: a buy trigger when IN_USD, a sell (plus optional hedge)
// trigger when IN_BTC. The range condition is attached only when the
// account has a look-back window configured.
func NextTrigger(account *models.Account, nowMillis int64) (models.Trigger, error) {
	trigger := models.Trigger{
		AccountID: account.ID,
		Timestamp: nowMillis,
	}

	switch account.State {
	case models.StateInUSD:
		if account.BuyPrice == nil {
			return models.Trigger{}, fmt.Errorf("account %d is IN_USD without a buy price", account.ID)
		}
		trigger.Instant = models.InstantCondition{
			Kind:  models.InstantBuy,
			Price: *account.BuyPrice,
		}
		if account.HoursToUpdate > 0 {
			trigger.Range = &models.RangeCondition{
				Kind:  models.RangeAbove,
				Hours: account.HoursToUpdate,
			}
		}
		return trigger, nil

	case models.StateInBTC:
		if account.SellPrice == nil {
			return models.Trigger{}, fmt.Errorf("account %d is IN_BTC without a sell price", account.ID)
		}
		trigger.Instant = models.InstantCondition{
			Kind:       models.InstantSell,
			Price:      *account.SellPrice,
			HedgePrice: account.HedgePrice,
		}
		if account.HoursToUpdate > 0 {
			trigger.Range = &models.RangeCondition{
				Kind:  models.RangeBelow,
				Hours: account.HoursToUpdate,
			}
		}
		return trigger, nil
	}

	return models.Trigger{}, fmt.Errorf("engine: no trigger to arm in state %s", account.State)
}
