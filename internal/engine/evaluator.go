package engine

import (
	"time"

	"hedgie-bot-go/internal/models"
)

// Evaluation is the disposition of one trigger check. When Fired is
// set, Trigger holds a cleaned copy ready to hand downstream; the
// original stored trigger is never mutated here.
type Evaluation struct {
	Fired   bool
	Reason  models.FireReason
	Trigger models.Trigger
}

// Evaluate decides whether a standing trigger has been met, checked in
// strict precedence order:
//
//  1. instant buy/sell against the latest price
//  2. instant hedge against the latest price
//  3. range-below (sell side) against the trailing average
//  4. range-above (buy side) against the trailing average
//
// A range condition is only consulted once its look-back window has
// elapsed since the trigger was created, and only when the average set
// actually covers that window. Re-running with identical inputs yields
// the identical disposition.
func Evaluate(trigger models.Trigger, last models.PriceSample, averages *models.AverageSet, now time.Time) Evaluation {
	// Instant conditions beat range conditions.
	switch trigger.Instant.Kind {
	case models.InstantBuy:
		if last.Price <= trigger.Instant.Price {
			fired := trigger
			fired.Range = nil
			fired.Instant.HedgePrice = nil
			return Evaluation{Fired: true, Reason: models.ReasonInstantBuy, Trigger: fired}
		}
	case models.InstantSell:
		if last.Price >= trigger.Instant.Price {
			fired := trigger
			fired.Range = nil
			fired.Instant.HedgePrice = nil
			return Evaluation{Fired: true, Reason: models.ReasonInstantSell, Trigger: fired}
		}
		if hp := trigger.Instant.HedgePrice; hp != nil && last.Price <= *hp {
			fired := trigger
			fired.Range = nil
			return Evaluation{Fired: true, Reason: models.ReasonHedge, Trigger: fired}
		}
	}

	if trigger.Range == nil {
		return Evaluation{Trigger: trigger}
	}

	// Range conditions arm only after the whole look-back window has
	// passed since the trigger was created.
	minUpdateTime := time.UnixMilli(trigger.Timestamp).Add(time.Duration(trigger.Range.Hours) * time.Hour)
	if now.Before(minUpdateTime) {
		return Evaluation{Trigger: trigger}
	}

	avg, ok := averages.At(trigger.Range.Hours)
	if !ok {
		return Evaluation{Trigger: trigger}
	}

	switch trigger.Range.Kind {
	case models.RangeBelow:
		if trigger.Instant.Kind == models.InstantSell && avg <= trigger.Instant.Price {
			return Evaluation{Fired: true, Reason: models.ReasonRangeUpdate, Trigger: trigger}
		}
	case models.RangeAbove:
		if trigger.Instant.Kind == models.InstantBuy && avg >= trigger.Instant.Price {
			return Evaluation{Fired: true, Reason: models.ReasonRangeUpdate, Trigger: trigger}
		}
	}

	return Evaluation{Trigger: trigger}
}
