// Package exchange turns order requests into completed orders. The
// only implementation trades against a simulated book that fills
// instantly at the requested price.
package exchange

import (
	"context"

	"hedgie-bot-go/internal/models"
)

// Exchange places one order for an account and reports the fill.
type Exchange interface {
	PlaceOrder(ctx context.Context, account *models.Account, req models.OrderRequest) (*models.CompletedOrder, error)
}
