package metrics

import (
	"context"
	"errors"
	"fmt"

	"hedgie-bot-go/internal/bus"
	"hedgie-bot-go/internal/models"
	"hedgie-bot-go/internal/store"

	"github.com/jedib0t/go-pretty/v6/table"
	"go.uber.org/zap"
)

const digestColor = "#838996"

// DigestStore lists the counters the digest summarizes.
type DigestStore interface {
	ListMetrics(ctx context.Context) ([]models.MetricsRow, error)
}

// AccountReader resolves the live account behind each counter row.
type AccountReader interface {
	GetAccount(ctx context.Context, id int64) (*models.Account, error)
}

// Publisher is the event-bus surface the digest needs.
type Publisher interface {
	Publish(topic string, v interface{}) error
}

// Digest periodically summarizes every account's trading activity,
// one notification per account plus a combined table in the log.
type Digest struct {
	counters DigestStore
	accounts AccountReader
	pub      Publisher
	logger   *zap.SugaredLogger
}

// NewDigest wires the digest to its stores.
func NewDigest(counters DigestStore, accounts AccountReader, pub Publisher, logger *zap.SugaredLogger) *Digest {
	return &Digest{counters: counters, accounts: accounts, pub: pub, logger: logger}
}

// RunOnce emits the digest for every tracked account. With no counters
// yet it emits nothing.
func (d *Digest) RunOnce(ctx context.Context) error {
	rows, err := d.counters.ListMetrics(ctx)
	if err != nil {
		return fmt.Errorf("list counters: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	t := table.NewWriter()
	t.SetTitle("Trading Digest")
	t.AppendHeader(table.Row{"Account", "Trades", "Buys", "Sells", "Hedges", "Vol BTC", "Vol USD", "Fund Value", "Profit"})

	for _, row := range rows {
		account, err := d.accounts.GetAccount(ctx, row.AccountID)
		if errors.Is(err, store.ErrNotFound) {
			d.logger.Warnw("counter row without account", "accountId", row.AccountID)
			continue
		}
		if err != nil {
			return fmt.Errorf("load account %d: %w", row.AccountID, err)
		}

		t.AppendRow(table.Row{
			account.ID, row.TotalTrades, row.Buys, row.Sells, row.Hedges,
			fmt.Sprintf("%.6f", row.VolumeBTC),
			fmt.Sprintf("%.2f", row.VolumeUSD),
			fmt.Sprintf("%.2f", account.BalanceUSD),
			fmt.Sprintf("%.2f", account.ProfitUSD),
		})

		if err := d.pub.Publish(bus.TopicNotification, d.notification(account, row)); err != nil {
			return fmt.Errorf("publish digest for account %d: %w", row.AccountID, err)
		}
	}

	d.logger.Infof("trading digest\n%s", t.Render())
	return nil
}

func (d *Digest) notification(account *models.Account, row models.MetricsRow) models.Notification {
	fields := []models.NotificationField{
		{Title: "Total Trades", Value: fmt.Sprintf("%d", row.TotalTrades), Short: true},
		{Title: "Buys / Sells", Value: fmt.Sprintf("%d / %d", row.Buys, row.Sells), Short: true},
		{Title: "Hedges", Value: fmt.Sprintf("%d", row.Hedges), Short: true},
		{Title: "Volume", Value: fmt.Sprintf("%.6f BTC / $%.2f", row.VolumeBTC, row.VolumeUSD), Short: true},
		{Title: "Exchange Balance", Value: fmt.Sprintf("%.6f BTC / $%.2f", row.ExchangeBalanceBTC, row.ExchangeBalanceUSD), Short: true},
		{Title: "Fund Value", Value: fmt.Sprintf("$%.2f", account.BalanceUSD), Short: true},
		{Title: "Siphoned Profit", Value: fmt.Sprintf("$%.2f", account.ProfitUSD), Short: true},
	}
	return models.Notification{
		Title:    fmt.Sprintf("Account %d Digest", account.ID),
		Fallback: fmt.Sprintf("account %d: %d trades, $%.2f profit", account.ID, row.TotalTrades, account.ProfitUSD),
		Color:    digestColor,
		Fields:   fields,
		Time:     models.NowMillis(),
	}
}
