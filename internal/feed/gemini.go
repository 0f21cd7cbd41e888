// Package feed keeps the price history current. Samples come either
// from polling Gemini's public ticker or from Binance's aggregated
// trade stream; a kline backfill seeds the history on first run.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"hedgie-bot-go/internal/models"

	"go.uber.org/zap"
)

// SampleWriter is the slice of the durable store the feed writes to.
type SampleWriter interface {
	PutPrice(ctx context.Context, sample models.PriceSample) error
}

// GeminiPoller polls the public BTC/USD ticker on a fixed cadence.
type GeminiPoller struct {
	baseURL  string
	interval time.Duration
	client   *http.Client
	sink     SampleWriter
	logger   *zap.SugaredLogger
}

// NewGeminiPoller builds a poller against the given API base URL.
func NewGeminiPoller(baseURL string, interval time.Duration, sink SampleWriter, logger *zap.SugaredLogger) *GeminiPoller {
	return &GeminiPoller{
		baseURL:  baseURL,
		interval: interval,
		client:   &http.Client{Timeout: 10 * time.Second},
		sink:     sink,
		logger:   logger,
	}
}

// Run polls until ctx is cancelled. Individual poll failures are
// logged and the cadence continues.
func (p *GeminiPoller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.PollOnce(ctx); err != nil {
			p.logger.Warnw("gemini poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// PollOnce fetches the ticker once and stores the sample. A ticker
// response without a last price stores nothing.
func (p *GeminiPoller) PollOnce(ctx context.Context) error {
	url := p.baseURL + "/v1/pubticker/btcusd"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch ticker: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch ticker: unexpected status %s", resp.Status)
	}

	var ticker struct {
		Last string `json:"last"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ticker); err != nil {
		return fmt.Errorf("decode ticker: %w", err)
	}
	if ticker.Last == "" {
		p.logger.Debug("ticker carried no last price, skipping sample")
		return nil
	}

	price, err := strconv.ParseFloat(ticker.Last, 64)
	if err != nil {
		return fmt.Errorf("parse last price %q: %w", ticker.Last, err)
	}

	sample := models.PriceSample{
		Pair:      models.Pair,
		Timestamp: models.NowMillis(),
		Price:     price,
		Exchange:  "gemini",
	}
	if err := p.sink.PutPrice(ctx, sample); err != nil {
		return fmt.Errorf("store sample: %w", err)
	}
	p.logger.Debugw("price sampled", "exchange", "gemini", "price", price)
	return nil
}
