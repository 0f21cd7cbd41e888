package feed

import (
	"context"
	"strconv"
	"time"

	"hedgie-bot-go/internal/models"

	"github.com/adshao/go-binance/v2"
	"go.uber.org/zap"
)

// reconnectDelay spaces out websocket redials after a stream drop.
const reconnectDelay = 5 * time.Second

// BinanceStream samples the aggregated trade stream for one symbol.
// The raw stream ticks many times per second; samples are throttled to
// at most one per interval before they hit the store.
type BinanceStream struct {
	symbol   string
	interval time.Duration
	sink     SampleWriter
	logger   *zap.SugaredLogger
}

// NewBinanceStream builds a stream sampler for the given symbol, e.g.
// "BTCUSDT".
func NewBinanceStream(symbol string, interval time.Duration, sink SampleWriter, logger *zap.SugaredLogger) *BinanceStream {
	return &BinanceStream{
		symbol:   symbol,
		interval: interval,
		sink:     sink,
		logger:   logger,
	}
}

// Run keeps the stream connected until ctx is cancelled, redialing
// after drops.
func (b *BinanceStream) Run(ctx context.Context) error {
	for {
		if err := b.serveOnce(ctx); err != nil {
			b.logger.Warnw("binance stream dropped", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

func (b *BinanceStream) serveOnce(ctx context.Context) error {
	var lastStored time.Time

	handler := func(event *binance.WsAggTradeEvent) {
		price, err := strconv.ParseFloat(event.Price, 64)
		if err != nil {
			b.logger.Warnw("unparsable trade price", "price", event.Price, "error", err)
			return
		}
		now := time.Now()
		if now.Sub(lastStored) < b.interval {
			return
		}
		lastStored = now

		sample := models.PriceSample{
			Pair:      models.Pair,
			Timestamp: event.Time,
			Price:     price,
			Exchange:  "binance",
		}
		if err := b.sink.PutPrice(ctx, sample); err != nil {
			b.logger.Errorw("store sample failed", "error", err)
		}
	}

	errC := make(chan error, 1)
	errHandler := func(err error) {
		select {
		case errC <- err:
		default:
		}
	}

	doneC, stopC, err := binance.WsAggTradeServe(b.symbol, handler, errHandler)
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		close(stopC)
		<-doneC
		return ctx.Err()
	case err := <-errC:
		close(stopC)
		<-doneC
		return err
	case <-doneC:
		return nil
	}
}
