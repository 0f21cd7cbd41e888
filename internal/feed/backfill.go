package feed

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"hedgie-bot-go/internal/models"

	"github.com/adshao/go-binance/v2"
	"go.uber.org/zap"
)

const (
	backfillDays  = 60
	klinesPerCall = 1000
)

// Backfill seeds the price history with hourly kline closes so the
// averages have a full look-back window immediately after first start.
func Backfill(ctx context.Context, symbol string, sink SampleWriter, logger *zap.SugaredLogger) (int, error) {
	client := binance.NewClient("", "")

	end := time.Now()
	start := end.Add(-backfillDays * 24 * time.Hour)
	cursor := start.UnixMilli()
	stored := 0

	for cursor < end.UnixMilli() {
		klines, err := client.NewKlinesService().
			Symbol(symbol).
			Interval("1h").
			StartTime(cursor).
			EndTime(end.UnixMilli()).
			Limit(klinesPerCall).
			Do(ctx)
		if err != nil {
			return stored, fmt.Errorf("fetch klines from %d: %w", cursor, err)
		}
		if len(klines) == 0 {
			break
		}

		for _, k := range klines {
			price, err := strconv.ParseFloat(k.Close, 64)
			if err != nil {
				logger.Warnw("unparsable kline close", "close", k.Close, "error", err)
				continue
			}
			sample := models.PriceSample{
				Pair:      models.Pair,
				Timestamp: k.CloseTime,
				Price:     price,
				Exchange:  "binance",
			}
			if err := sink.PutPrice(ctx, sample); err != nil {
				return stored, fmt.Errorf("store backfill sample: %w", err)
			}
			stored++
		}
		cursor = klines[len(klines)-1].CloseTime + 1
	}

	logger.Infow("price history backfilled", "symbol", symbol, "samples", stored)
	return stored, nil
}
