// Package averages periodically recomputes trailing mean prices over
// the stored sample history and publishes them as one snapshot.
package averages

import (
	"context"
	"fmt"
	"sort"
	"time"

	"hedgie-bot-go/internal/models"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	// MaxWindowHours caps the look-back windows computed per snapshot.
	MaxWindowHours = 14 * 24

	// retentionDays bounds the raw sample history; older samples are
	// pruned after each pass.
	retentionDays = 60

	hourMillis = int64(time.Hour / time.Millisecond)
)

// SampleStore is the slice of the durable store the aggregator reads
// and writes.
type SampleStore interface {
	PricesSince(ctx context.Context, sinceMillis int64) ([]models.PriceSample, error)
	PutAverages(ctx context.Context, set models.AverageSet) error
	PrunePricesBefore(ctx context.Context, cutoffMillis int64) (int, error)
}

// Aggregator recomputes the trailing averages snapshot.
type Aggregator struct {
	samples SampleStore
	logger  *zap.SugaredLogger
	now     func() time.Time
}

// New builds an aggregator over the given store slice.
func New(samples SampleStore, logger *zap.SugaredLogger) *Aggregator {
	return &Aggregator{samples: samples, logger: logger, now: time.Now}
}

// RunOnce rebuilds the averages snapshot from the retained history,
// stores it, and prunes samples past the retention horizon. With no
// samples at all it stores nothing.
func (a *Aggregator) RunOnce(ctx context.Context) error {
	now := a.now()
	cutoff := now.Add(-retentionDays * 24 * time.Hour).UnixMilli()

	samples, err := a.samples.PricesSince(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("load price history: %w", err)
	}
	if len(samples) == 0 {
		a.logger.Debug("average pass skipped, no samples retained")
		return nil
	}

	set := models.AverageSet{
		Pair:      models.Pair,
		Timestamp: now.UnixMilli(),
		Averages:  Compute(samples),
	}
	if err := a.samples.PutAverages(ctx, set); err != nil {
		return fmt.Errorf("store averages: %w", err)
	}

	pruned, err := a.samples.PrunePricesBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune price history: %w", err)
	}
	a.logger.Infow("averages recomputed",
		"windows", len(set.Averages), "samples", len(samples), "pruned", pruned)
	return nil
}

// Compute returns trailing means keyed by look-back hours. Samples are
// first collapsed into hourly bucket means so uneven feed cadence does
// not skew the result, then window w averages the w most recent
// buckets. Hours with no samples are simply absent from their buckets,
// so a window's mean covers the hours that actually have data.
func Compute(samples []models.PriceSample) map[int]float64 {
	type bucket struct {
		sum   float64
		count int
	}
	buckets := map[int64]*bucket{}
	for _, sample := range samples {
		hour := sample.Timestamp / hourMillis
		b, ok := buckets[hour]
		if !ok {
			b = &bucket{}
			buckets[hour] = b
		}
		b.sum += sample.Price
		b.count++
	}

	hours := lo.Keys(buckets)
	sort.Slice(hours, func(i, j int) bool { return hours[i] > hours[j] })

	windows := len(hours)
	if windows > MaxWindowHours {
		windows = MaxWindowHours
	}

	out := make(map[int]float64, windows)
	sum := 0.0
	for w := 1; w <= windows; w++ {
		b := buckets[hours[w-1]]
		sum += b.sum / float64(b.count)
		out[w] = sum / float64(w)
	}
	return out
}
