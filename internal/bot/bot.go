// Package bot wires every component together and runs the loops.
package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"hedgie-bot-go/internal/api"
	"hedgie-bot-go/internal/averages"
	"hedgie-bot-go/internal/bus"
	"hedgie-bot-go/internal/engine"
	"hedgie-bot-go/internal/exchange"
	"hedgie-bot-go/internal/feed"
	"hedgie-bot-go/internal/metrics"
	"hedgie-bot-go/internal/models"
	"hedgie-bot-go/internal/notify"
	"hedgie-bot-go/internal/scanner"
	"hedgie-bot-go/internal/store"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Bot owns the stores, the bus, and every loop of the trading engine.
type Bot struct {
	cfg    *models.Config
	logger *zap.SugaredLogger

	kv     *store.Badger
	trades *store.TradeLog
	broker *bus.Bus
	prom   *metrics.Prometheus

	scan   *scanner.Scanner
	agg    *averages.Aggregator
	digest *metrics.Digest
	server *http.Server

	priceLoop func(ctx context.Context) error
}

// New assembles a bot from its configuration. The Slack webhook URL
// comes from the environment rather than the config file so it stays
// out of checked-in configuration.
func New(cfg *models.Config, kv *store.Badger, trades *store.TradeLog, slackWebhookURL string, logger *zap.SugaredLogger) (*Bot, error) {
	broker := bus.New(logger)
	prom := metrics.NewPrometheus()
	broker.Dropped = func(topic, subscriber string) {
		prom.EventsDropped.WithLabelValues(topic).Inc()
	}

	b := &Bot{
		cfg:    cfg,
		logger: logger,
		kv:     kv,
		trades: trades,
		broker: broker,
		prom:   prom,
	}

	decision := engine.NewDecisionEngine(kv, broker, logger)
	settlement := engine.NewSettlementEngine(kv, broker, logger)

	venue := exchange.NewSimulated()
	executor := exchange.NewExecutor(venue, kv, trades, broker, logger)
	executor.Executed = func(side models.Side) {
		prom.OrdersExecuted.WithLabelValues(string(side)).Inc()
	}

	recorder := metrics.NewRecorder(trades, logger)
	slack := notify.NewSlack(slackWebhookURL, cfg.SlackChannel, logger)

	b.scan = scanner.New(kv, kv, broker, logger)
	b.scan.Fired = func(reason models.FireReason) {
		prom.TriggersFired.WithLabelValues(string(reason)).Inc()
	}
	b.agg = averages.New(kv, logger)
	b.digest = metrics.NewDigest(trades, kv, broker, logger)

	broker.Subscribe(bus.TopicTriggerRegistered, "trigger-registrar",
		bus.Decode(logger, b.registerTrigger))
	broker.Subscribe(bus.TopicTriggerFired, "decision-engine",
		bus.Decode(logger, countConflicts(prom, decision.HandleFired)))
	broker.Subscribe(bus.TopicOrderRequested, "order-executor",
		bus.Decode(logger, executor.HandleRequest))
	broker.Subscribe(bus.TopicOrderCompleted, "settlement-engine",
		bus.Decode(logger, countConflicts(prom, settlement.HandleCompleted)))
	broker.Subscribe(bus.TopicOrderCompleted, "trade-recorder",
		bus.Decode(logger, recorder.HandleCompleted))
	broker.Subscribe(bus.TopicNotification, "slack-notifier",
		bus.Decode(logger, slack.Handle))

	switch cfg.PriceSource {
	case "gemini":
		poller := feed.NewGeminiPoller(cfg.GeminiAPIURL,
			time.Duration(cfg.PollIntervalSec)*time.Second, kv, logger)
		b.priceLoop = poller.Run
	case "binance":
		stream := feed.NewBinanceStream(cfg.BinanceSymbol,
			time.Duration(cfg.PollIntervalSec)*time.Second, kv, logger)
		b.priceLoop = stream.Run
	default:
		return nil, fmt.Errorf("unknown price source %q", cfg.PriceSource)
	}

	apiServer := api.NewServer(kv, broker, logger)
	b.server = &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: apiServer.Router(),
	}
	return b, nil
}

// Run starts every loop and blocks until ctx is cancelled or a loop
// fails fatally.
func (b *Bot) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := b.priceLoop(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		return b.runEvery(ctx, time.Duration(b.cfg.ScanIntervalSec)*time.Second, "scan", func(ctx context.Context) error {
			visited, err := b.scan.RunOnce(ctx)
			if err != nil {
				b.prom.ScanErrors.Inc()
				return err
			}
			b.prom.TriggersScanned.Add(float64(visited))
			return nil
		})
	})

	g.Go(func() error {
		return b.runEvery(ctx, time.Duration(b.cfg.AverageIntervalSec)*time.Second, "averages", b.agg.RunOnce)
	})

	g.Go(func() error {
		return b.runEvery(ctx, time.Duration(b.cfg.DigestIntervalMin)*time.Minute, "digest", b.digest.RunOnce)
	})

	g.Go(func() error {
		b.logger.Infof("http server listening on %s", b.server.Addr)
		if err := b.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return b.server.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	b.broker.Close()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runEvery drives one periodic task. Failures are logged and the
// cadence continues; only cancellation ends the loop.
func (b *Bot) runEvery(ctx context.Context, interval time.Duration, name string, task func(ctx context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := task(ctx); err != nil {
				b.logger.Errorw("periodic task failed", "task", name, "error", err)
			}
		}
	}
}

// registerTrigger persists a newly published trigger, stamping when it
// was (re)registered.
func (b *Bot) registerTrigger(ctx context.Context, trigger models.Trigger) error {
	trigger.LastUpdated = models.NowMillis()
	if err := b.kv.PutTrigger(ctx, trigger); err != nil {
		return fmt.Errorf("store trigger for account %d: %w", trigger.AccountID, err)
	}
	b.logger.Debugw("trigger registered",
		"accountId", trigger.AccountID, "kind", trigger.Instant.Kind, "price", trigger.Instant.Price)
	return nil
}

// countConflicts wraps a typed handler so version-conflict retries show
// up on the conflict counter.
func countConflicts[T any](prom *metrics.Prometheus, h func(ctx context.Context, msg T) error) func(ctx context.Context, msg T) error {
	return func(ctx context.Context, msg T) error {
		err := h(ctx, msg)
		if errors.Is(err, store.ErrVersionConflict) {
			prom.StoreConflicts.Inc()
		}
		return err
	}
}
