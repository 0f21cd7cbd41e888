package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"hedgie-bot-go/internal/bus"
	"hedgie-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// mockAccountStore serves a single account and records every
// conditional write, mimicking the version bump of the real store.
type mockAccountStore struct {
	account *models.Account
	getErr  error
	putErr  error
	puts    []models.Account
}

func (m *mockAccountStore) GetAccount(ctx context.Context, id int64) (*models.Account, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.account, nil
}

func (m *mockAccountStore) PutAccount(ctx context.Context, account *models.Account, expectedVersion int64) error {
	if m.putErr != nil {
		return m.putErr
	}
	account.Version = expectedVersion + 1
	m.puts = append(m.puts, *account)
	return nil
}

type published struct {
	topic string
	msg   interface{}
}

type mockPublisher struct {
	events []published
}

func (m *mockPublisher) Publish(topic string, v interface{}) error {
	m.events = append(m.events, published{topic: topic, msg: v})
	return nil
}

func (m *mockPublisher) on(topic string) []published {
	var out []published
	for _, e := range m.events {
		if e.topic == topic {
			out = append(out, e)
		}
	}
	return out
}

func newDecisionEngine(account *models.Account) (*DecisionEngine, *mockAccountStore, *mockPublisher) {
	accounts := &mockAccountStore{account: account}
	pub := &mockPublisher{}
	d := NewDecisionEngine(accounts, pub, zap.NewNop().Sugar())
	return d, accounts, pub
}

func firedFor(account *models.Account, reason models.FireReason, trigger models.Trigger, price float64) models.FiredTrigger {
	trigger.AccountID = account.ID
	return models.FiredTrigger{
		Trigger:   trigger,
		Reason:    reason,
		LastPrice: sample(price),
	}
}

func TestDecisionInstantBuy(t *testing.T) {
	account := &models.Account{
		ID: 1, Version: 3, State: models.StateInUSD,
		BalanceUSD: 1000, TargetAmountUSD: 1010, BuyPrice: f(50125),
	}
	d, accounts, pub := newDecisionEngine(account)

	fired := firedFor(account, models.ReasonInstantBuy,
		models.Trigger{Instant: models.InstantCondition{Kind: models.InstantBuy, Price: 50125}}, 50100)
	require.NoError(t, d.HandleFired(context.Background(), fired))

	require.Len(t, accounts.puts, 1)
	assert.Equal(t, models.StateBuying, accounts.puts[0].State)

	orders := pub.on(bus.TopicOrderRequested)
	require.Len(t, orders, 1)
	req := orders[0].msg.(models.OrderRequest)
	assert.Equal(t, models.SideBuy, req.Side)
	assert.InDelta(t, 50100.0, req.Price, 1e-9)
	assert.False(t, req.IsHedge)
	assert.NotEmpty(t, req.ID)
}

func TestDecisionDuplicateBuyIsAcknowledged(t *testing.T) {
	account := &models.Account{ID: 1, State: models.StateBuying}
	d, accounts, pub := newDecisionEngine(account)

	fired := firedFor(account, models.ReasonInstantBuy,
		models.Trigger{Instant: models.InstantCondition{Kind: models.InstantBuy, Price: 50125}}, 50100)
	require.NoError(t, d.HandleFired(context.Background(), fired))

	assert.Empty(t, accounts.puts)
	assert.Empty(t, pub.events)
}

func TestDecisionInstantSell(t *testing.T) {
	account := &models.Account{
		ID: 2, State: models.StateInBTC, BalanceBTC: 0.02, SellPrice: f(51000),
	}
	d, accounts, pub := newDecisionEngine(account)

	fired := firedFor(account, models.ReasonInstantSell,
		models.Trigger{Instant: models.InstantCondition{Kind: models.InstantSell, Price: 51000}}, 51200)
	require.NoError(t, d.HandleFired(context.Background(), fired))

	require.Len(t, accounts.puts, 1)
	assert.Equal(t, models.StateSelling, accounts.puts[0].State)

	orders := pub.on(bus.TopicOrderRequested)
	require.Len(t, orders, 1)
	req := orders[0].msg.(models.OrderRequest)
	assert.Equal(t, models.SideSell, req.Side)
	assert.False(t, req.IsHedge)
}

func TestDecisionHedgeSellsImmediately(t *testing.T) {
	account := &models.Account{
		ID: 3, State: models.StateInBTC, BalanceBTC: 0.02,
		SellPrice: f(51000), HedgePrice: f(48000),
	}
	d, accounts, pub := newDecisionEngine(account)

	fired := firedFor(account, models.ReasonHedge,
		models.Trigger{Instant: models.InstantCondition{Kind: models.InstantSell, Price: 51000, HedgePrice: f(48000)}}, 47800)
	require.NoError(t, d.HandleFired(context.Background(), fired))

	require.Len(t, accounts.puts, 1)
	assert.Equal(t, models.StateSelling, accounts.puts[0].State)
	assert.Len(t, accounts.puts[0].HedgeTimes, 1)

	orders := pub.on(bus.TopicOrderRequested)
	require.Len(t, orders, 1)
	req := orders[0].msg.(models.OrderRequest)
	assert.Equal(t, models.SideSell, req.Side)
	assert.True(t, req.IsHedge)
}

func TestDecisionHedgeDwellRearms(t *testing.T) {
	delay := 30
	account := &models.Account{
		ID: 4, State: models.StateInBTC, BalanceBTC: 0.02,
		SellPrice: f(51000), HedgePrice: f(48000),
		HedgeDelayMinutes: &delay, HoursToUpdate: 48,
	}
	d, accounts, pub := newDecisionEngine(account)

	now := time.Now()
	d.now = func() time.Time { return now }

	// The trigger was created ten minutes ago, the dwell is thirty.
	trigger := models.Trigger{
		Timestamp: now.Add(-10 * time.Minute).UnixMilli(),
		Instant:   models.InstantCondition{Kind: models.InstantSell, Price: 51000, HedgePrice: f(48000)},
	}
	require.NoError(t, d.HandleFired(context.Background(), firedFor(account, models.ReasonHedge, trigger, 47800)))

	// No order, no state change; the trigger is re-armed instead.
	assert.Empty(t, accounts.puts)
	assert.Empty(t, pub.on(bus.TopicOrderRequested))

	rearmed := pub.on(bus.TopicTriggerRegistered)
	require.Len(t, rearmed, 1)
	next := rearmed[0].msg.(models.Trigger)
	assert.Equal(t, models.InstantSell, next.Instant.Kind)
	assert.InDelta(t, 51000.0, next.Instant.Price, 1e-9)
	require.NotNil(t, next.Instant.HedgePrice)
	// The creation time survives the re-arm so the dwell clock keeps
	// running from the first dip below the hedge line.
	assert.Equal(t, trigger.Timestamp, next.Timestamp)
	require.NotNil(t, next.Range)
	assert.Equal(t, 48, next.Range.Hours)
}

func TestDecisionHedgeDwellAccumulatesAcrossRearms(t *testing.T) {
	delay := 30
	account := &models.Account{
		ID: 4, State: models.StateInBTC, BalanceBTC: 0.02,
		SellPrice: f(51000), HedgePrice: f(48000),
		HedgeDelayMinutes: &delay,
	}
	d, _, pub := newDecisionEngine(account)

	created := time.Now()
	trigger := models.Trigger{
		Timestamp: created.UnixMilli(),
		Instant:   models.InstantCondition{Kind: models.InstantSell, Price: 51000, HedgePrice: f(48000)},
	}

	// Twenty minutes in: still dwelling, trigger re-armed.
	d.now = func() time.Time { return created.Add(20 * time.Minute) }
	require.NoError(t, d.HandleFired(context.Background(), firedFor(account, models.ReasonHedge, trigger, 47800)))
	require.Empty(t, pub.on(bus.TopicOrderRequested))

	rearmed := pub.on(bus.TopicTriggerRegistered)
	require.Len(t, rearmed, 1)

	// Forty minutes in, the re-armed trigger fires again: thirty
	// minutes of dwell have accumulated, so the hedge goes through.
	d.now = func() time.Time { return created.Add(40 * time.Minute) }
	again := models.FiredTrigger{
		Trigger:   rearmed[0].msg.(models.Trigger),
		Reason:    models.ReasonHedge,
		LastPrice: sample(47800),
	}
	require.NoError(t, d.HandleFired(context.Background(), again))

	orders := pub.on(bus.TopicOrderRequested)
	require.Len(t, orders, 1)
	req := orders[0].msg.(models.OrderRequest)
	assert.Equal(t, models.SideSell, req.Side)
	assert.True(t, req.IsHedge)
}

func TestDecisionHedgeDwellElapsed(t *testing.T) {
	delay := 30
	account := &models.Account{
		ID: 5, State: models.StateInBTC, BalanceBTC: 0.02,
		SellPrice: f(51000), HedgeDelayMinutes: &delay,
	}
	d, _, pub := newDecisionEngine(account)

	now := time.Now()
	d.now = func() time.Time { return now }

	trigger := models.Trigger{
		Timestamp: now.Add(-45 * time.Minute).UnixMilli(),
		Instant:   models.InstantCondition{Kind: models.InstantSell, Price: 51000, HedgePrice: f(48000)},
	}
	require.NoError(t, d.HandleFired(context.Background(), firedFor(account, models.ReasonHedge, trigger, 47800)))

	require.Len(t, pub.on(bus.TopicOrderRequested), 1)
}

func TestDecisionHedgeLogsHedgeLine(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	account := &models.Account{
		ID: 3, State: models.StateInBTC, BalanceBTC: 0.02,
		SellPrice: f(51000), HedgePrice: f(48000),
	}
	accounts := &mockAccountStore{account: account}
	d := NewDecisionEngine(accounts, &mockPublisher{}, zap.New(core).Sugar())

	fired := firedFor(account, models.ReasonHedge,
		models.Trigger{Instant: models.InstantCondition{Kind: models.InstantSell, Price: 51000, HedgePrice: f(48000)}}, 47800)
	require.NoError(t, d.HandleFired(context.Background(), fired))

	var hedgeLog string
	for _, entry := range logs.All() {
		if strings.Contains(entry.Message, "hedge line") {
			hedgeLog = entry.Message
		}
	}
	// The logged line is the hedge price, not the sell target.
	assert.Contains(t, hedgeLog, "hedge line 48000.00")
	assert.NotContains(t, hedgeLog, "hedge line 51000.00")
}

func TestDecisionRangeUpdate(t *testing.T) {
	account := &models.Account{
		ID: 6, Version: 2, State: models.StateInUSD,
		BalanceUSD: 1000, TargetAmountUSD: 1010, ProfitDelta: 5,
		BuyPrice: f(50125), HoursToUpdate: 48,
	}
	d, accounts, pub := newDecisionEngine(account)

	fired := models.FiredTrigger{
		Trigger: models.Trigger{
			AccountID: 6,
			Instant:   models.InstantCondition{Kind: models.InstantBuy, Price: 50125},
			Range:     &models.RangeCondition{Kind: models.RangeAbove, Hours: 48},
		},
		Reason:    models.ReasonRangeUpdate,
		LastPrice: sample(52000),
		Averages:  models.AverageSet{Averages: map[int]float64{48: 52000}},
	}
	require.NoError(t, d.HandleFired(context.Background(), fired))

	// Targets re-anchored on the 48h average, no order placed.
	require.Len(t, accounts.puts, 1)
	saved := accounts.puts[0]
	assert.Equal(t, models.StateInUSD, saved.State)
	assert.InDelta(t, (1010-7.5)/(1000.0/52000), *saved.BuyPrice, 1e-6)
	assert.Empty(t, pub.on(bus.TopicOrderRequested))

	rearmed := pub.on(bus.TopicTriggerRegistered)
	require.Len(t, rearmed, 1)
	next := rearmed[0].msg.(models.Trigger)
	assert.Equal(t, models.InstantBuy, next.Instant.Kind)
	assert.InDelta(t, *saved.BuyPrice, next.Instant.Price, 1e-9)
}

func TestDecisionRangeUpdateNeedsSnapshotWindow(t *testing.T) {
	account := &models.Account{ID: 6, State: models.StateInUSD, BuyPrice: f(50125)}
	d, _, _ := newDecisionEngine(account)

	fired := models.FiredTrigger{
		Trigger: models.Trigger{
			AccountID: 6,
			Instant:   models.InstantCondition{Kind: models.InstantBuy, Price: 50125},
			Range:     &models.RangeCondition{Kind: models.RangeAbove, Hours: 48},
		},
		Reason: models.ReasonRangeUpdate,
	}
	assert.Error(t, d.HandleFired(context.Background(), fired))
}

func TestDecisionUnknownReasonResets(t *testing.T) {
	account := &models.Account{ID: 9, State: models.StateInUSD, BuyPrice: f(50125)}
	d, accounts, pub := newDecisionEngine(account)

	trigger := models.Trigger{
		AccountID: 9,
		Instant:   models.InstantCondition{Kind: models.InstantBuy, Price: 50125},
	}
	fired := models.FiredTrigger{Trigger: trigger, Reason: "mystery"}
	require.NoError(t, d.HandleFired(context.Background(), fired))

	assert.Empty(t, accounts.puts)
	rearmed := pub.on(bus.TopicTriggerRegistered)
	require.Len(t, rearmed, 1)
	assert.Equal(t, trigger, rearmed[0].msg.(models.Trigger))
}

func TestDecisionPropagatesStoreErrors(t *testing.T) {
	account := &models.Account{ID: 1, State: models.StateInUSD, BalanceUSD: 1000}
	d, accounts, pub := newDecisionEngine(account)
	accounts.putErr = errors.New("stale version")

	fired := firedFor(account, models.ReasonInstantBuy,
		models.Trigger{Instant: models.InstantCondition{Kind: models.InstantBuy, Price: 50000}}, 49900)
	assert.Error(t, d.HandleFired(context.Background(), fired))
	assert.Empty(t, pub.on(bus.TopicOrderRequested))
}
