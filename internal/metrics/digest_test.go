package metrics

import (
	"context"
	"errors"
	"testing"

	"hedgie-bot-go/internal/bus"
	"hedgie-bot-go/internal/models"
	"hedgie-bot-go/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockDigestStore struct {
	rows []models.MetricsRow
}

func (m *mockDigestStore) ListMetrics(ctx context.Context) ([]models.MetricsRow, error) {
	return m.rows, nil
}

type mockAccountReader struct {
	accounts map[int64]*models.Account
}

func (m *mockAccountReader) GetAccount(ctx context.Context, id int64) (*models.Account, error) {
	a, ok := m.accounts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return a, nil
}

type mockPublisher struct {
	notes []models.Notification
}

func (m *mockPublisher) Publish(topic string, v interface{}) error {
	if topic == bus.TopicNotification {
		m.notes = append(m.notes, v.(models.Notification))
	}
	return nil
}

func TestDigestPublishesPerAccount(t *testing.T) {
	counters := &mockDigestStore{rows: []models.MetricsRow{
		{AccountID: 1, TotalTrades: 4, Buys: 2, Sells: 2, VolumeBTC: 0.08, VolumeUSD: 4000},
		{AccountID: 2, TotalTrades: 1, Buys: 1, Hedges: 1},
	}}
	accounts := &mockAccountReader{accounts: map[int64]*models.Account{
		1: {ID: 1, BalanceUSD: 1000, ProfitUSD: 70},
		2: {ID: 2, BalanceUSD: 500},
	}}
	pub := &mockPublisher{}

	d := NewDigest(counters, accounts, pub, zap.NewNop().Sugar())
	require.NoError(t, d.RunOnce(context.Background()))

	require.Len(t, pub.notes, 2)
	first := pub.notes[0]
	assert.Equal(t, "Account 1 Digest", first.Title)
	assert.Equal(t, digestColor, first.Color)

	byTitle := map[string]string{}
	for _, f := range first.Fields {
		byTitle[f.Title] = f.Value
	}
	assert.Equal(t, "4", byTitle["Total Trades"])
	assert.Equal(t, "2 / 2", byTitle["Buys / Sells"])
	assert.Equal(t, "$70.00", byTitle["Siphoned Profit"])
}

func TestDigestSkipsOrphanedCounters(t *testing.T) {
	counters := &mockDigestStore{rows: []models.MetricsRow{{AccountID: 9, TotalTrades: 1}}}
	accounts := &mockAccountReader{accounts: map[int64]*models.Account{}}
	pub := &mockPublisher{}

	d := NewDigest(counters, accounts, pub, zap.NewNop().Sugar())
	require.NoError(t, d.RunOnce(context.Background()))
	assert.Empty(t, pub.notes)
}

func TestDigestWithNoCounters(t *testing.T) {
	d := NewDigest(&mockDigestStore{}, &mockAccountReader{}, &mockPublisher{}, zap.NewNop().Sugar())
	assert.NoError(t, d.RunOnce(context.Background()))
}

type mockCounterStore struct {
	inits   []int64
	records []models.CompletedOrder
	initErr error
}

func (m *mockCounterStore) InitMetrics(ctx context.Context, accountID int64, order models.CompletedOrder) error {
	if m.initErr != nil {
		return m.initErr
	}
	m.inits = append(m.inits, accountID)
	return nil
}

func (m *mockCounterStore) RecordTrade(ctx context.Context, order models.CompletedOrder) error {
	m.records = append(m.records, order)
	return nil
}

func TestRecorderSeedsThenCounts(t *testing.T) {
	counters := &mockCounterStore{}
	r := NewRecorder(counters, zap.NewNop().Sugar())

	order := models.CompletedOrder{OrderID: "o-1", AccountID: 3, Side: models.SideBuy}
	require.NoError(t, r.HandleCompleted(context.Background(), order))

	assert.Equal(t, []int64{3}, counters.inits)
	require.Len(t, counters.records, 1)
	assert.Equal(t, "o-1", counters.records[0].OrderID)
}

func TestRecorderPropagatesSeedFailure(t *testing.T) {
	counters := &mockCounterStore{initErr: errors.New("db locked")}
	r := NewRecorder(counters, zap.NewNop().Sugar())

	err := r.HandleCompleted(context.Background(), models.CompletedOrder{OrderID: "o-1"})
	assert.Error(t, err)
	assert.Empty(t, counters.records)
}
