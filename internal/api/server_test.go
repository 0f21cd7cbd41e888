package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"hedgie-bot-go/internal/bus"
	"hedgie-bot-go/internal/models"
	"hedgie-bot-go/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockAccountStore struct {
	accounts map[int64]*models.Account
	price    *models.PriceSample
	puts     []models.Account
}

func newMockAccountStore() *mockAccountStore {
	return &mockAccountStore{accounts: map[int64]*models.Account{}}
}

func (m *mockAccountStore) GetAccount(ctx context.Context, id int64) (*models.Account, error) {
	a, ok := m.accounts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return a, nil
}

func (m *mockAccountStore) PutAccount(ctx context.Context, account *models.Account, expectedVersion int64) error {
	if existing, ok := m.accounts[account.ID]; ok && existing.Version != expectedVersion {
		return store.ErrVersionConflict
	}
	account.Version = expectedVersion + 1
	m.accounts[account.ID] = account
	m.puts = append(m.puts, *account)
	return nil
}

func (m *mockAccountStore) HighestAccountID(ctx context.Context) (int64, error) {
	var highest int64
	for id := range m.accounts {
		if id > highest {
			highest = id
		}
	}
	return highest, nil
}

func (m *mockAccountStore) LatestPrice(ctx context.Context) (*models.PriceSample, error) {
	if m.price == nil {
		return nil, store.ErrNotFound
	}
	return m.price, nil
}

type mockPublisher struct {
	events []struct {
		topic string
		msg   interface{}
	}
}

func (m *mockPublisher) Publish(topic string, v interface{}) error {
	m.events = append(m.events, struct {
		topic string
		msg   interface{}
	}{topic, v})
	return nil
}

func newTestServer() (*mockAccountStore, *mockPublisher, http.Handler) {
	accounts := newMockAccountStore()
	pub := &mockPublisher{}
	s := NewServer(accounts, pub, zap.NewNop().Sugar())
	return accounts, pub, s.Router()
}

func postAccounts(t *testing.T, router http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/accounts", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateAccount(t *testing.T) {
	accounts, pub, router := newTestServer()
	accounts.price = &models.PriceSample{Pair: models.Pair, Price: 50000}

	rec := postAccounts(t, router, `{
		"accountBalanceUSD": 1000,
		"targetAmountUsd": 1010,
		"profitDelta": 5,
		"hoursToUpdate": 48
	}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created models.Account
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, int64(1), created.ID)
	assert.Equal(t, models.StateInUSD, created.State)
	require.NotNil(t, created.BuyPrice)
	assert.InDelta(t, 50125.0, *created.BuyPrice, 1e-6)

	// The account is stored and its first trigger registered.
	require.Len(t, accounts.puts, 1)
	require.Len(t, pub.events, 1)
	assert.Equal(t, bus.TopicTriggerRegistered, pub.events[0].topic)
	trigger := pub.events[0].msg.(models.Trigger)
	assert.Equal(t, int64(1), trigger.AccountID)
	assert.Equal(t, models.InstantBuy, trigger.Instant.Kind)
	require.NotNil(t, trigger.Range)
	assert.Equal(t, 48, trigger.Range.Hours)
}

func TestCreateAccountAllocatesNextID(t *testing.T) {
	accounts, _, router := newTestServer()
	accounts.price = &models.PriceSample{Price: 50000}
	accounts.accounts[7] = &models.Account{ID: 7, Version: 1}

	rec := postAccounts(t, router, `{"accountBalanceUSD": 1000, "targetAmountUsd": 1010}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created models.Account
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, int64(8), created.ID)
}

func TestCreateAccountValidation(t *testing.T) {
	accounts, _, router := newTestServer()
	accounts.price = &models.PriceSample{Price: 50000}

	cases := []struct {
		name string
		body string
	}{
		{"missing balance", `{"targetAmountUsd": 1010}`},
		{"negative balance", `{"accountBalanceUSD": -5, "targetAmountUsd": 1010}`},
		{"missing target", `{"accountBalanceUSD": 1000}`},
		{"risk factor above one", `{"accountBalanceUSD": 1000, "targetAmountUsd": 1010, "riskFactor": 1.5}`},
		{"zero hedge delay", `{"accountBalanceUSD": 1000, "targetAmountUsd": 1010, "hedgeDelayMinutes": 0}`},
		{"not json", `hello`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postAccounts(t, router, tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	assert.Empty(t, accounts.puts)
}

func TestCreateAccountNeedsMarketPrice(t *testing.T) {
	_, _, router := newTestServer()
	rec := postAccounts(t, router, `{"accountBalanceUSD": 1000, "targetAmountUsd": 1010}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetAccount(t *testing.T) {
	accounts, _, router := newTestServer()
	accounts.accounts[3] = &models.Account{ID: 3, State: models.StateInBTC, BalanceBTC: 0.02}

	req := httptest.NewRequest(http.MethodGet, "/accounts/3", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var got models.Account
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, models.StateInBTC, got.State)
}

func TestGetAccountNotFound(t *testing.T) {
	_, _, router := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/accounts/42", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/accounts/abc", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	_, _, router := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
