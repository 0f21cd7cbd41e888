package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"hedgie-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockSampleWriter struct {
	samples []models.PriceSample
}

func (m *mockSampleWriter) PutPrice(ctx context.Context, sample models.PriceSample) error {
	m.samples = append(m.samples, sample)
	return nil
}

func tickerServer(t *testing.T, body string, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/pubticker/btcusd", r.URL.Path)
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
}

func TestPollOnceStoresSample(t *testing.T) {
	srv := tickerServer(t, `{"bid":"49990.00","ask":"50010.00","last":"50000.25"}`, http.StatusOK)
	defer srv.Close()

	sink := &mockSampleWriter{}
	p := NewGeminiPoller(srv.URL, time.Minute, sink, zap.NewNop().Sugar())

	require.NoError(t, p.PollOnce(context.Background()))
	require.Len(t, sink.samples, 1)
	assert.Equal(t, models.Pair, sink.samples[0].Pair)
	assert.InDelta(t, 50000.25, sink.samples[0].Price, 1e-9)
	assert.Equal(t, "gemini", sink.samples[0].Exchange)
	assert.NotZero(t, sink.samples[0].Timestamp)
}

func TestPollOnceSkipsEmptyLast(t *testing.T) {
	srv := tickerServer(t, `{"bid":"49990.00"}`, http.StatusOK)
	defer srv.Close()

	sink := &mockSampleWriter{}
	p := NewGeminiPoller(srv.URL, time.Minute, sink, zap.NewNop().Sugar())

	require.NoError(t, p.PollOnce(context.Background()))
	assert.Empty(t, sink.samples)
}

func TestPollOnceRejectsBadResponses(t *testing.T) {
	srv := tickerServer(t, `upstream blew up`, http.StatusInternalServerError)
	defer srv.Close()

	sink := &mockSampleWriter{}
	p := NewGeminiPoller(srv.URL, time.Minute, sink, zap.NewNop().Sugar())

	assert.Error(t, p.PollOnce(context.Background()))
	assert.Empty(t, sink.samples)
}

func TestPollOnceRejectsUnparsablePrice(t *testing.T) {
	srv := tickerServer(t, `{"last":"not-a-number"}`, http.StatusOK)
	defer srv.Close()

	sink := &mockSampleWriter{}
	p := NewGeminiPoller(srv.URL, time.Minute, sink, zap.NewNop().Sugar())

	assert.Error(t, p.PollOnce(context.Background()))
	assert.Empty(t, sink.samples)
}
