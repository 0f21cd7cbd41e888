package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"hedgie-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func note() models.Notification {
	return models.Notification{
		Title:    "Bot 1 has bought @ 50000.00",
		Fallback: "Bot 1 bought @ 50000.00",
		Color:    "#439FE0",
		Fields: []models.NotificationField{
			{Title: "Activity Setting", Value: "48", Short: true},
		},
		Time: 1700000000000,
	}
}

func TestSlackPostsAttachment(t *testing.T) {
	var got payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSlack(srv.URL, "hedgie", zap.NewNop().Sugar())
	require.NoError(t, s.Handle(context.Background(), note()))

	assert.Equal(t, "hedgie", got.Channel)
	require.Len(t, got.Attachments, 1)
	a := got.Attachments[0]
	assert.Equal(t, "Bot 1 has bought @ 50000.00", a.Title)
	assert.Equal(t, "#439FE0", a.Color)
	require.Len(t, a.Fields, 1)
	assert.Equal(t, "Activity Setting", a.Fields[0].Title)
	// Slack timestamps are seconds, stored times are milliseconds.
	assert.Equal(t, int64(1700000000), a.Time)
}

func TestSlackDisabledWithoutWebhook(t *testing.T) {
	s := NewSlack("", "hedgie", zap.NewNop().Sugar())
	assert.NoError(t, s.Handle(context.Background(), note()))
}

func TestSlackSwallowsClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewSlack(srv.URL, "hedgie", zap.NewNop().Sugar())
	// Retrying a rejected payload would just fail again.
	assert.NoError(t, s.Handle(context.Background(), note()))
}

func TestSlackReturnsServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewSlack(srv.URL, "hedgie", zap.NewNop().Sugar())
	assert.Error(t, s.Handle(context.Background(), note()))
}
