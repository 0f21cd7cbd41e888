// Package notify delivers human-readable activity summaries to a
// Slack incoming webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"hedgie-bot-go/internal/models"

	"go.uber.org/zap"
)

// Slack posts notifications to an incoming webhook. An empty webhook
// URL disables delivery; every notification is then just logged.
type Slack struct {
	webhookURL string
	channel    string
	client     *http.Client
	logger     *zap.SugaredLogger
}

// NewSlack builds a notifier for the given webhook and channel.
func NewSlack(webhookURL, channel string, logger *zap.SugaredLogger) *Slack {
	return &Slack{
		webhookURL: webhookURL,
		channel:    channel,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

type attachment struct {
	Fallback string                     `json:"fallback"`
	Color    string                     `json:"color,omitempty"`
	Title    string                     `json:"title"`
	Text     string                     `json:"text,omitempty"`
	Fields   []models.NotificationField `json:"fields,omitempty"`
	Time     int64                      `json:"ts"`
}

type payload struct {
	Channel     string       `json:"channel,omitempty"`
	Attachments []attachment `json:"attachments"`
}

// Handle delivers one notification. Client errors (4xx) are logged and
// swallowed since a retry would only repeat them; server errors (5xx)
// and transport failures return an error so the bus retries.
func (s *Slack) Handle(ctx context.Context, n models.Notification) error {
	if s.webhookURL == "" {
		s.logger.Infow("notification (webhook disabled)", "title", n.Title, "fallback", n.Fallback)
		return nil
	}

	body, err := json.Marshal(payload{
		Channel: s.channel,
		Attachments: []attachment{{
			Fallback: n.Fallback,
			Color:    n.Color,
			Title:    n.Title,
			Text:     n.Text,
			Fields:   n.Fields,
			Time:     n.Time / 1000,
		}},
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to slack: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode < 400:
		return nil
	case resp.StatusCode < 500:
		s.logger.Errorw("slack rejected notification", "status", resp.Status, "title", n.Title)
		return nil
	default:
		return fmt.Errorf("post to slack: status %s", resp.Status)
	}
}
