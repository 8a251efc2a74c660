// Package transport delivers user-facing messages over the Telegram Bot
// API. Error text is truncated before it leaves the process.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/graphmind-ai/graphmind/common"
)

const (
	defaultBaseURL = "https://api.telegram.org"
	requestTimeout = 10 * time.Second
	retryDelay     = 500 * time.Millisecond
)

// Update is the inbound webhook payload we care about.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// Message is one inbound chat message.
type Message struct {
	MessageID int64  `json:"message_id"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text"`
}

// Chat identifies the conversation.
type Chat struct {
	ID int64 `json:"id"`
}

// Messenger is what the worker needs from a chat transport.
type Messenger interface {
	SendMessage(ctx context.Context, chatID, text string) error
	SendApprovalPrompt(ctx context.Context, chatID, text string) error
	SendError(ctx context.Context, chatID string, err error) error
}

// Telegram sends messages through the Bot API.
type Telegram struct {
	token   string
	baseURL string
	client  *http.Client
	sleep   func(time.Duration)
	log     *logrus.Entry
}

// NewTelegram builds a sender for the given bot token.
func NewTelegram(token string) *Telegram {
	return &Telegram{
		token:   token,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: requestTimeout},
		sleep:   time.Sleep,
		log:     common.ServiceLogger("telegram"),
	}
}

// SendMessage delivers plain text to a chat.
func (t *Telegram) SendMessage(ctx context.Context, chatID, text string) error {
	return t.send(ctx, map[string]interface{}{
		"chat_id": chatID,
		"text":    text,
	})
}

// SendApprovalPrompt delivers the decision prompt with an approve/reject
// reply keyboard.
func (t *Telegram) SendApprovalPrompt(ctx context.Context, chatID, text string) error {
	return t.send(ctx, map[string]interface{}{
		"chat_id": chatID,
		"text":    text,
		"reply_markup": map[string]interface{}{
			"keyboard":          [][]map[string]string{{{"text": "approve"}, {"text": "reject"}}},
			"one_time_keyboard": true,
			"resize_keyboard":   true,
		},
	})
}

// SendError delivers a sanitized, truncated error message.
func (t *Telegram) SendError(ctx context.Context, chatID string, err error) error {
	return t.SendMessage(ctx, chatID, "⚠️ "+common.SanitizeUserError(err))
}

// send posts to sendMessage with one retry on transport or 5xx failures.
func (t *Telegram) send(ctx context.Context, payload map[string]interface{}) error {
	if t.token == "" {
		t.log.Debug("no bot token configured, dropping outbound message")
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode telegram payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			t.sleep(retryDelay)
		}
		lastErr = t.post(ctx, body)
		if lastErr == nil {
			return nil
		}
		t.log.WithError(lastErr).WithField("attempt", attempt+1).Warn("telegram send failed")
	}
	return lastErr
}

func (t *Telegram) post(ctx context.Context, body []byte) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram sendMessage returned %d: %s", resp.StatusCode, common.Truncate(string(detail), common.MaxTransportMessageLen))
	}
	return nil
}
