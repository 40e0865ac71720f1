package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"broker-governor/internal/api"
	"broker-governor/internal/interfaces"

	"golang.org/x/time/rate"
)

// Telegram sends operator messages through the Bot API. Sends are paced so
// a burst of fills cannot trip the chat's flood limit.
type Telegram struct {
	client  *api.Client
	token   string
	chatID  string
	limiter *rate.Limiter
	retry   api.RetryConfig
}

var _ interfaces.Notifier = (*Telegram)(nil)

type TelegramConfig struct {
	Token      string
	ChatID     string
	BaseURL    string
	RatePerSec float64
	Burst      int
	Timeout    time.Duration
}

func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram: bot token is required")
	}
	if cfg.ChatID == "" {
		return nil, errors.New("telegram: chat id is required")
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Telegram{
		client: api.NewClient(
			api.WithBaseURL(cfg.BaseURL),
			api.WithTimeout(cfg.Timeout),
			api.WithLogging(true),
		),
		token:   cfg.Token,
		chatID:  cfg.ChatID,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		retry:   api.DefaultRetryConfig(),
	}, nil
}

type sendMessage struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type botResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (t *Telegram) Notify(ctx context.Context, text string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	resp, err := t.client.DoWithRetry(ctx, api.Request{
		Method: "POST",
		Path:   "/bot" + t.token + "/sendMessage",
		Body:   sendMessage{ChatID: t.chatID, Text: text, DisableWebPagePreview: true},
	}, t.retry)
	if err != nil {
		return fmt.Errorf("telegram sendMessage: %w", err)
	}

	var out botResponse
	if err := resp.ParseJSON(&out); err != nil {
		return fmt.Errorf("telegram sendMessage: %w", err)
	}
	if !out.OK {
		return fmt.Errorf("telegram sendMessage: %s", out.Description)
	}
	return nil
}
