package notifications

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

const telegramAPI = "https://api.telegram.org"

type TelegramNotifier struct {
	client *resty.Client
	token  string
	chatID string
	title  string
}

func NewTelegramNotifier(token, chatID string) *TelegramNotifier {
	client := resty.New().
		SetBaseURL(telegramAPI).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)
	return &TelegramNotifier{
		client: client,
		token:  token,
		chatID: chatID,
		title:  "Futures Guardian",
	}
}

// WithBaseURL points the notifier at another API host (tests, proxies)
func (t *TelegramNotifier) WithBaseURL(base string) *TelegramNotifier {
	t.client.SetBaseURL(base)
	return t
}

func (t *TelegramNotifier) SendAlert(level, message string) error {
	emoji := "ℹ️"
	switch level {
	case LevelWarning:
		emoji = "⚠️"
	case LevelError, LevelCritical:
		emoji = "🚨"
	case LevelSuccess:
		emoji = "✅"
	}

	resp, err := t.client.R().
		SetFormData(map[string]string{
			"chat_id":    t.chatID,
			"text":       fmt.Sprintf("%s *%s*\n\n%s", emoji, t.title, message),
			"parse_mode": "Markdown",
		}).
		Post("/bot" + t.token + "/sendMessage")
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode())
	}
	return nil
}
