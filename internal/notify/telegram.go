package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"

	"orchestrator/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const telegramAPIBase = "https://api.telegram.org"

// TelegramNotifier доставляет уведомления в Telegram-чат оператора
//
// Канал best-effort: ошибки доставки оборачиваются в DeliveryError
// и гасятся на уровне Service.
type TelegramNotifier struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
}

// NewTelegramNotifier создаёт канал доставки в Telegram
func NewTelegramNotifier(token, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		token:   token,
		chatID:  chatID,
		baseURL: telegramAPIBase,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Name - имя канала для логов
func (t *TelegramNotifier) Name() string { return "telegram" }

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

// Send доставляет уведомление методом sendMessage
func (t *TelegramNotifier) Send(ctx context.Context, notif *models.Notification) error {
	body, err := json.Marshal(telegramMessage{
		ChatID: t.chatID,
		Text:   formatTelegramText(notif),
	})
	if err != nil {
		return &DeliveryError{Channel: t.Name(), Err: err}
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{Channel: t.Name(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return &DeliveryError{Channel: t.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &DeliveryError{
			Channel: t.Name(),
			Err:     fmt.Errorf("telegram api returned %d", resp.StatusCode),
		}
	}
	return nil
}

// formatTelegramText собирает текст сообщения
func formatTelegramText(notif *models.Notification) string {
	prefix := ""
	switch notif.Severity {
	case models.SeverityWarn:
		prefix = "⚠ "
	case models.SeverityError:
		prefix = "✗ "
	}

	text := fmt.Sprintf("%s[%s] %s", prefix, notif.Type, notif.Message)
	if notif.PlanID != nil {
		text += fmt.Sprintf("\nplan: %s", *notif.PlanID)
	}
	return text
}
