package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// Notifier delivers messages to the payer and to the operators. Delivery is
// fire-and-forget: failures are logged by callers and never block
// fulfillment.
type Notifier interface {
	NotifyPayer(ctx context.Context, telegramID int64, text string) error
	NotifyOperators(ctx context.Context, text string) error
	// DeleteMessage removes a now-obsolete "please pay" chat message.
	DeleteMessage(ctx context.Context, telegramID int64, messageID int64) error
}

const telegramAPIBase = "https://api.telegram.org"

// TelegramNotifier sends notifications through the Telegram Bot API.
type TelegramNotifier struct {
	Token    string
	AdminIDs []int64

	APIBase    string
	HTTPClient *http.Client
}

// NewTelegramNotifier creates a notifier for the given bot token and
// operator chat ids.
func NewTelegramNotifier(token string, adminIDs []int64) *TelegramNotifier {
	return &TelegramNotifier{
		Token:      token,
		AdminIDs:   adminIDs,
		APIBase:    telegramAPIBase,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *TelegramNotifier) NotifyPayer(ctx context.Context, telegramID int64, text string) error {
	return n.call(ctx, "sendMessage", map[string]interface{}{
		"chat_id": telegramID,
		"text":    text,
	})
}

func (n *TelegramNotifier) NotifyOperators(ctx context.Context, text string) error {
	var lastErr error
	for _, id := range n.AdminIDs {
		if err := n.call(ctx, "sendMessage", map[string]interface{}{
			"chat_id": id,
			"text":    text,
		}); err != nil {
			log.Warnf("[Notify] operator %d unreachable: %v", id, err)
			lastErr = err
		}
	}
	return lastErr
}

func (n *TelegramNotifier) DeleteMessage(ctx context.Context, telegramID int64, messageID int64) error {
	return n.call(ctx, "deleteMessage", map[string]interface{}{
		"chat_id":    telegramID,
		"message_id": messageID,
	})
}

func (n *TelegramNotifier) call(ctx context.Context, method string, payload map[string]interface{}) error {
	if n.Token == "" {
		return fmt.Errorf("telegram bot token is not configured")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/bot%s/%s", n.APIBase, n.Token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram %s: unexpected status %d", method, resp.StatusCode)
	}
	return nil
}

// LogNotifier is the fallback when no bot token is configured; it writes
// every notification to the application log so nothing disappears silently.
type LogNotifier struct{}

func (LogNotifier) NotifyPayer(_ context.Context, telegramID int64, text string) error {
	log.Infof("[Notify] payer %d: %s", telegramID, text)
	return nil
}

func (LogNotifier) NotifyOperators(_ context.Context, text string) error {
	log.Infof("[Notify] operators: %s", text)
	return nil
}

func (LogNotifier) DeleteMessage(_ context.Context, telegramID int64, messageID int64) error {
	log.Infof("[Notify] delete message %d for %d", messageID, telegramID)
	return nil
}
