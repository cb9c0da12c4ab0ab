package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/ViktorIovenko/KopifilesNAS/internal/config"
	"github.com/ViktorIovenko/KopifilesNAS/internal/engine"
	"github.com/ViktorIovenko/KopifilesNAS/internal/safety"
)

// ErrMissingCredentials is returned when the bot token or chat id is unset.
var ErrMissingCredentials = errors.New("telegram bot token or chat id not set")

const maxResponseBytes = 64 << 10

// Telegram sends summaries through the Bot API sendMessage method.
type Telegram struct {
	baseURL  string
	tokenEnv string
	chatEnv  string
	client   *http.Client
	logger   *slog.Logger
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// NewTelegram creates a Telegram notifier. Credentials are read from the
// environment on every send, so a .env file loaded after startup still
// applies.
func NewTelegram(cfg config.TelegramConfig, logger *slog.Logger) (*Telegram, error) {
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if _, err := safety.ValidateHTTPURL(baseURL); err != nil {
		return nil, fmt.Errorf("invalid telegram base URL: %w", err)
	}
	return &Telegram{
		baseURL:  baseURL,
		tokenEnv: cfg.TokenEnv,
		chatEnv:  cfg.ChatEnv,
		client:   safety.NewHTTPClient(cfg.Timeout),
		logger:   logger,
	}, nil
}

// Notify implements engine.Notifier.
func (t *Telegram) Notify(ctx context.Context, s engine.Summary) error {
	return t.Send(ctx, FormatSummary(s))
}

// Send posts text to the configured chat.
func (t *Telegram) Send(ctx context.Context, text string) error {
	token := strings.TrimSpace(os.Getenv(t.tokenEnv))
	chatID := strings.TrimSpace(os.Getenv(t.chatEnv))
	if token == "" || chatID == "" {
		return fmt.Errorf("%w (token=%t, chat=%t)", ErrMissingCredentials, token != "", chatID != "")
	}

	form := url.Values{}
	form.Set("chat_id", chatID)
	form.Set("text", text)

	endpoint := t.baseURL + "/bot" + token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		// The URL carries the token; keep it out of logs and errors.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("telegram request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := safety.ReadAllWithLimit(resp.Body, maxResponseBytes)
	if err != nil {
		return fmt.Errorf("reading telegram response: %w", err)
	}

	var parsed sendMessageResponse
	_ = json.Unmarshal(body, &parsed)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !parsed.OK {
		desc := parsed.Description
		if desc == "" {
			desc = resp.Status
		}
		return fmt.Errorf("telegram sendMessage failed: %s", desc)
	}

	t.logger.Debug("telegram message sent", "chat", chatID, "bytes", len(text))
	return nil
}
