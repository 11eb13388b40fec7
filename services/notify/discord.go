package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultAPIBaseURL = "https://discord.com/api/v10"
	defaultTimeout    = 10 * time.Second

	// Discord rejects message content longer than 2000 characters.
	maxContentLength = 2000
)

// ErrNoDiscordChannel is returned when neither delivery path is configured
var ErrNoDiscordChannel = errors.New("no discord delivery path configured")

// DiscordConfig selects the delivery path: a webhook URL when set, otherwise
// a bot token plus channel ID.
type DiscordConfig struct {
	WebhookURL string
	Username   string
	BotToken   string
	ChannelID  string

	// APIBaseURL overrides the bot API host, for tests
	APIBaseURL string
	Timeout    time.Duration
}

// DiscordNotifier posts notifications to a Discord channel
type DiscordNotifier struct {
	config     DiscordConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewDiscordNotifier creates a Discord notifier
func NewDiscordNotifier(config DiscordConfig, logger *zap.Logger) *DiscordNotifier {
	if config.APIBaseURL == "" {
		config.APIBaseURL = defaultAPIBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DiscordNotifier{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: logger,
	}
}

type webhookPayload struct {
	Content  string `json:"content"`
	Username string `json:"username,omitempty"`
}

type botPayload struct {
	Content string `json:"content"`
}

// Notify sends the message, preferring the webhook path over the bot API
func (n *DiscordNotifier) Notify(ctx context.Context, message string) error {
	message = truncateContent(message)

	switch {
	case n.config.WebhookURL != "":
		return n.sendWebhook(ctx, message)
	case n.config.BotToken != "" && n.config.ChannelID != "":
		return n.sendBot(ctx, message)
	default:
		return ErrNoDiscordChannel
	}
}

func (n *DiscordNotifier) sendWebhook(ctx context.Context, message string) error {
	body, err := json.Marshal(webhookPayload{
		Content:  message,
		Username: n.config.Username,
	})
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting discord webhook: %w", err)
	}
	defer resp.Body.Close()

	// Webhooks answer 204 No Content; ?wait=true variants answer 200
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("discord webhook returned %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	n.logger.Debug("discord webhook delivered", zap.Int("status", resp.StatusCode))
	return nil
}

func (n *DiscordNotifier) sendBot(ctx context.Context, message string) error {
	body, err := json.Marshal(botPayload{Content: message})
	if err != nil {
		return fmt.Errorf("marshaling bot payload: %w", err)
	}

	url := fmt.Sprintf("%s/channels/%s/messages", n.config.APIBaseURL, n.config.ChannelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating bot request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bot "+n.config.BotToken)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting discord bot message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("discord bot API returned %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	n.logger.Debug("discord bot message delivered",
		zap.String("channel_id", n.config.ChannelID),
		zap.Int("status", resp.StatusCode))
	return nil
}

func readErrorBody(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(body))
}

func truncateContent(s string) string {
	runes := []rune(s)
	if len(runes) <= maxContentLength {
		return s
	}
	return string(runes[:maxContentLength-3]) + "..."
}
