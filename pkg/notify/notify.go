// Package notify fans alert events out to operator channels: structured
// console logs, Discord webhooks and Telegram bots. Channels are filtered
// by minimum severity and jointly rate-limited so an alert storm cannot
// turn into a webhook storm.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sentinelmesh/core/pkg/contracts"
)

// Channel delivers one alert to one destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, alert contracts.Alert) error
}

// historySize bounds the in-memory delivery history ring.
const historySize = 256

// Delivery records one attempted notification.
type Delivery struct {
	Channel string    `json:"channel"`
	AlertID uint64    `json:"alert_id"`
	At      time.Time `json:"at"`
	Error   string    `json:"error,omitempty"`
}

// Notifier routes alerts to channels. Safe for concurrent use.
type Notifier struct {
	mu          sync.Mutex
	channels    []Channel
	minSeverity contracts.Severity
	limiter     *rate.Limiter
	history     []Delivery
	logger      *slog.Logger
	clock       func() time.Time
}

// New creates a notifier delivering alerts at or above minSeverity, at
// most perMinute notifications per minute across all channels.
func New(minSeverity contracts.Severity, perMinute int, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	if perMinute <= 0 {
		perMinute = 60
	}
	return &Notifier{
		minSeverity: minSeverity,
		limiter:     rate.NewLimiter(rate.Limit(float64(perMinute)/60), perMinute),
		logger:      logger,
		clock:       time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (n *Notifier) WithClock(clock func() time.Time) *Notifier {
	n.clock = clock
	return n
}

// AddChannel registers a delivery channel.
func (n *Notifier) AddChannel(c Channel) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.channels = append(n.channels, c)
}

// Notify delivers one alert to every channel. Below-threshold alerts and
// rate-limited deliveries are dropped silently: notification is advisory,
// the chain log remains the record.
func (n *Notifier) Notify(ctx context.Context, alert contracts.Alert) {
	if !alert.Severity.AtLeast(n.minSeverity) {
		return
	}
	if !n.limiter.Allow() {
		n.logger.Warn("notification rate limit hit, dropping",
			"alert_id", alert.ID, "severity", alert.Severity)
		return
	}

	n.mu.Lock()
	channels := make([]Channel, len(n.channels))
	copy(channels, n.channels)
	n.mu.Unlock()

	for _, c := range channels {
		err := c.Send(ctx, alert)
		d := Delivery{Channel: c.Name(), AlertID: alert.ID, At: n.clock()}
		if err != nil {
			d.Error = err.Error()
			n.logger.Error("notification delivery failed",
				"channel", c.Name(), "alert_id", alert.ID, "error", err)
		}
		n.record(d)
	}
}

func (n *Notifier) record(d Delivery) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.history = append(n.history, d)
	if len(n.history) > historySize {
		n.history = n.history[len(n.history)-historySize:]
	}
}

// History returns recent deliveries, oldest first.
func (n *Notifier) History() []Delivery {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Delivery, len(n.history))
	copy(out, n.history)
	return out
}

// ConsoleChannel logs alerts with slog.
type ConsoleChannel struct {
	logger *slog.Logger
}

// NewConsoleChannel creates a console channel.
func NewConsoleChannel(logger *slog.Logger) *ConsoleChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsoleChannel{logger: logger}
}

func (c *ConsoleChannel) Name() string { return "console" }

func (c *ConsoleChannel) Send(_ context.Context, alert contracts.Alert) error {
	c.logger.Warn("alert",
		"alert_id", alert.ID,
		"type", alert.Type,
		"severity", alert.Severity,
		"video", alert.ContentHash.Short(),
		"message", alert.Message,
	)
	return nil
}

// DiscordChannel posts alerts to a Discord webhook.
type DiscordChannel struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordChannel creates a Discord channel. A nil client gets a default
// with a 10s timeout.
func NewDiscordChannel(webhookURL string, client *http.Client) *DiscordChannel {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &DiscordChannel{webhookURL: webhookURL, client: client}
}

func (c *DiscordChannel) Name() string { return "discord" }

func (c *DiscordChannel) Send(ctx context.Context, alert contracts.Alert) error {
	body := map[string]any{
		"content": fmt.Sprintf("**[%s] %s**\n%s\nvideo: `%s`",
			alert.Severity, alert.Type, alert.Message, alert.ContentHash),
	}
	return postJSON(ctx, c.client, c.webhookURL, body)
}

// TelegramChannel posts alerts via the Telegram bot API.
type TelegramChannel struct {
	apiBase string
	token   string
	chatID  string
	client  *http.Client
}

// NewTelegramChannel creates a Telegram channel. apiBase overrides the
// endpoint for tests; empty means api.telegram.org.
func NewTelegramChannel(token, chatID, apiBase string, client *http.Client) *TelegramChannel {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if apiBase == "" {
		apiBase = "https://api.telegram.org"
	}
	return &TelegramChannel{apiBase: apiBase, token: token, chatID: chatID, client: client}
}

func (c *TelegramChannel) Name() string { return "telegram" }

func (c *TelegramChannel) Send(ctx context.Context, alert contracts.Alert) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", c.apiBase, c.token)
	body := map[string]any{
		"chat_id": c.chatID,
		"text": fmt.Sprintf("[%s] %s\n%s\nvideo: %s",
			alert.Severity, alert.Type, alert.Message, alert.ContentHash),
	}
	return postJSON(ctx, c.client, url, body)
}

func postJSON(ctx context.Context, client *http.Client, url string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: webhook returned %d", resp.StatusCode)
	}
	return nil
}
