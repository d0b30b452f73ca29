// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rewired-gh/polyedge/internal/models"
)

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	status         func() string
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(update.Message)
				}
			}
		}
	}()
}

// SetStatusFunc installs the reply for the /status command.
func (c *Client) SetStatusFunc(fn func() string) {
	c.status = fn
}

func (c *Client) handleCommand(msg *tgbotapi.Message) {
	switch msg.Command() {
	case "ping":
		reply := tgbotapi.NewMessage(msg.Chat.ID, "Pong")
		c.bot.Send(reply) //nolint:errcheck
	case "status":
		if c.status == nil {
			return
		}
		reply := tgbotapi.NewMessage(msg.Chat.ID, c.status())
		c.bot.Send(reply) //nolint:errcheck
	}
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if i < c.maxRetries-1 {
			time.Sleep(c.retryDelayBase * time.Duration(i+1))
		}
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError sends a refresh error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(cycleErr error) error {
	text := fmt.Sprintf("⚠️ *Refresh error*\n`%s`", escapeMarkdownV2(cycleErr.Error()))
	return c.sendMarkdownV2(text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *Refresh recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(text)
}

// Send sends a notification with the detected opportunities.
func (c *Client) Send(digest models.Digest) error {
	return c.sendMarkdownV2(formatDigest(digest))
}

// formatDigest formats a digest into a Telegram MarkdownV2 message.
func formatDigest(d models.Digest) string {
	var b strings.Builder
	b.WriteString("🚨 *Pricing Opportunities*")
	if d.Category != "" {
		fmt.Fprintf(&b, " \\- %s", escapeMarkdownV2(d.Category))
	}
	b.WriteString("\n\n")

	if !d.DetectedAt.IsZero() {
		dateStr := escapeMarkdownV2(d.DetectedAt.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(&b, "📅 Detected: %s\n\n", dateStr)
	}

	if len(d.Arbitrage) > 0 {
		b.WriteString("💰 *Arbitrage*\n")
		for i, a := range d.Arbitrage {
			fmt.Fprintf(&b, "%d\\. %s\n", i+1, escapeMarkdownV2(eventLabel(a.Title, a.Outcome)))
			fmt.Fprintf(&b, "   *%s* edge, %s APY over %s\n",
				escapeMarkdownV2(fmt.Sprintf("%.2f%%", a.ArbPercent)),
				escapeMarkdownV2(fmt.Sprintf("%.1f%%", a.APY)),
				escapeMarkdownV2(pluralDays(a.DaysToExpiry)))
			fmt.Fprintf(&b, "   YES %s @ %s, NO %s @ %s\n",
				escapeMarkdownV2(cents(a.BestYes.Price)), escapeMarkdownV2(a.BestYes.Venue),
				escapeMarkdownV2(cents(a.BestNo.Price)), escapeMarkdownV2(a.BestNo.Venue))
		}
		b.WriteString("\n")
	}

	if len(d.Alpha) > 0 {
		b.WriteString("🎯 *Alpha Bias*\n")
		for i, a := range d.Alpha {
			fmt.Fprintf(&b, "%d\\. %s\n", i+1, escapeMarkdownV2(eventLabel(a.Title, a.Outcome)))
			fmt.Fprintf(&b, "   %s: *%s* edge vs fair %s, confidence %s\n",
				escapeMarkdownV2(string(a.Strategy)),
				escapeMarkdownV2(fmt.Sprintf("%.1f pts", a.Edge)),
				escapeMarkdownV2(cents(a.FairPrice)),
				escapeMarkdownV2(fmt.Sprintf("%.0f", a.Confidence)))
		}
		b.WriteString("\n")
	}

	return b.String()
}

func eventLabel(title, outcome string) string {
	if outcome == "" || strings.EqualFold(outcome, "yes") {
		return title
	}
	return title + ": " + outcome
}

func cents(p float64) string {
	return fmt.Sprintf("%.1f¢", p*100)
}

func pluralDays(n int) string {
	if n == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", n)
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
