// Package telegram sends operator alerts via the Telegram Bot API.
// Alerts report content bundles that failed to load and selection batches
// aborted by an authoring defect; both name the offending variant code so an
// operator can fix the bundle.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/kundlicore/internal/logger"
)

// AlertKind classifies an alert.
type AlertKind string

const (
	// ContentDefect is a bundle rejected at load time.
	ContentDefect AlertKind = "content_defect"
	// BatchAborted is a selection request aborted by a fatal variant error.
	BatchAborted AlertKind = "batch_aborted"
)

// Alert is one operator-facing problem report.
type Alert struct {
	Kind   AlertKind
	Source string // bundle file or chart reference
	Code   string // variant code, when known
	Detail string
	At     time.Time
}

// sender is the subset of *tgbotapi.BotAPI the client uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client handles Telegram alerts
type Client struct {
	bot            sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return newClient(bot, chatID, maxRetries, retryDelayBase)
}

func newClient(bot sender, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
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

// Send delivers alerts as one message, retrying with linear backoff until
// maxRetries attempts fail or ctx is done.
func (c *Client) Send(ctx context.Context, alerts []Alert) error {
	if len(alerts) == 0 {
		return nil
	}

	msg := tgbotapi.NewMessage(c.chatID, formatMessage(alerts))
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		_, err := c.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		logger.Warn("Telegram send attempt %d/%d failed: %v", i+1, c.maxRetries, err)

		if i == c.maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("alert delivery canceled: %w", ctx.Err())
		case <-time.After(c.retryDelayBase * time.Duration(i+1)):
		}
	}

	return fmt.Errorf("failed to send message after %d retries: %w", c.maxRetries, lastErr)
}

// formatMessage formats alerts into a MarkdownV2 Telegram message
func formatMessage(alerts []Alert) string {
	var b strings.Builder
	b.WriteString("🚨 *Kundli engine alerts*\n\n")

	if !alerts[0].At.IsZero() {
		fmt.Fprintf(&b, "📅 %s\n\n", escapeMarkdownV2(alerts[0].At.UTC().Format("2006-01-02 15:04:05 UTC")))
	}

	for i, a := range alerts {
		fmt.Fprintf(&b, "%d\\. %s *%s*\n", i+1, kindEmoji(a.Kind), escapeMarkdownV2(kindTitle(a.Kind)))
		if a.Source != "" {
			fmt.Fprintf(&b, "   📄 Source: `%s`\n", escapeCode(a.Source))
		}
		if a.Code != "" {
			fmt.Fprintf(&b, "   🏷 Variant: `%s`\n", escapeCode(a.Code))
		}
		if a.Detail != "" {
			fmt.Fprintf(&b, "   %s\n", escapeMarkdownV2(truncate(a.Detail, 500)))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func kindEmoji(k AlertKind) string {
	if k == BatchAborted {
		return "⛔"
	}
	return "⚠️"
}

func kindTitle(k AlertKind) string {
	switch k {
	case ContentDefect:
		return "Content bundle rejected"
	case BatchAborted:
		return "Selection batch aborted"
	}
	return string(k)
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2
func escapeMarkdownV2(text string) string {
	// Characters that need escaping in MarkdownV2:
	// _ * [ ] ( ) ~ ` > # + - = | { } . ! and the escape character itself
	var b strings.Builder
	b.Grow(len(text))
	for _, char := range text {
		switch char {
		case '\\', '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

// escapeCode escapes text inside a `code` span, where only ` and \ are special.
func escapeCode(text string) string {
	r := strings.NewReplacer("\\", "\\\\", "`", "\\`")
	return r.Replace(text)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
