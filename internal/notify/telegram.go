// Package notify sends optional operator notifications to a Telegram chat.
// A nil *Notifier is valid and silently drops everything, so callers never
// branch on whether notifications are configured.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-telegram/bot"
)

// minErrorInterval rate-limits connection-trouble notifications so a long
// outage does not flood the chat.
const minErrorInterval = 15 * time.Minute

// Notifier sends operator notifications
type Notifier struct {
	bot    *bot.Bot
	chatID int64
	logger *slog.Logger

	mu        sync.Mutex
	lastError time.Time
}

// New creates a Telegram notifier. Returns an error only when the token is
// rejected by the API.
func New(token string, chatID int64, logger *slog.Logger) (*Notifier, error) {
	b, err := bot.New(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &Notifier{
		bot:    b,
		chatID: chatID,
		logger: logger.With("component", "notify"),
	}, nil
}

// TicketCreated notifies about a newly created ticket
func (n *Notifier) TicketCreated(ctx context.Context, ticketID uint32, sender, subject string) {
	if n == nil {
		return
	}
	n.send(ctx, fmt.Sprintf("🎫 Ticket %d\nFrom: %s\nSubject: %s", ticketID, sender, subject))
}

// ConnectionTrouble notifies about sustained reconnection failures
func (n *Notifier) ConnectionTrouble(ctx context.Context, err error) {
	if n == nil {
		return
	}
	n.mu.Lock()
	if time.Since(n.lastError) < minErrorInterval {
		n.mu.Unlock()
		return
	}
	n.lastError = time.Now()
	n.mu.Unlock()

	n.send(ctx, fmt.Sprintf("⚠️ Mailbox connection trouble, retrying: %v", err))
}

func (n *Notifier) send(ctx context.Context, text string) {
	_, err := n.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: n.chatID,
		Text:   text,
	})
	if err != nil {
		n.logger.Warn("failed to send notification", "error", err)
	}
}
