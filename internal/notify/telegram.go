package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

// TelegramSender delivers notifications to a single chat via the Bot API.
type TelegramSender struct {
	bot    *tele.Bot
	chatID int64
}

func NewTelegramSender(token string, chatID int64) (*TelegramSender, error) {
	bot, err := tele.NewBot(tele.Settings{
		Token: token,
		// No poller: this bot only sends.
		Offline: false,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &TelegramSender{bot: bot, chatID: chatID}, nil
}

func (s *TelegramSender) Name() string { return "telegram" }

func (s *TelegramSender) Send(ctx context.Context, n Notification) error {
	var b strings.Builder
	switch n.Severity {
	case SeverityError:
		b.WriteString("❗ ")
	case SeverityWarn:
		b.WriteString("⚠ ")
	}
	b.WriteString(n.Title)
	if n.Body != "" {
		b.WriteString("\n")
		b.WriteString(n.Body)
	}
	for _, f := range n.Fields {
		fmt.Fprintf(&b, "\n%s: %s", f.Name, f.Value)
	}

	// telebot has no ctx-aware send; bound it manually so a hung call can't
	// stall a notifier worker past shutdown.
	done := make(chan error, 1)
	go func() {
		_, err := s.bot.Send(tele.ChatID(s.chatID), b.String())
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(20 * time.Second):
		return fmt.Errorf("telegram: send timed out")
	}
}
