// Package telegram sends operator notifications (log alerts, reports) to a
// Telegram chat. It never carries chat replies.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

// MaxMessageLen is Telegram's limit for one text message, in characters.
const MaxMessageLen = 4096

type Config struct {
	Token    string
	ChatID   int64
	ThreadID int
	// APIURL overrides the Bot API endpoint (tests, local bot servers).
	APIURL string
}

type Notifier struct {
	bot  *tele.Bot
	to   *tele.Chat
	opts *tele.SendOptions
}

func New(cfg Config) (*Notifier, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.APIURL,
		Client:  &http.Client{Timeout: 8 * time.Second},
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	return &Notifier{
		bot:  b,
		to:   &tele.Chat{ID: cfg.ChatID},
		opts: &tele.SendOptions{ThreadID: cfg.ThreadID, DisableWebPagePreview: true},
	}, nil
}

// Notify sends text as a plain message, cut to MaxMessageLen.
func (n *Notifier) Notify(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if r := []rune(text); len(r) > MaxMessageLen {
		text = string(r[:MaxMessageLen-1]) + "…"
	}
	_, err := n.bot.Send(n.to, text, n.opts)
	return err
}
