// Package twitch reads a Twitch channel over IRC and replies with Say.
//
// PRIVMSG lines become structured user chat, USERNOTICE lines (subs,
// raids...) and JOINs become system notices such as "alice joined".
package twitch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	irc "github.com/gempir/go-twitch-irc/v4"

	"livereply/internal/chat"
	"livereply/internal/transport"
	logx "livereply/pkg/logx"
)

type Config struct {
	Username string
	OAuth    string
	Channel  string
}

// Client is the subset of *irc.Client the adapter uses.
type Client interface {
	OnConnect(func())
	OnPrivateMessage(func(irc.PrivateMessage))
	OnUserNoticeMessage(func(irc.UserNoticeMessage))
	OnUserJoinMessage(func(irc.UserJoinMessage))
	Join(channels ...string)
	Say(channel, text string)
	Connect() error
	Disconnect() error
}

// Dialer builds a fresh client per connection attempt.
type Dialer func(username, oauth string) Client

func defaultDialer(username, oauth string) Client { return irc.NewClient(username, oauth) }

type Adapter struct {
	cfg  Config
	log  logx.Logger
	dial Dialer

	mu        sync.Mutex
	client    Client
	connected bool
}

type Option func(*Adapter)

func WithLogger(log logx.Logger) Option { return func(a *Adapter) { a.log = log } }
func WithDialer(d Dialer) Option        { return func(a *Adapter) { a.dial = d } }

func New(cfg Config, opts ...Option) *Adapter {
	cfg.Channel = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(cfg.Channel), "#"))
	a := &Adapter{cfg: cfg, dial: defaultDialer}
	for _, o := range opts {
		o(a)
	}
	if a.log.IsZero() {
		a.log = logx.Nop()
	}
	a.log = a.log.With(logx.Transport("twitch"), logx.String("channel", cfg.Channel))
	return a
}

func (a *Adapter) Name() string { return "twitch" }

// Destination is the reply destination of the configured channel.
func (a *Adapter) Destination() chat.Destination { return ChannelDestination(a.cfg.Channel) }

func ChannelDestination(channel string) chat.Destination {
	return chat.Destination("twitch:#" + strings.TrimPrefix(channel, "#"))
}

// ParseChannel reverses ChannelDestination. A bare channel name is accepted.
func ParseChannel(d chat.Destination) (string, bool) {
	s := strings.TrimSpace(string(d))
	s = strings.TrimPrefix(s, "twitch:")
	s = strings.TrimPrefix(s, "#")
	if s == "" || strings.ContainsAny(s, " :") {
		return "", false
	}
	return strings.ToLower(s), true
}

// Run connects and forwards chat until ctx is done or the connection drops.
// Twitch has no compose-box signal, so fg is unused.
func (a *Adapter) Run(ctx context.Context, out chan<- chat.RawObservation, _ transport.Foreground) error {
	c := a.dial(a.cfg.Username, a.cfg.OAuth)
	origin := a.Destination()
	self := strings.ToLower(a.cfg.Username)

	emit := func(obs chat.RawObservation) {
		select {
		case out <- obs:
		case <-ctx.Done():
		}
	}

	c.OnConnect(func() {
		a.setConnected(c, true)
		a.log.Info("connected")
	})
	c.OnPrivateMessage(func(m irc.PrivateMessage) {
		if strings.EqualFold(m.User.Name, self) {
			return
		}
		emit(privateObservation(m, origin))
	})
	c.OnUserNoticeMessage(func(m irc.UserNoticeMessage) {
		if obs, ok := noticeObservation(m, origin); ok {
			emit(obs)
		}
	})
	c.OnUserJoinMessage(func(m irc.UserJoinMessage) {
		if strings.EqualFold(m.User, self) {
			return
		}
		emit(chat.RawObservation{
			Parts:      []chat.Part{{Type: chat.PartText, Text: m.User + " joined"}},
			KindHint:   "system",
			Origin:     origin,
			ObservedAt: time.Now(),
		})
	})
	c.Join(a.cfg.Channel)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.Disconnect()
		case <-stop:
		}
	}()

	err := c.Connect()
	a.setConnected(c, false)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil || errors.Is(err, irc.ErrClientDisconnected) {
		return transport.ErrDisconnected
	}
	return fmt.Errorf("twitch connect: %w", err)
}

func (a *Adapter) setConnected(c Client, up bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if up {
		a.client, a.connected = c, true
		return
	}
	if a.client == c {
		a.client, a.connected = nil, false
	}
}

// Deliver says text in the destination channel. Say is fire-and-forget,
// so success means the line was handed to a live connection.
func (a *Adapter) Deliver(ctx context.Context, to chat.Destination, text string) error {
	channel, ok := ParseChannel(to)
	if !ok {
		return fmt.Errorf("twitch: destination %q is not a channel", to)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	c, up := a.client, a.connected
	a.mu.Unlock()
	if !up || c == nil {
		return transport.ErrDisconnected
	}
	c.Say(channel, text)
	return nil
}

func privateObservation(m irc.PrivateMessage, origin chat.Destination) chat.RawObservation {
	author := m.User.DisplayName
	if author == "" {
		author = m.User.Name
	}
	at := m.Time
	if at.IsZero() {
		at = time.Now()
	}
	return chat.RawObservation{
		Parts:        []chat.Part{{Type: chat.PartText, Text: m.Message}},
		Structured:   true,
		KindHint:     "chat",
		Author:       author,
		PositionHint: m.ID,
		Origin:       origin,
		ObservedAt:   at,
	}
}

func noticeObservation(m irc.UserNoticeMessage, origin chat.Destination) (chat.RawObservation, bool) {
	text := strings.TrimSpace(m.SystemMsg)
	if text == "" {
		return chat.RawObservation{}, false
	}
	at := m.Time
	if at.IsZero() {
		at = time.Now()
	}
	return chat.RawObservation{
		Parts:        []chat.Part{{Type: chat.PartText, Text: text}},
		KindHint:     "system",
		PositionHint: m.ID,
		Origin:       origin,
		ObservedAt:   at,
	}, true
}
