// Package browser drives a live chat page over the DevTools protocol: an
// injected observer feeds the pipeline and replies are typed into the page.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"livereply/internal/chat"
	"livereply/internal/transport"
	logx "livereply/pkg/logx"
)

const (
	DefaultPollInterval   = 250 * time.Millisecond
	DefaultListSelector   = `[data-testid="virtuoso-item-list"]`
	DefaultInputSelector  = `textarea[placeholder="대화를 입력하세요."], input[placeholder="대화를 입력하세요."]`
	DefaultButtonSelector = `button[aria-label="보내기"], button[title="보내기"]`

	destPrefix = "browser:"
)

var ErrNoPage = errors.New("browser: no matching page")

type Config struct {
	ControlURL     string
	URLContains    string
	Headless       bool
	PollInterval   time.Duration
	ListSelector   string
	InputSelector  string
	ButtonSelector string
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ListSelector == "" {
		c.ListSelector = DefaultListSelector
	}
	if c.InputSelector == "" {
		c.InputSelector = DefaultInputSelector
	}
	if c.ButtonSelector == "" {
		c.ButtonSelector = DefaultButtonSelector
	}
	return c
}

// Page evaluates a JS function in the chat page and returns its JSON result.
type Page interface {
	Eval(ctx context.Context, js string, args ...any) ([]byte, error)
}

// Connector opens the chat page. release is called when the adapter is done
// with it.
type Connector func(ctx context.Context, cfg Config) (page Page, release func(), err error)

type Adapter struct {
	cfg     Config
	log     logx.Logger
	connect Connector

	mu   sync.Mutex
	page Page
}

type Option func(*Adapter)

func WithLogger(log logx.Logger) Option { return func(a *Adapter) { a.log = log } }
func WithConnector(c Connector) Option  { return func(a *Adapter) { a.connect = c } }

func New(cfg Config, opts ...Option) *Adapter {
	a := &Adapter{cfg: cfg.withDefaults(), connect: connectRod}
	for _, o := range opts {
		o(a)
	}
	if a.log.IsZero() {
		a.log = logx.Nop()
	}
	a.log = a.log.With(logx.Transport("browser"))
	return a
}

func (a *Adapter) Name() string { return "browser" }

// Destination is the address replies for this page carry.
func (a *Adapter) Destination() chat.Destination {
	return chat.Destination(destPrefix + a.cfg.URLContains)
}

// Run attaches to the page and drains the observer queue every poll
// interval. A failed evaluation ends Run so the supervisor reconnects.
func (a *Adapter) Run(ctx context.Context, out chan<- chat.RawObservation, fg transport.Foreground) error {
	page, release, err := a.connect(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer release()
	if err := a.install(ctx, page); err != nil {
		return err
	}
	a.setPage(page)
	defer a.setPage(nil)

	typing := false
	defer func() {
		if typing {
			fg.InteractionEnded()
		}
	}()

	t := time.NewTicker(a.cfg.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}

		raw, err := page.Eval(ctx, drainJS)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("browser: drain: %w", err)
		}
		recs, ok, err := decodeRecords(raw)
		if err != nil {
			a.log.Warn("bad observer batch", logx.Err(err))
			continue
		}
		if !ok {
			a.log.Info("observer gone; reinstalling")
			if err := a.install(ctx, page); err != nil {
				return err
			}
			continue
		}
		for _, r := range recs {
			switch {
			case r.Type == "typing" && r.State == "start":
				typing = true
				fg.InteractionStarted()
			case r.Type == "typing" && r.State == "end":
				typing = false
				fg.InteractionEnded()
			case r.Type == "chat":
				obs, ok := r.observation(a.Destination())
				if !ok {
					continue
				}
				select {
				case out <- obs:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

func (a *Adapter) install(ctx context.Context, page Page) error {
	if _, err := page.Eval(ctx, observerJS, a.cfg.ListSelector, a.cfg.InputSelector); err != nil {
		return fmt.Errorf("browser: install observer: %w", err)
	}
	return nil
}

func (a *Adapter) setPage(p Page) {
	a.mu.Lock()
	a.page = p
	a.mu.Unlock()
}

// Deliver types text into the page's chat input and submits it.
func (a *Adapter) Deliver(ctx context.Context, to chat.Destination, text string) error {
	if !strings.HasPrefix(string(to), destPrefix) {
		return fmt.Errorf("browser: destination %q is not a page", to)
	}
	a.mu.Lock()
	page := a.page
	a.mu.Unlock()
	if page == nil {
		return transport.ErrDisconnected
	}

	raw, err := page.Eval(ctx, sendJS, a.cfg.InputSelector, a.cfg.ButtonSelector, text)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return transport.ErrTimeout
		}
		return fmt.Errorf("browser: send: %w", err)
	}
	var msg string
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("browser: send result: %w", err)
	}
	if msg != "" {
		return fmt.Errorf("browser: send failed: %s", msg)
	}
	return nil
}

// record is one entry of the injected queue.
type record struct {
	Type  string      `json:"type"`
	State string      `json:"state,omitempty"`
	Kind  string      `json:"kind,omitempty"`
	User  *string     `json:"user"`
	Parts []chat.Part `json:"parts,omitempty"`
	Idx   *string     `json:"idx"`
	Ts    int64       `json:"ts,omitempty"`
}

func (r record) observation(origin chat.Destination) (chat.RawObservation, bool) {
	if len(r.Parts) == 0 {
		return chat.RawObservation{}, false
	}
	obs := chat.RawObservation{
		Parts:      r.Parts,
		Structured: r.Kind == "chat",
		KindHint:   r.Kind,
		Origin:     origin,
		ObservedAt: time.Now(),
	}
	if r.User != nil {
		obs.Author = *r.User
	}
	if r.Idx != nil {
		obs.PositionHint = *r.Idx
	}
	if r.Ts > 0 {
		obs.ObservedAt = time.UnixMilli(r.Ts)
	}
	return obs, true
}

// decodeRecords parses a drain result. ok is false when the page reported no
// observer.
func decodeRecords(raw []byte) (recs []record, ok bool, err error) {
	if s := strings.TrimSpace(string(raw)); s == "" || s == "null" {
		return nil, false, nil
	}
	if err := json.Unmarshal(raw, &recs); err != nil {
		return nil, true, err
	}
	return recs, true, nil
}

type rodPage struct{ p *rod.Page }

func (r rodPage) Eval(ctx context.Context, js string, args ...any) ([]byte, error) {
	res, err := r.p.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           js,
		JSArgs:       args,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return []byte("null"), nil
	}
	return res.Value.MarshalJSON()
}

// connectRod attaches to ControlURL, or launches a local browser when it is
// empty, and picks the first page whose URL contains URLContains. A launched
// browser opens URLContains itself when it is a full URL.
func connectRod(ctx context.Context, cfg Config) (Page, func(), error) {
	var l *launcher.Launcher
	controlURL := cfg.ControlURL
	if controlURL == "" {
		l = launcher.New().Headless(cfg.Headless)
		u, err := l.Launch()
		if err != nil {
			return nil, nil, fmt.Errorf("browser: launch: %w", err)
		}
		controlURL = u
	} else if !strings.HasPrefix(controlURL, "ws") {
		u, err := launcher.ResolveURL(controlURL)
		if err != nil {
			return nil, nil, fmt.Errorf("browser: resolve %s: %w", controlURL, err)
		}
		controlURL = u
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		if l != nil {
			l.Kill()
		}
		return nil, nil, fmt.Errorf("browser: connect: %w", err)
	}
	release := func() {
		if l != nil {
			_ = b.Close()
			l.Kill()
		}
	}

	page, err := findPage(b, cfg.URLContains)
	if errors.Is(err, ErrNoPage) && l != nil && strings.HasPrefix(cfg.URLContains, "http") {
		page, err = b.Page(proto.TargetCreateTarget{URL: cfg.URLContains})
	}
	if err != nil {
		release()
		return nil, nil, err
	}
	return rodPage{p: page}, release, nil
}

func findPage(b *rod.Browser, urlContains string) (*rod.Page, error) {
	pages, err := b.Pages()
	if err != nil {
		return nil, fmt.Errorf("browser: list pages: %w", err)
	}
	for _, p := range pages {
		info, err := p.Info()
		if err != nil {
			continue
		}
		if matchURL(info.URL, urlContains) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: url contains %q", ErrNoPage, urlContains)
}

func matchURL(url, want string) bool {
	return want == "" || strings.Contains(url, want)
}
