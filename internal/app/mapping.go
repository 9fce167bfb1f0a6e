package app

import (
	"fmt"
	"strings"
	"time"

	"livereply/internal/chat"
	"livereply/internal/config"
	"livereply/internal/delivery"
	"livereply/internal/observability/ops"
	"livereply/internal/pipeline"
	"livereply/internal/report"
	"livereply/internal/storage"
	"livereply/internal/transport"
	"livereply/internal/transport/amqp"
	"livereply/internal/transport/browser"
	"livereply/internal/transport/nativemsg"
	"livereply/internal/transport/telegram"
	"livereply/internal/transport/twitch"
	logx "livereply/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Notify: logx.NotifyConfig{
			Enabled:    l.Telegram.Enabled,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, bool) {
	t := cfg.Telegram
	if t == nil || strings.TrimSpace(t.Token) == "" {
		return telegram.Config{}, false
	}
	return telegram.Config{Token: t.Token, ChatID: t.ChatID, ThreadID: t.ThreadID}, true
}

func mapSettings(cfg *config.Config) (pipeline.Settings, error) {
	t, err := cfg.Pipeline.Resolve()
	if err != nil {
		return pipeline.Settings{}, err
	}
	return pipeline.Settings{
		MaxTextLen:    t.MaxTextLen,
		DedupWindow:   t.DedupeWindow,
		GuardDebounce: t.GuardDebounce,
		Delivery: delivery.Config{
			MinInterval:    t.MinSendInterval,
			RetryHorizon:   t.RetryHorizon,
			RetryBackoff:   t.RetryBackoff,
			GuardBackoff:   t.GuardBackoff,
			AttemptTimeout: t.AttemptTimeout,
			MaxQueue:       t.MaxQueue,
			HistorySize:    t.HistorySize,
		},
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapOpsConfig(cfg *config.Config) (ops.Config, error) {
	o := cfg.Ops
	out := ops.Config{
		Enabled:       o.Enabled,
		Addr:          strings.TrimSpace(o.Addr),
		Token:         o.Token,
		AllowInsecure: o.AllowInsecure,
		Pprof:         o.Pprof,
	}
	if out.Addr == "" {
		out.Addr = ops.DefaultAddr
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("ops.read_timeout", o.ReadTimeout, 5*time.Second); err != nil {
		return ops.Config{}, err
	}
	if out.WriteTimeout, err = config.ParseDurationOrDefault("ops.write_timeout", o.WriteTimeout, 30*time.Second); err != nil {
		return ops.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("ops.idle_timeout", o.IdleTimeout, 60*time.Second); err != nil {
		return ops.Config{}, err
	}
	return out, nil
}

func mapReportConfig(cfg *config.Config) report.Config {
	return report.Config{
		Enabled:  cfg.Report.Enabled,
		Schedule: cfg.Report.ScheduleOrDefault(),
		Notify:   cfg.Report.Notify,
	}
}

// endpoint is what a session talks to: one adapter serving as both source
// and sink.
type endpoint interface {
	transport.Source
	transport.Sink
}

// buildEndpoint creates the adapter for sc. The returned destination is the
// fallback for observations that do not carry an origin.
func (a *App) buildEndpoint(sc config.SessionConfig, log logx.Logger) (endpoint, chat.Destination, error) {
	var (
		ep   endpoint
		dest chat.Destination
	)
	switch strings.ToLower(strings.TrimSpace(sc.Transport)) {
	case "nativemsg":
		h := nativemsg.NewHost(a.stdin, a.stdout, nativemsg.WithLogger(log), nativemsg.WithVersion(Version))
		a.host = h
		ep = h
	case "browser":
		bc := sc.Browser
		if bc == nil {
			return nil, "", fmt.Errorf("session %q: browser section required", sc.Name)
		}
		poll, err := config.ParseDurationOrDefault("browser.poll_interval", bc.PollInterval, browser.DefaultPollInterval)
		if err != nil {
			return nil, "", err
		}
		b := browser.New(browser.Config{
			ControlURL:     bc.ControlURL,
			URLContains:    bc.URLContains,
			Headless:       bc.Headless,
			PollInterval:   poll,
			ListSelector:   bc.ListSelector,
			InputSelector:  bc.InputSelector,
			ButtonSelector: bc.ButtonSelector,
		}, browser.WithLogger(log))
		ep, dest = b, b.Destination()
	case "twitch":
		tc := sc.Twitch
		if tc == nil {
			return nil, "", fmt.Errorf("session %q: twitch section required", sc.Name)
		}
		t := twitch.New(twitch.Config{Username: tc.Username, OAuth: tc.OAuth, Channel: tc.Channel}, twitch.WithLogger(log))
		ep, dest = t, t.Destination()
	case "amqp":
		ac := sc.AMQP
		if ac == nil {
			return nil, "", fmt.Errorf("session %q: amqp section required", sc.Name)
		}
		ep = amqp.New(amqp.Config{
			URL:        ac.URL,
			Queue:      ac.Queue,
			Exchange:   ac.Exchange,
			RoutingKey: ac.RoutingKey,
			Prefetch:   ac.Prefetch,
		}, amqp.WithLogger(log))
		dest = chat.Destination("amqp:" + ac.RoutingKey)
	default:
		return nil, "", fmt.Errorf("session %q: unknown transport %q", sc.Name, sc.Transport)
	}
	if d := strings.TrimSpace(sc.Destination); d != "" {
		dest = chat.Destination(d)
	}
	return ep, dest, nil
}
