package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"livereply/internal/classify"
)

// Timings is PipelineConfig with defaults applied and durations parsed.
type Timings struct {
	DedupeWindow    time.Duration
	MinSendInterval time.Duration
	RetryHorizon    time.Duration
	RetryBackoff    time.Duration
	GuardDebounce   time.Duration
	GuardBackoff    time.Duration
	AttemptTimeout  time.Duration
	MaxTextLen      int
	MaxQueue        int
	HistorySize     int
}

func (p PipelineConfig) Resolve() (Timings, error) {
	var (
		t   Timings
		err error
	)
	fields := []struct {
		path string
		raw  string
		def  time.Duration
		dst  *time.Duration
	}{
		{"pipeline.dedupe_window", p.DedupeWindow, 2500 * time.Millisecond, &t.DedupeWindow},
		{"pipeline.min_send_interval", p.MinSendInterval, 850 * time.Millisecond, &t.MinSendInterval},
		{"pipeline.retry_horizon", p.RetryHorizon, 10 * time.Second, &t.RetryHorizon},
		{"pipeline.retry_backoff", p.RetryBackoff, 200 * time.Millisecond, &t.RetryBackoff},
		{"pipeline.guard_debounce", p.GuardDebounce, 1500 * time.Millisecond, &t.GuardDebounce},
		{"pipeline.guard_backoff", p.GuardBackoff, time.Second, &t.GuardBackoff},
		{"pipeline.attempt_timeout", p.AttemptTimeout, 10 * time.Second, &t.AttemptTimeout},
	}
	for _, f := range fields {
		if *f.dst, err = ParseDurationOrDefault(f.path, f.raw, f.def); err != nil {
			return Timings{}, err
		}
	}

	t.MaxTextLen = p.MaxTextLen
	if t.MaxTextLen <= 0 {
		t.MaxTextLen = 200
	}
	t.MaxQueue = p.MaxQueue
	if t.MaxQueue <= 0 {
		t.MaxQueue = 256
	}
	t.HistorySize = p.HistorySize
	if t.HistorySize <= 0 {
		t.HistorySize = 100
	}
	return t, nil
}

// ClassifierSettings converts the classifier section.
func (c ClassifierConfig) ClassifierSettings() classify.Config {
	return classify.Config{Rules: c.Rules, SelfNames: c.SelfNames, UserChat: c.UserChat}
}

var scheduleParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var knownTransports = map[string]struct{}{
	"nativemsg": {},
	"browser":   {},
	"twitch":    {},
	"amqp":      {},
}

// Validate checks everything that can be checked without connecting to anything.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if _, err := cfg.Pipeline.Resolve(); err != nil {
		errs = append(errs, err)
	}
	if _, err := classify.New(cfg.Classifier.ClassifierSettings()); err != nil {
		errs = append(errs, fmt.Errorf("classifier: %w", err))
	}

	seen := map[string]struct{}{}
	stdio := 0
	for i, s := range cfg.Sessions {
		path := fmt.Sprintf("sessions[%d]", i)
		name := strings.TrimSpace(s.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("%s.name: required", path))
		} else if _, dup := seen[name]; dup {
			errs = append(errs, fmt.Errorf("%s.name: duplicate %q", path, name))
		}
		seen[name] = struct{}{}

		tr := strings.ToLower(strings.TrimSpace(s.Transport))
		if _, ok := knownTransports[tr]; !ok {
			errs = append(errs, fmt.Errorf("%s.transport: unknown %q", path, s.Transport))
			continue
		}
		if !s.IsEnabled() {
			continue
		}
		switch tr {
		case "nativemsg":
			stdio++
		case "browser":
			if s.Browser == nil || strings.TrimSpace(s.Browser.URLContains) == "" {
				errs = append(errs, fmt.Errorf("%s.browser.url_contains: required", path))
			} else if _, err := ParseDurationField(path+".browser.poll_interval", s.Browser.PollInterval); err != nil {
				errs = append(errs, err)
			}
		case "twitch":
			if s.Twitch == nil || strings.TrimSpace(s.Twitch.Channel) == "" || strings.TrimSpace(s.Twitch.Username) == "" {
				errs = append(errs, fmt.Errorf("%s.twitch: username and channel required", path))
			}
		case "amqp":
			if s.AMQP == nil || strings.TrimSpace(s.AMQP.URL) == "" || strings.TrimSpace(s.AMQP.Queue) == "" {
				errs = append(errs, fmt.Errorf("%s.amqp: url and queue required", path))
			}
		}
	}
	if stdio > 1 {
		errs = append(errs, errors.New("sessions: at most one nativemsg session (stdio is shared)"))
	}

	if cfg.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
		case "", "none", "file", "sqlite":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown %q", cfg.Storage.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	for _, f := range []struct{ path, raw string }{
		{"ops.read_timeout", cfg.Ops.ReadTimeout},
		{"ops.write_timeout", cfg.Ops.WriteTimeout},
		{"ops.idle_timeout", cfg.Ops.IdleTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			errs = append(errs, err)
		}
	}

	if cfg.Report.Enabled {
		if _, err := scheduleParser.Parse(cfg.Report.ScheduleOrDefault()); err != nil {
			errs = append(errs, fmt.Errorf("report.schedule: %w", err))
		}
	}
	if cfg.Logging.Telegram.Enabled && (cfg.Telegram == nil || strings.TrimSpace(cfg.Telegram.Token) == "") {
		errs = append(errs, errors.New("logging.telegram: telegram.token required"))
	}
	return errors.Join(errs...)
}

func (r ReportConfig) ScheduleOrDefault() string {
	if s := strings.TrimSpace(r.Schedule); s != "" {
		return s
	}
	return "@every 5m"
}
