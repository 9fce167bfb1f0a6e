package config

import (
	"reflect"
	"strings"

	logx "livereply/pkg/logx"
)

// Change summarizes a reload for logging. Fields never carry secrets.
type Change struct {
	// Sections lists changed top-level sections in config order.
	Sections []string
	Fields   []logx.Field
	// RestartRequired lists changed sections that only take effect after a
	// process restart (sessions, storage, telegram).
	RestartRequired []string
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// SummarizeChange compares two configs section by section.
func SummarizeChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	mark := func(section string, restart bool, fields ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		ch.Fields = append(ch.Fields, fields...)
		if restart {
			ch.RestartRequired = append(ch.RestartRequired, section)
		}
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		mark("logging", false,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}
	if !telegramEqual(oldCfg.Telegram, newCfg.Telegram) {
		mark("telegram", true, logx.Bool("telegram.set", newCfg.Telegram != nil))
	}
	if oldCfg.Pipeline != newCfg.Pipeline {
		p := newCfg.Pipeline
		mark("pipeline", false,
			logx.String("pipeline.dedupe_window", p.DedupeWindow),
			logx.String("pipeline.min_send_interval", p.MinSendInterval),
			logx.String("pipeline.retry_horizon", p.RetryHorizon),
			logx.String("pipeline.guard_debounce", p.GuardDebounce),
		)
	}
	if !reflect.DeepEqual(oldCfg.Classifier, newCfg.Classifier) {
		mark("classifier", false,
			logx.Int("classifier.rules", len(newCfg.Classifier.Rules)),
			logx.Bool("classifier.user_chat", newCfg.Classifier.UserChat),
		)
	}
	if !sessionsEqual(oldCfg.Sessions, newCfg.Sessions) {
		names := make([]string, 0, len(newCfg.Sessions))
		for _, s := range newCfg.Sessions {
			names = append(names, s.Name)
		}
		mark("sessions", true, logx.Strings("sessions", names))
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		driver := ""
		if newCfg.Storage != nil {
			driver = newCfg.Storage.Driver
		}
		mark("storage", true, logx.String("storage.driver", driver))
	}
	if !opsEqual(oldCfg.Ops, newCfg.Ops) {
		mark("ops", false,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", newCfg.Ops.Addr),
			logx.Bool("ops.token_set", strings.TrimSpace(newCfg.Ops.Token) != ""),
		)
	}
	if oldCfg.Report != newCfg.Report {
		mark("report", false,
			logx.Bool("report.enabled", newCfg.Report.Enabled),
			logx.String("report.schedule", newCfg.Report.ScheduleOrDefault()),
		)
	}
	return ch
}

func telegramEqual(a, b *TelegramConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sessionsEqual(a, b []SessionConfig) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !reflect.DeepEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

func opsEqual(a, b OpsConfig) bool { return a == b }
