package config

import (
	"livereply/internal/classify"
)

type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Telegram   *TelegramConfig  `json:"telegram,omitempty"`
	Pipeline   PipelineConfig   `json:"pipeline"`
	Classifier ClassifierConfig `json:"classifier"`
	Sessions   []SessionConfig  `json:"sessions"`
	Storage    *StorageConfig   `json:"storage,omitempty"`
	Ops        OpsConfig        `json:"ops,omitempty"`
	Report     ReportConfig     `json:"report,omitempty"`
}

// PipelineConfig holds the timings shared by every session.
//
// All durations are Go duration strings (e.g. "850ms", "10s").
//
// Defaults (when fields are omitted/zero):
//   - dedupe_window: "2500ms"
//   - min_send_interval: "850ms"
//   - retry_horizon: "10s"
//   - retry_backoff: "200ms"
//   - guard_debounce: "1500ms"
//   - guard_backoff: "1s"
//   - attempt_timeout: "10s"
//   - max_text_len: 200
//   - max_queue: 256
//   - history_size: 100
type PipelineConfig struct {
	DedupeWindow    string `json:"dedupe_window,omitempty"`
	MinSendInterval string `json:"min_send_interval,omitempty"`
	RetryHorizon    string `json:"retry_horizon,omitempty"`
	RetryBackoff    string `json:"retry_backoff,omitempty"`
	GuardDebounce   string `json:"guard_debounce,omitempty"`
	GuardBackoff    string `json:"guard_backoff,omitempty"`
	AttemptTimeout  string `json:"attempt_timeout,omitempty"`

	MaxTextLen  int `json:"max_text_len,omitempty"`
	MaxQueue    int `json:"max_queue,omitempty"`
	HistorySize int `json:"history_size,omitempty"`
}

type ClassifierConfig struct {
	SelfNames []string `json:"self_names,omitempty"`
	// UserChat enables the greeting/likes flow over user chat.
	UserChat bool                  `json:"user_chat,omitempty"`
	Rules    []classify.RuleConfig `json:"rules,omitempty"`
}

// SessionConfig describes one channel. Transport selects which adapter
// provides both the observations and the delivery path.
type SessionConfig struct {
	Name        string `json:"name"`
	Enabled     *bool  `json:"enabled,omitempty"`
	Destination string `json:"destination,omitempty"`
	Transport   string `json:"transport"` // nativemsg | browser | twitch | amqp

	Browser *BrowserConfig `json:"browser,omitempty"`
	Twitch  *TwitchConfig  `json:"twitch,omitempty"`
	AMQP    *AMQPConfig    `json:"amqp,omitempty"`
}

func (s SessionConfig) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

type BrowserConfig struct {
	// ControlURL is a DevTools websocket URL. When empty a local browser is launched.
	ControlURL  string `json:"control_url,omitempty"`
	URLContains string `json:"url_contains"`
	Headless    bool   `json:"headless,omitempty"`
	// PollInterval is how often the injected queue is drained (default "250ms").
	PollInterval string `json:"poll_interval,omitempty"`

	ListSelector   string `json:"list_selector,omitempty"`
	InputSelector  string `json:"input_selector,omitempty"`
	ButtonSelector string `json:"button_selector,omitempty"`
}

type TwitchConfig struct {
	Username string `json:"username"`
	OAuth    string `json:"oauth"` // "oauth:..." token (do not log)
	Channel  string `json:"channel"`
}

type AMQPConfig struct {
	URL        string `json:"url"` // do not log (may carry credentials)
	Queue      string `json:"queue"`
	Exchange   string `json:"exchange,omitempty"`
	RoutingKey string `json:"routing_key"`
	Prefetch   int    `json:"prefetch,omitempty"`
}

// TelegramConfig is the operator notification channel.
type TelegramConfig struct {
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls the reply audit log.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./livereply.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// OpsConfig controls the ops HTTP server (/healthz, /metrics, pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default: "127.0.0.1:6060"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

type ReportConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"` // cron spec, default "@every 5m"
	Notify   bool   `json:"notify,omitempty"`   // also send to the telegram ops chat
}
