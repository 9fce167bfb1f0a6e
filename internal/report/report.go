// Package report periodically summarizes every session: queue depth and
// delivery counters since the previous report. Summaries go to the log and,
// optionally, to the operator notifier.
package report

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"livereply/internal/pipeline"
	"livereply/internal/transport"
	logx "livereply/pkg/logx"
)

// Parser accepts 5-field specs, 6-field specs with seconds and descriptors
// such as "@every 5m".
var Parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type Config struct {
	Enabled  bool
	Schedule string
	Notify   bool
}

// StatsFunc returns the current stats of every running session.
type StatsFunc func() []pipeline.Stats

type Service struct {
	mu       sync.Mutex
	cfg      Config
	log      logx.Logger
	stats    StatsFunc
	notifier transport.Notifier

	c    *cron.Cron
	ctx  context.Context
	prev map[string]pipeline.Stats
}

// New builds the service. notifier may be nil.
func New(cfg Config, stats StatsFunc, notifier transport.Notifier, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, stats: stats, notifier: notifier, log: log.With(logx.Component("report")), prev: map[string]pipeline.Stats{}}
}

// Start schedules the report. It is a no-op when disabled or already running.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil || !s.cfg.Enabled {
		return nil
	}
	spec := strings.TrimSpace(s.cfg.Schedule)
	if spec == "" {
		spec = "@every 5m"
	}
	c := cron.New(cron.WithParser(Parser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(spec, func() { s.Run(ctx) }); err != nil {
		return fmt.Errorf("report schedule %q: %w", spec, err)
	}
	s.c, s.ctx = c, ctx
	c.Start()
	s.log.Info("report scheduled", logx.String("schedule", spec))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// Apply reschedules when the config changed.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	changed := s.cfg != cfg
	s.cfg = cfg
	ctx := s.ctx
	s.mu.Unlock()
	if !changed || ctx == nil {
		return nil
	}
	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	s.Stop(stopCtx)
	cancel()
	return s.Start(ctx)
}

// Run builds one report now, logs it and notifies when configured. It
// returns the rendered text.
func (s *Service) Run(ctx context.Context) string {
	if s.stats == nil {
		return ""
	}
	cur := s.stats()

	s.mu.Lock()
	lines := make([]string, 0, len(cur)+1)
	lines = append(lines, "livereply report")
	for _, st := range cur {
		p := s.prev[st.Name]
		d := st.Delivery
		s.log.Info("session report",
			logx.Session(st.Name),
			logx.Int("depth", d.Depth),
			logx.Int("delivered", d.Delivered-p.Delivery.Delivered),
			logx.Int("expired", d.Expired-p.Delivery.Expired),
			logx.Int("dropped", d.Dropped-p.Delivery.Dropped),
			logx.Int("retries", d.Retries-p.Delivery.Retries),
			logx.Int("dedup_keys", st.DedupKeys),
			logx.Bool("guard_active", st.GuardActive),
		)
		lines = append(lines, fmt.Sprintf("- %s: depth=%d delivered=+%d expired=+%d dropped=+%d dedup=%d",
			st.Name, d.Depth, d.Delivered-p.Delivery.Delivered, d.Expired-p.Delivery.Expired, d.Dropped-p.Delivery.Dropped, st.DedupKeys))
		s.prev[st.Name] = st
	}
	notify := s.cfg.Notify
	n := s.notifier
	s.mu.Unlock()

	text := strings.Join(lines, "\n")
	if notify && n != nil && len(cur) > 0 {
		nctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := n.Notify(nctx, text); err != nil {
			s.log.Warn("report notify failed", logx.Err(err))
		}
		cancel()
	}
	return text
}
