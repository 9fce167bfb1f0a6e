package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"livereply/internal/classify"
	"livereply/internal/config"
	"livereply/internal/eventbus"
	"livereply/internal/observability/ops"
	"livereply/internal/pipeline"
	"livereply/internal/report"
	rtsup "livereply/internal/runtime/supervisor"
	"livereply/internal/storage"
	"livereply/internal/telemetry"
	"livereply/internal/transport"
	"livereply/internal/transport/nativemsg"
	"livereply/internal/transport/telegram"
	logx "livereply/pkg/logx"
)

// Version is reported to the browser extension in HELLO. Set with -ldflags.
var Version = "dev"

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	recorder *storage.Recorder
	ops      *ops.Server
	report   *report.Service
	sessions []*pipeline.Session

	stdin  io.Reader
	stdout io.Writer
	host   *nativemsg.Host
}

type Option func(*App)

// WithStdio replaces the native messaging stream (os.Stdin/os.Stdout).
func WithStdio(r io.Reader, w io.Writer) Option {
	return func(a *App) { a.stdin, a.stdout = r, w }
}

func NewApp(cfgPath string, opts ...Option) (*App, error) {
	a := &App{stdin: os.Stdin, stdout: os.Stdout}
	for _, o := range opts {
		o(a)
	}

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	a.cfgm = cfgm

	var notifier transport.Notifier
	if tc, ok := mapTelegramConfig(cfg); ok {
		n, err := telegram.New(tc)
		if err != nil {
			return nil, err
		}
		notifier = n
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg), notifier)
	a.logs = logSvc
	a.log = log.With(logx.Component("app"))

	telemetry.Init()
	a.bus = eventbus.New()

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.Component("storage")))
		if err != nil {
			return nil, err
		}
		a.store = st
		a.recorder = storage.NewRecorder(st, a.bus, log.With(logx.Component("audit")))
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	settings, err := mapSettings(cfg)
	if err != nil {
		return nil, err
	}
	cls, err := classify.New(cfg.Classifier.ClassifierSettings())
	if err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}
	for _, sc := range cfg.Sessions {
		if !sc.IsEnabled() {
			a.log.Info("session disabled", logx.Session(sc.Name))
			continue
		}
		sessLog := log.With(logx.Component("session"))
		ep, dest, err := a.buildEndpoint(sc, sessLog.With(logx.Session(sc.Name)))
		if err != nil {
			return nil, err
		}
		s := pipeline.New(pipeline.Config{Name: sc.Name, Destination: dest, Settings: settings}, cls, ep, ep,
			pipeline.WithLogger(sessLog),
			pipeline.WithBus(a.bus),
		)
		a.sessions = append(a.sessions, s)
	}
	if len(a.sessions) == 0 {
		a.log.Warn("no enabled sessions")
	}

	opsCfg, err := mapOpsConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.ops = ops.New(opsCfg, a.status, a.store, log)
	a.report = report.New(mapReportConfig(cfg), a.Stats, notifier, log)
	return a, nil
}

// Stats snapshots every session.
func (a *App) Stats() []pipeline.Stats {
	out := make([]pipeline.Stats, 0, len(a.sessions))
	for _, s := range a.sessions {
		out = append(out, s.Stats())
	}
	return out
}

func (a *App) status() any {
	st := struct {
		Version    string           `json:"version"`
		Sessions   []pipeline.Stats `json:"sessions"`
		BusDropped uint64           `json:"bus_dropped"`
		Runtime    rtsup.Snapshot   `json:"runtime"`
	}{Version: Version, Sessions: a.Stats(), BusDropped: a.bus.Dropped()}
	if a.sup != nil {
		st.Runtime = a.sup.Snapshot()
	}
	return st
}

// Done is closed when the app context is canceled (fatal error, extension
// disconnect or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.Component("config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		_, err := mapOpsConfig(cfg)
		return err
	})

	c := a.sup.Context()
	if a.recorder != nil {
		a.sup.Go0("storage.recorder", func(c context.Context) {
			if err := a.recorder.Run(c); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("audit recorder stopped", logx.Err(err))
			}
		})
	}
	for _, s := range a.sessions {
		a.sup.Go0("session."+s.Name(), func(c context.Context) {
			if err := s.Run(c); err != nil {
				a.log.Warn("session stop error", logx.Session(s.Name()), logx.Err(err))
			}
		})
	}
	if a.host != nil {
		// Chrome closes stdin when the extension goes away; the host
		// process is expected to exit then.
		a.sup.Go("nativemsg.link", func(c context.Context) error {
			select {
			case <-c.Done():
				return nil
			case <-a.host.Done():
				return fmt.Errorf("%s: %w", StopDisconnected, a.host.Err())
			}
		})
	}

	a.ops.Start(c)
	if err := a.report.Start(c); err != nil {
		return err
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, last, newCfg)
				last = newCfg
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.Int("sessions", len(a.sessions)), logx.String("version", Version))
	return nil
}

// applyConfig re-applies everything that can change without a restart.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	ch := config.SummarizeChange(oldCfg, newCfg)
	if ch.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.log.Debug("config change summary", append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Fields...)...)
	if len(ch.RestartRequired) > 0 {
		a.log.Warn("config sections changed; restart required for them to take effect",
			logx.Strings("sections", ch.RestartRequired))
	}

	a.logs.Apply(mapLoggingConfig(newCfg))

	settings, err := mapSettings(newCfg)
	if err != nil {
		a.log.Warn("invalid pipeline config; keeping previous", logx.Err(err))
	} else {
		cls, err := classify.New(newCfg.Classifier.ClassifierSettings())
		if err != nil {
			a.log.Warn("invalid classifier config; keeping previous rules", logx.Err(err))
			cls = nil
		}
		for _, s := range a.sessions {
			s.Apply(settings, cls)
		}
	}

	if err := a.report.Apply(mapReportConfig(newCfg)); err != nil {
		a.log.Warn("report schedule rejected", logx.Err(err))
	}
	if oc, err := mapOpsConfig(newCfg); err != nil {
		a.log.Warn("invalid ops config; keeping previous", logx.Err(err))
	} else {
		a.ops.Reconfigure(ctx, oc)
	}

	a.log.Info("config reloaded", logx.String("changed", strings.Join(ch.Sections, ",")))
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	step(ctx, a.log, "ops", 1*time.Second, a.ops.Stop)
	step(ctx, a.log, "report", 1*time.Second, func(c context.Context) error { a.report.Stop(c); return nil })
	// Sessions drain through the supervisor: each Run stops its scheduler.
	step(ctx, a.log, "supervisor", 6*time.Second, func(c context.Context) error {
		if err := a.sup.Wait(c); errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return nil
	})
	step(ctx, a.log, "storage", 1*time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step with an upper bound so a stuck component
// cannot stall the whole stop. The caller's deadline is never extended.
func step(ctx context.Context, log logx.Logger, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		log.Warn("stop step skipped; deadline reached", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		if took := time.Since(start); took >= 500*time.Millisecond {
			log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
