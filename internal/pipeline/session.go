// Package pipeline runs one reply session: a source feeding observations
// through normalize, classify and dedup into a delivery scheduler.
//
// Every piece of state (dedup records, queue, guard) belongs to the Session,
// so several sessions can run side by side in one process.
package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"livereply/internal/chat"
	"livereply/internal/classify"
	"livereply/internal/dedup"
	"livereply/internal/delivery"
	"livereply/internal/eventbus"
	"livereply/internal/guard"
	"livereply/internal/normalize"
	rtsup "livereply/internal/runtime/supervisor"
	"livereply/internal/telemetry"
	"livereply/internal/transport"
	logx "livereply/pkg/logx"
)

// Settings are the live-tunable parts of a session.
type Settings struct {
	MaxTextLen    int
	DedupWindow   time.Duration
	GuardDebounce time.Duration
	Delivery      delivery.Config
}

type Config struct {
	Name string
	// Destination is used when an observation does not say where it came from.
	Destination chat.Destination
	Settings    Settings
}

type Outcome int

const (
	OutcomeNoise Outcome = iota
	OutcomeNoMatch
	OutcomeDuplicate
	OutcomeQueued
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNoise:
		return "noise"
	case OutcomeNoMatch:
		return "no_match"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeQueued:
		return "queued"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Result describes what Handle did with one observation.
type Result struct {
	Outcome Outcome
	Event   chat.ChatEvent
	Intent  chat.ReplyIntent
	Job     chat.ReplyJob
	Err     error
}

// Stats is a session snapshot for reports and health output.
type Stats struct {
	Name        string         `json:"name"`
	Delivery    delivery.Stats `json:"delivery"`
	DedupKeys   int            `json:"dedup_keys"`
	GuardActive bool           `json:"guard_active"`
	Runtime     rtsup.Snapshot `json:"runtime"`
}

type Session struct {
	name     string
	fallback chat.Destination
	log      logx.Logger
	bus      eventbus.Bus

	src   transport.Source
	norm  atomic.Value // normalize.Normalizer
	cls   atomic.Pointer[classify.Classifier]
	dedup *dedup.Deduplicator
	guard *guard.Guard
	sched *delivery.Scheduler
	sup   atomic.Pointer[rtsup.Supervisor]

	now func() time.Time
}

type Option func(*Session)

func WithLogger(log logx.Logger) Option { return func(s *Session) { s.log = log } }
func WithBus(bus eventbus.Bus) Option   { return func(s *Session) { s.bus = bus } }

// New builds a session. src may be nil when observations are fed through Handle.
func New(cfg Config, cls *classify.Classifier, src transport.Source, sink transport.Sink, opts ...Option) *Session {
	s := &Session{
		name:     cfg.Name,
		fallback: cfg.Destination,
		src:      src,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	s.log = s.log.With(logx.Session(s.name))

	if cls == nil {
		cls = classify.MustDefault()
	}
	s.cls.Store(cls)
	s.norm.Store(normalize.New(cfg.Settings.MaxTextLen))
	s.dedup = dedup.New(cfg.Settings.DedupWindow)
	s.guard = guard.New(cfg.Settings.GuardDebounce)
	s.sched = delivery.New(cfg.Settings.Delivery, sink,
		delivery.WithSession(s.name),
		delivery.WithGuard(s.guard),
		delivery.WithBus(s.bus),
		delivery.WithLogger(s.log),
	)
	return s
}

func (s *Session) Name() string                     { return s.name }
func (s *Session) Guard() *guard.Guard              { return s.guard }
func (s *Session) Scheduler() *delivery.Scheduler   { return s.sched }
func (s *Session) Classifier() *classify.Classifier { return s.cls.Load() }

// Apply swaps tunables and the rule table without dropping queued jobs.
func (s *Session) Apply(st Settings, cls *classify.Classifier) {
	s.norm.Store(normalize.New(st.MaxTextLen))
	s.dedup.SetWindow(st.DedupWindow)
	s.guard.SetDebounce(st.GuardDebounce)
	s.sched.Apply(st.Delivery)
	if cls != nil {
		s.cls.Store(cls)
	}
}

func (s *Session) Stats() Stats {
	return Stats{
		Name:        s.name,
		Delivery:    s.sched.Stats(),
		DedupKeys:   s.dedup.Len(),
		GuardActive: s.guard.IsActive(),
		Runtime:     s.sup.Load().Snapshot(),
	}
}

// Start enables the scheduler without running a source. Run calls it.
func (s *Session) Start(ctx context.Context) { s.sched.Start(ctx) }

// Stop discards queued jobs.
func (s *Session) Stop(ctx context.Context) error { return s.sched.Stop(ctx) }

// Run consumes the source until ctx is done. Source failures restart the
// source with backoff; they never end the session.
func (s *Session) Run(ctx context.Context) error {
	s.Start(ctx)

	obs := make(chan chat.RawObservation, 64)
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
		rtsup.WithRestartHook(func(task string, err error) {
			telemetry.SourceRestarted(s.name, task)
		}),
	)
	s.sup.Store(sup)
	if s.src != nil {
		name := s.src.Name()
		sup.GoRestart("source."+name, func(c context.Context) error {
			return s.src.Run(c, obs, s.guard)
		},
			rtsup.WithRestartBackoff(500*time.Millisecond, 30*time.Second),
			rtsup.WithPublishFirstError(true),
		)
	}

	s.log.Info("session started", logx.String("destination", string(s.fallback)))
	for {
		select {
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = sup.Stop(stopCtx)
			err := s.Stop(stopCtx)
			cancel()
			s.log.Info("session stopped")
			return err
		case o := <-obs:
			s.Handle(o)
		}
	}
}

// Handle runs one observation through the pipeline.
func (s *Session) Handle(o chat.RawObservation) Result {
	telemetry.ObservationSeen(s.name)

	norm, _ := s.norm.Load().(normalize.Normalizer)
	ev, ok := norm.Normalize(o)
	if !ok {
		return Result{Outcome: OutcomeNoise}
	}
	telemetry.EventNormalized(s.name, ev.Kind.String())

	intent, ok := s.cls.Load().Classify(ev)
	if !ok {
		return Result{Outcome: OutcomeNoMatch, Event: ev}
	}
	telemetry.IntentMatched(s.name, intent.Rule)

	if s.dedup.IsDuplicateScoped(intent.IdentityKey, intent.Scope, s.now()) {
		telemetry.IntentDeduped()
		s.log.Debug("duplicate intent suppressed", logx.Identity(intent.IdentityKey))
		return Result{Outcome: OutcomeDuplicate, Event: ev, Intent: intent}
	}

	dst := ev.Origin
	if !dst.Valid() {
		dst = s.fallback
	}
	job, err := s.sched.Enqueue(intent, dst)
	if err != nil {
		return Result{Outcome: OutcomeRejected, Event: ev, Intent: intent, Job: job, Err: err}
	}
	return Result{Outcome: OutcomeQueued, Event: ev, Intent: intent, Job: job}
}
