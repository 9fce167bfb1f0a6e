// Package delivery owns reply jobs from enqueue to a terminal outcome.
//
// Jobs are drained in FIFO order by a single goroutine. Between attempts the
// drain enforces a minimum spacing measured from the end of the previous
// attempt, defers while the foreground guard is active, and retries failures
// until a horizon elapses.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"livereply/internal/chat"
	"livereply/internal/eventbus"
	rtsup "livereply/internal/runtime/supervisor"
	"livereply/internal/telemetry"
	"livereply/internal/transport"
	logx "livereply/pkg/logx"
)

var (
	ErrNoDestination = errors.New("delivery: no destination")
	ErrQueueFull     = errors.New("delivery: queue full")
	ErrStopped       = errors.New("delivery: scheduler stopped")
	ErrSinkPanic     = errors.New("delivery: sink panicked")
)

// entry is a queued job plus the time it spent postponed by the guard,
// which does not count against the retry horizon.
type entry struct {
	job  chat.ReplyJob
	held time.Duration
}

// Scheduler is safe for concurrent use. The mutex is never held across a
// wait or a sink call.
type Scheduler struct {
	mu sync.Mutex

	session string
	sink    transport.Sink
	guard   Guard
	log     logx.Logger
	bus     eventbus.Bus
	now     func() time.Time

	cfg Config
	sup *rtsup.Supervisor

	queue    []*entry
	inHand   int // 1 while the drain holds a popped job
	draining bool
	lastDone time.Time

	stats   Stats
	history []JobEvent
}

type Option func(*Scheduler)

func WithLogger(log logx.Logger) Option { return func(s *Scheduler) { s.log = log } }
func WithBus(bus eventbus.Bus) Option   { return func(s *Scheduler) { s.bus = bus } }
func WithGuard(g Guard) Option          { return func(s *Scheduler) { s.guard = g } }
func WithSession(name string) Option    { return func(s *Scheduler) { s.session = name } }

func New(cfg Config, sink transport.Sink, opts ...Option) *Scheduler {
	s := &Scheduler{
		sink: sink,
		cfg:  cfg.withDefaults(),
		now:  time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	s.log = s.log.With(logx.Component("delivery"), logx.Session(s.session))
	return s
}

// Apply swaps timings. Jobs already queued use the new values from their next step.
func (s *Scheduler) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

// Start enables intake. Drains run under a supervisor bound to ctx.
func (s *Scheduler) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return
	}
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
}

// Stop stops intake, cancels any drain in progress and discards queued jobs.
func (s *Scheduler) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}

	err := sup.Stop(ctx)

	// A drain that was mid-retry may have requeued its job before exiting.
	s.mu.Lock()
	discarded := len(s.queue)
	s.queue = nil
	s.inHand = 0
	s.mu.Unlock()
	if discarded > 0 {
		s.log.Info("discarding queued replies", logx.Int("count", discarded))
	}
	telemetry.SetQueueDepth(s.session, 0)
	return err
}

// Enqueue accepts intent for delivery to dst and returns the job as created.
// An invalid destination drops the job immediately.
func (s *Scheduler) Enqueue(intent chat.ReplyIntent, dst chat.Destination) (chat.ReplyJob, error) {
	job := chat.ReplyJob{
		ID:          uuid.NewString(),
		IdentityKey: intent.IdentityKey,
		ReplyText:   intent.ReplyText,
		Destination: dst,
		EnqueuedAt:  s.now(),
		State:       chat.JobPending,
	}

	if !dst.Valid() {
		job.State = chat.JobDropped
		s.finish(job, ErrNoDestination)
		return job, ErrNoDestination
	}

	s.mu.Lock()
	if s.sup == nil {
		s.mu.Unlock()
		return job, ErrStopped
	}
	if s.depthLocked() >= s.cfg.MaxQueue {
		s.mu.Unlock()
		job.State = chat.JobDropped
		s.finish(job, ErrQueueFull)
		return job, ErrQueueFull
	}
	s.queue = append(s.queue, &entry{job: job})
	s.stats.Queued++
	depth := s.depthLocked()
	start := !s.draining
	if start {
		s.draining = true
	}
	sup := s.sup
	s.mu.Unlock()

	telemetry.SetQueueDepth(s.session, depth)
	s.publish(EventQueued, job, nil)
	s.log.Debug("reply queued", logx.Identity(job.IdentityKey), logx.Job(job.ID), logx.Int("depth", depth))

	if start {
		sup.Go0("drain", s.drain)
	}
	return job, nil
}

// Stats returns counters and the current queue depth.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Depth = s.depthLocked()
	st.Draining = s.draining
	return st
}

// History returns the most recent terminal outcomes, oldest first.
func (s *Scheduler) History() []JobEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]JobEvent(nil), s.history...)
}

func (s *Scheduler) drain(ctx context.Context) {
	for {
		s.mu.Lock()
		s.inHand = 0
		if ctx.Err() != nil || len(s.queue) == 0 {
			// Clearing the flag under the same lock that observed the empty
			// queue means a concurrent Enqueue always starts a new drain.
			s.draining = false
			s.mu.Unlock()
			return
		}
		e := s.queue[0]
		s.queue = s.queue[1:]
		s.inHand = 1
		cfg := s.cfg
		last := s.lastDone
		s.mu.Unlock()

		if !last.IsZero() {
			if gap := s.now().Sub(last); gap < cfg.MinInterval {
				if !sleep(ctx, cfg.MinInterval-gap) {
					continue
				}
			}
		}

		if s.guard != nil && s.guard.IsActive() {
			e.job.State = chat.JobPending
			s.mu.Lock()
			s.queue = append([]*entry{e}, s.queue...)
			s.inHand = 0
			s.stats.Postponed++
			s.mu.Unlock()
			s.publish(EventPostponed, e.job, nil)

			began := s.now()
			sleep(ctx, cfg.GuardBackoff)
			e.held += s.now().Sub(began)
			continue
		}

		e.job.State = chat.JobInFlight
		e.job.Attempts++
		err := s.attempt(ctx, cfg, e.job)
		done := s.now()

		s.mu.Lock()
		s.lastDone = done
		s.inHand = 0
		s.mu.Unlock()

		if err == nil {
			e.job.State = chat.JobDelivered
			s.finish(e.job, nil)
			continue
		}

		if done.Sub(e.job.EnqueuedAt)-e.held < cfg.RetryHorizon {
			e.job.State = chat.JobPending
			s.mu.Lock()
			s.queue = append(s.queue, e)
			s.stats.Retries++
			s.mu.Unlock()
			s.publish(EventRetry, e.job, err)
			s.log.Debug("reply attempt failed, retrying", logx.Identity(e.job.IdentityKey), logx.Int("attempt", e.job.Attempts), logx.Err(err))
			sleep(ctx, cfg.RetryBackoff)
			continue
		}

		e.job.State = chat.JobExpired
		s.finish(e.job, err)
	}
}

func (s *Scheduler) attempt(ctx context.Context, cfg Config, job chat.ReplyJob) (err error) {
	if s.sink == nil {
		return transport.ErrDisconnected
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrSinkPanic, r)
		}
	}()
	actx, cancel := context.WithTimeout(chat.WithJob(ctx, job), cfg.AttemptTimeout)
	defer cancel()
	return s.sink.Deliver(actx, job.Destination, job.ReplyText)
}

// finish records a terminal outcome.
func (s *Scheduler) finish(job chat.ReplyJob, err error) {
	ev := s.event(job, err)

	s.mu.Lock()
	switch job.State {
	case chat.JobDelivered:
		s.stats.Delivered++
	case chat.JobExpired:
		s.stats.Expired++
	case chat.JobDropped:
		s.stats.Dropped++
	}
	s.history = append(s.history, ev)
	if n := s.cfg.HistorySize; len(s.history) > n {
		s.history = s.history[len(s.history)-n:]
	}
	depth := s.depthLocked()
	s.mu.Unlock()

	telemetry.SetQueueDepth(s.session, depth)
	telemetry.JobFinished(s.session, job.State.String())

	switch job.State {
	case chat.JobDelivered:
		s.log.Info("reply delivered", logx.Identity(job.IdentityKey), logx.Text("text", job.ReplyText), logx.Int("attempts", job.Attempts))
		s.publishEvent(EventDelivered, ev)
	case chat.JobExpired:
		s.log.Warn("reply expired", logx.Identity(job.IdentityKey), logx.Int("attempts", job.Attempts), logx.Err(err))
		s.publishEvent(EventExpired, ev)
	case chat.JobDropped:
		s.log.Warn("reply dropped", logx.Identity(job.IdentityKey), logx.Err(err))
		s.publishEvent(EventDropped, ev)
	}
}

func (s *Scheduler) event(job chat.ReplyJob, err error) JobEvent {
	ev := JobEvent{
		Session:     s.session,
		JobID:       job.ID,
		Key:         job.IdentityKey,
		Text:        job.ReplyText,
		Destination: job.Destination,
		State:       job.State.String(),
		Attempts:    job.Attempts,
		EnqueuedAt:  job.EnqueuedAt,
		At:          s.now(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}

func (s *Scheduler) publish(typ string, job chat.ReplyJob, err error) {
	if s.bus == nil {
		return
	}
	s.publishEvent(typ, s.event(job, err))
}

func (s *Scheduler) publishEvent(typ string, ev JobEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}

// depthLocked counts jobs that are not yet terminal.
func (s *Scheduler) depthLocked() int { return len(s.queue) + s.inHand }

// sleep waits d or until ctx is done, reporting whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
