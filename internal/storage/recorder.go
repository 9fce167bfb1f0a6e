package storage

import (
	"context"
	"time"

	"livereply/internal/delivery"
	"livereply/internal/eventbus"
	logx "livereply/pkg/logx"
)

// Recorder appends every terminal reply.* bus event to a Store.
type Recorder struct {
	store Store
	bus   eventbus.Bus
	log   logx.Logger
}

func NewRecorder(store Store, bus eventbus.Bus, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{store: store, bus: bus, log: log}
}

// RecordOf converts a finished job event.
func RecordOf(ev delivery.JobEvent) Record {
	r := Record{
		At:          ev.At,
		Session:     ev.Session,
		JobID:       ev.JobID,
		Key:         ev.Key,
		Text:        ev.Text,
		Destination: string(ev.Destination),
		State:       ev.State,
		Attempts:    ev.Attempts,
		Error:       ev.Error,
	}
	if !ev.EnqueuedAt.IsZero() && ev.At.After(ev.EnqueuedAt) {
		r.LatencyMS = ev.At.Sub(ev.EnqueuedAt).Milliseconds()
	}
	return r
}

// Run consumes the bus until ctx is done. Write failures are logged and
// never stop the recorder.
func (r *Recorder) Run(ctx context.Context) error {
	ch, unsub := r.bus.Subscribe(256, delivery.EventDelivered, delivery.EventExpired, delivery.EventDropped)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			ev, ok := e.Data.(delivery.JobEvent)
			if !ok {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := r.store.Append(wctx, RecordOf(ev))
			cancel()
			if err != nil {
				r.log.Warn("audit append failed", logx.String("job_id", ev.JobID), logx.Err(err))
			}
		}
	}
}
