package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func stopCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestGoRecordsFirstError(t *testing.T) {
	s := NewSupervisor(context.Background())
	s.Go("ok", func(ctx context.Context) error { return nil })
	s.Go("boom", func(ctx context.Context) error { return errors.New("boom") })

	err := s.Wait(stopCtx(t))
	if err == nil || !strings.Contains(err.Error(), "boom: boom") {
		t.Fatalf("Wait err = %v", err)
	}
	snap := s.Snapshot()
	if snap.Active != 0 || len(snap.Tasks) != 2 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.Tasks[0].Name != "boom" || snap.Tasks[0].LastErr == "" {
		t.Fatalf("boom task = %+v", snap.Tasks[0])
	}
	s.Cancel()
}

func TestGoRecoversPanic(t *testing.T) {
	s := NewSupervisor(context.Background(), WithCancelOnError(true))
	s.Go0("panicky", func(ctx context.Context) { panic("nope") })

	if err := s.Wait(stopCtx(t)); err == nil || !strings.Contains(err.Error(), "panic: nope") {
		t.Fatalf("Wait err = %v", err)
	}
	if s.Context().Err() == nil {
		t.Fatal("cancel-on-error should cancel the context")
	}
	if got := s.Snapshot().Tasks[0].Panics; got != 1 {
		t.Fatalf("panics = %d", got)
	}
}

func TestGoRestartRestartsAndCallsHook(t *testing.T) {
	var (
		mu    sync.Mutex
		hooks []string
		runs  atomic.Int32
	)
	s := NewSupervisor(context.Background(), WithRestartHook(func(name string, err error) {
		mu.Lock()
		hooks = append(hooks, name)
		mu.Unlock()
	}))
	done := make(chan struct{})
	s.GoRestart("source", func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("disconnected")
		}
		close(done)
		<-ctx.Done()
		return ctx.Err()
	}, WithRestartBackoff(5*time.Millisecond, 10*time.Millisecond), WithPublishFirstError(true))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("source never reached its third run")
	}
	if err := s.Stop(stopCtx(t)); err == nil || !strings.Contains(err.Error(), "disconnected") {
		t.Fatalf("Stop err = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(hooks) != 2 || hooks[0] != "source" {
		t.Fatalf("hooks = %v", hooks)
	}
	task := s.Snapshot().Tasks[0]
	if task.Runs != 3 || task.Restarts != 2 || task.Active != 0 {
		t.Fatalf("task = %+v", task)
	}
}

func TestGoRestartGivesUp(t *testing.T) {
	s := NewSupervisor(context.Background())
	var runs atomic.Int32
	s.GoRestart("flaky", func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("bad")
	}, WithRestartBackoff(time.Millisecond, time.Millisecond), WithMaxRestarts(2))

	if err := s.Wait(stopCtx(t)); err == nil {
		t.Fatal("expected final error")
	}
	if got := runs.Load(); got != 3 {
		t.Fatalf("runs = %d, want 3", got)
	}
	s.Cancel()
}

func TestGoRestartCleanExitStops(t *testing.T) {
	s := NewSupervisor(context.Background())
	var runs atomic.Int32
	s.GoRestart("once", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	if err := s.Wait(stopCtx(t)); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if runs.Load() != 1 {
		t.Fatalf("runs = %d", runs.Load())
	}
	s.Cancel()
}

func TestNilSnapshot(t *testing.T) {
	var s *Supervisor
	if snap := s.Snapshot(); snap.Active != 0 || snap.Tasks != nil {
		t.Fatalf("nil snapshot = %+v", snap)
	}
}
