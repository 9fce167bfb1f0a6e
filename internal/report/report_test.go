package report

import (
	"context"
	"strings"
	"sync"
	"testing"

	"livereply/internal/delivery"
	"livereply/internal/pipeline"
	logx "livereply/pkg/logx"
)

type notes struct {
	mu   sync.Mutex
	msgs []string
}

func (n *notes) Notify(_ context.Context, text string) error {
	n.mu.Lock()
	n.msgs = append(n.msgs, text)
	n.mu.Unlock()
	return nil
}

func TestRunReportsDeltas(t *testing.T) {
	cur := []pipeline.Stats{{Name: "main", Delivery: delivery.Stats{Depth: 2, Delivered: 5, Expired: 1}}}
	n := &notes{}
	s := New(Config{Enabled: true, Notify: true}, func() []pipeline.Stats { return cur }, n, logx.Nop())

	first := s.Run(context.Background())
	if !strings.Contains(first, "- main: depth=2 delivered=+5 expired=+1 dropped=+0 dedup=0") {
		t.Fatalf("first report:\n%s", first)
	}

	cur = []pipeline.Stats{{Name: "main", Delivery: delivery.Stats{Depth: 0, Delivered: 8, Expired: 1, Dropped: 2}}}
	second := s.Run(context.Background())
	if !strings.Contains(second, "- main: depth=0 delivered=+3 expired=+0 dropped=+2 dedup=0") {
		t.Fatalf("second report:\n%s", second)
	}

	if len(n.msgs) != 2 || n.msgs[1] != second {
		t.Fatalf("notifications = %q", n.msgs)
	}
}

func TestRunWithoutNotify(t *testing.T) {
	n := &notes{}
	s := New(Config{Enabled: true}, func() []pipeline.Stats { return []pipeline.Stats{{Name: "a"}} }, n, logx.Nop())
	s.Run(context.Background())
	if len(n.msgs) != 0 {
		t.Fatalf("notified while notify=false: %q", n.msgs)
	}
}

func TestStart(t *testing.T) {
	ctx := context.Background()

	off := New(Config{}, nil, nil, logx.Nop())
	if err := off.Start(ctx); err != nil {
		t.Fatalf("disabled Start: %v", err)
	}

	bad := New(Config{Enabled: true, Schedule: "every so often"}, nil, nil, logx.Nop())
	if err := bad.Start(ctx); err == nil {
		t.Fatal("bad schedule accepted")
	}

	ok := New(Config{Enabled: true, Schedule: "*/30 * * * * *"}, nil, nil, logx.Nop())
	if err := ok.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := ok.Apply(Config{Enabled: true, Schedule: "@every 1h"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	ok.Stop(ctx)
}
