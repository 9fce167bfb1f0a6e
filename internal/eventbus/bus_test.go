package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestSubscribeFiltersTypes(t *testing.T) {
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	done, unsubDone := b.Subscribe(4, "reply.delivered", "reply.dropped")
	defer unsubDone()

	for _, typ := range []string{"reply.queued", "reply.delivered", "reply.retry", "reply.dropped"} {
		b.Publish(Event{Type: typ})
	}

	if diff := cmp.Diff([]string{"reply.queued", "reply.delivered", "reply.retry", "reply.dropped"}, drain(all)); diff != "" {
		t.Fatalf("all (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"reply.delivered", "reply.dropped"}, drain(done)); diff != "" {
		t.Fatalf("filtered (-want +got):\n%s", diff)
	}
}

func TestPublishStampsTime(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	b.Publish(Event{Type: "x", Time: at})
	if e := <-ch; !e.Time.Equal(at) {
		t.Fatalf("explicit time replaced: %v", e.Time)
	}
	b.Publish(Event{Type: "x"})
	if e := <-ch; e.Time.IsZero() {
		t.Fatal("zero time not stamped")
	}
}

func TestFullSubscriberDrops(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(2)
	defer unsub()
	for i := 0; i < 5; i++ {
		b.Publish(Event{Type: "x", Data: i})
	}
	if got := b.Dropped(); got != 3 {
		t.Fatalf("Dropped = %d, want 3", got)
	}
	if e := <-ch; e.Data != 0 {
		t.Fatalf("first kept event = %v", e.Data)
	}
}

func TestUnsubscribeClosesAndIsIdempotent(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel still open")
	}
	b.Publish(Event{Type: "x"})
	if b.Dropped() != 0 {
		t.Fatal("publish counted a drop for a removed subscriber")
	}
}

func TestConcurrentPublishAndUnsubscribe(t *testing.T) {
	b := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		ch, unsub := b.Subscribe(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Publish(Event{Type: "x"})
			}
		}()
		go func() {
			defer wg.Done()
			<-ch
			unsub()
		}()
	}
	wg.Wait()
}

func drain(ch <-chan Event) []string {
	var out []string
	for {
		select {
		case e := <-ch:
			out = append(out, e.Type)
		default:
			return out
		}
	}
}
