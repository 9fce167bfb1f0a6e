package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"
)

type sent struct {
	ChatID   string
	ThreadID string
	Text     string
}

func fakeAPI(t *testing.T) (*httptest.Server, func() []sent) {
	t.Helper()
	var (
		mu   sync.Mutex
		msgs []sent
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/sendMessage") {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		msgs = append(msgs, sent{
			ChatID:   asString(body["chat_id"]),
			ThreadID: asString(body["message_thread_id"]),
			Text:     asString(body["text"]),
		})
		mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"group"}}}`))
	}))
	t.Cleanup(srv.Close)
	return srv, func() []sent {
		mu.Lock()
		defer mu.Unlock()
		return append([]sent(nil), msgs...)
	}
}

func asString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(Config{ChatID: 1}); err == nil {
		t.Fatal("empty token accepted")
	}
	if _, err := New(Config{Token: "t"}); err == nil {
		t.Fatal("empty chat accepted")
	}
}

func TestNotify(t *testing.T) {
	srv, msgs := fakeAPI(t)
	n, err := New(Config{Token: "123:abc", ChatID: 42, ThreadID: 7, APIURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := n.Notify(ctx, "  [WARN] reply expired  "); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if err := n.Notify(ctx, "   "); err != nil {
		t.Fatalf("blank Notify: %v", err)
	}
	if err := n.Notify(ctx, strings.Repeat("가", MaxMessageLen+10)); err != nil {
		t.Fatalf("long Notify: %v", err)
	}

	got := msgs()
	if len(got) != 2 {
		t.Fatalf("sent %d messages, want 2", len(got))
	}
	if got[0].ChatID != "42" || got[0].ThreadID != "7" || got[0].Text != "[WARN] reply expired" {
		t.Fatalf("first message = %+v", got[0])
	}
	if n := utf8.RuneCountInString(got[1].Text); n != MaxMessageLen {
		t.Fatalf("long message has %d runes", n)
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if err := n.Notify(cctx, "late"); err == nil {
		t.Fatal("Notify ignored cancelled context")
	}
}
