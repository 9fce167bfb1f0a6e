package nativemsg

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.uber.org/goleak"

	"livereply/internal/chat"
	"livereply/internal/transport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	c := NewConn(&buf, &buf)
	if err := c.Write(Message{Action: ActionPong}); err != nil {
		t.Fatal(err)
	}
	if n := binary.LittleEndian.Uint32(buf.Bytes()[:4]); int(n) != buf.Len()-4 {
		t.Fatalf("header %d, body %d", n, buf.Len()-4)
	}
	m, err := c.Read()
	if err != nil || m.Action != ActionPong {
		t.Fatalf("Read = %+v, %v", m, err)
	}
	if _, err := c.Read(); !errors.Is(err, ErrClosed) {
		t.Fatalf("EOF err = %v", err)
	}
}

func TestFrameErrors(t *testing.T) {
	big := make([]byte, 4)
	binary.LittleEndian.PutUint32(big, MaxFrame+1)
	if _, err := NewConn(bytes.NewReader(big), io.Discard).ReadFrame(); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("oversize err = %v", err)
	}

	short := []byte{10, 0, 0, 0, '{'}
	if _, err := NewConn(bytes.NewReader(short), io.Discard).ReadFrame(); err == nil || errors.Is(err, ErrClosed) {
		t.Fatalf("truncated err = %v", err)
	}

	junk := append([]byte{3, 0, 0, 0}, "{x}"...)
	if _, err := NewConn(bytes.NewReader(junk), io.Discard).Read(); !errors.Is(err, ErrDecode) {
		t.Fatalf("decode err = %v", err)
	}
}

func TestObservationFromChatEvent(t *testing.T) {
	raw := `{"action":"CHAT_EVENT","tab":42,"val":{"kind":"system","ts":1700000000000,"user":null,"parts":[{"type":"text","text":"Alice님이 입장하였습니다."}],"idx":17}}`
	var m Message
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatal(err)
	}
	got, ok := m.Observation()
	if !ok {
		t.Fatal("no observation")
	}
	want := chat.RawObservation{
		Parts:        []chat.Part{{Type: chat.PartText, Text: "Alice님이 입장하였습니다."}},
		KindHint:     "system",
		PositionHint: "17",
		Origin:       "tab:42",
		ObservedAt:   time.UnixMilli(1700000000000),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("observation (-want +got):\n%s", diff)
	}

	if _, ok := (Message{Action: ActionChatEvent}).Observation(); ok {
		t.Fatal("event without val converted")
	}
}

func TestParseTab(t *testing.T) {
	for in, want := range map[chat.Destination]int{"tab:3": 3, "12": 12, " tab:0 ": 0} {
		if got, ok := ParseTab(in); !ok || got != want {
			t.Errorf("ParseTab(%q) = %d, %v", in, got, ok)
		}
	}
	for _, bad := range []chat.Destination{"", "tab:", "twitch:#chan", "tab:-1"} {
		if _, ok := ParseTab(bad); ok {
			t.Errorf("ParseTab(%q) accepted", bad)
		}
	}
}

// extension is the browser side of a Host under test.
type extension struct {
	toHost   *io.PipeWriter
	fromHost *io.PipeReader
	in       *Conn
	out      *Conn
	frames   chan Message
	wg       sync.WaitGroup
}

func newExtension(t *testing.T) (*Host, *extension) {
	t.Helper()
	hostIn, toHost := io.Pipe()
	fromHost, hostOut := io.Pipe()
	h := NewHost(hostIn, hostOut, WithVersion("test"))

	e := &extension{
		toHost:   toHost,
		fromHost: fromHost,
		in:       NewConn(fromHost, io.Discard),
		out:      NewConn(strings.NewReader(""), toHost),
		frames:   make(chan Message, 16),
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			m, err := e.in.Read()
			if err != nil {
				return
			}
			e.frames <- m
		}
	}()
	t.Cleanup(func() {
		_ = toHost.Close()
		<-h.Done()
		_ = fromHost.Close()
		e.wg.Wait()
	})
	return h, e
}

func (e *extension) send(t *testing.T, m Message) {
	t.Helper()
	if err := e.out.Write(m); err != nil {
		t.Fatalf("extension write: %v", err)
	}
}

func (e *extension) expect(t *testing.T, action string) Message {
	t.Helper()
	for {
		select {
		case m := <-e.frames:
			if m.Action == action {
				return m
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no %s frame", action)
		}
	}
}

type fgRecorder struct {
	mu     sync.Mutex
	events []string
}

func (f *fgRecorder) InteractionStarted() { f.add("start") }
func (f *fgRecorder) InteractionEnded()   { f.add("end") }
func (f *fgRecorder) add(s string) {
	f.mu.Lock()
	f.events = append(f.events, s)
	f.mu.Unlock()
}
func (f *fgRecorder) get() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func TestHostRunForwardsEventsAndTyping(t *testing.T) {
	h, ext := newExtension(t)
	fg := &fgRecorder{}
	out := make(chan chat.RawObservation, 4)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- h.Run(ctx, out, fg) }()

	if hello := ext.expect(t, ActionHello); hello.Version != "test" {
		t.Fatalf("hello = %+v", hello)
	}

	ext.send(t, Message{Action: ActionTyping, State: "start"})
	ext.send(t, Message{Action: ActionChatEvent, Tab: 5, Val: &ChatVal{Kind: "chat", User: "Bob", Parts: []chat.Part{{Type: chat.PartText, Text: "hi"}}, Idx: "9"}})
	ext.send(t, Message{Action: ActionTyping, State: "end"})
	ext.send(t, Message{Action: ActionPing})

	select {
	case obs := <-out:
		want := chat.RawObservation{
			Parts: []chat.Part{{Type: chat.PartText, Text: "hi"}}, Structured: true, KindHint: "chat",
			Author: "Bob", PositionHint: "9", Origin: "tab:5",
		}
		if diff := cmp.Diff(want, obs, cmpopts.IgnoreFields(chat.RawObservation{}, "ObservedAt")); diff != "" {
			t.Fatalf("observation (-want +got):\n%s", diff)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no observation")
	}
	ext.expect(t, ActionPong)

	deadline := time.Now().Add(time.Second)
	for len(fg.get()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if diff := cmp.Diff([]string{"start", "end"}, fg.get()); diff != "" {
		t.Fatalf("typing (-want +got):\n%s", diff)
	}

	cancel()
	if err := <-runErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run err = %v", err)
	}
}

func TestHostDeliver(t *testing.T) {
	h, ext := newExtension(t)

	go func() {
		ext.expect(t, ActionHello)
		ok := ext.expect(t, ActionAutoSend)
		if ok.Tab != 7 || ok.Message != "Welcome Alice!" || ok.ID == "" {
			t.Errorf("auto send = %+v", ok)
		}
		ext.send(t, Message{Action: ActionSendResult, ID: ok.ID, OK: true})

		bad := ext.expect(t, ActionAutoSend)
		ext.send(t, Message{Action: ActionSendResult, ID: bad.ID, Error: "input not found"})

		ext.expect(t, ActionAutoSend) // left unanswered
	}()

	ctx := context.Background()
	if err := h.Deliver(ctx, "tab:7", "Welcome Alice!"); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if err := h.Deliver(ctx, "tab:7", "again"); err == nil || !strings.Contains(err.Error(), "input not found") {
		t.Fatalf("rejected Deliver err = %v", err)
	}

	tctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := h.Deliver(tctx, "tab:7", "nobody answers"); !errors.Is(err, transport.ErrTimeout) {
		t.Fatalf("timeout err = %v", err)
	}

	if err := h.Deliver(ctx, "twitch:#x", "wrong"); err == nil {
		t.Fatal("non-tab destination accepted")
	}
}

func TestHostDisconnect(t *testing.T) {
	h, ext := newExtension(t)
	runErr := make(chan error, 1)
	go func() {
		runErr <- h.Run(context.Background(), make(chan chat.RawObservation), transport.NopForeground{})
	}()
	ext.expect(t, ActionHello)

	_ = ext.toHost.Close()
	select {
	case err := <-runErr:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("Run err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not end on disconnect")
	}
	if err := h.Deliver(context.Background(), "tab:1", "late"); !errors.Is(err, transport.ErrDisconnected) {
		t.Fatalf("Deliver after disconnect = %v", err)
	}
}

func TestWriteManifest(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "livereply")
	m := NewManifest(exe, []string{"abcdefghijklmnop", ""})
	path, err := WriteManifest(dir, m)
	if err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got Manifest
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	want := Manifest{
		Name:           HostName,
		Description:    "livereply auto-reply host",
		Path:           exe,
		Type:           "stdio",
		AllowedOrigins: []string{"chrome-extension://abcdefghijklmnop/"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("manifest (-want +got):\n%s", diff)
	}

	if _, err := WriteManifest(dir, NewManifest("relative/path", nil)); err == nil {
		t.Fatal("invalid manifest written")
	}
}
