package app

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"livereply/internal/chat"
	"livereply/internal/config"
	"livereply/internal/delivery"
	"livereply/internal/observability/ops"
	"livereply/internal/pipeline"
	"livereply/internal/transport/nativemsg"
	logx "livereply/pkg/logx"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "livereply.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const extensionConfig = `
logging:
  level: error
pipeline:
  min_send_interval: 10ms
  guard_debounce: 50ms
sessions:
  - name: ext
    transport: nativemsg
`

func TestAppRepliesOverNativeMessaging(t *testing.T) {
	hostIn, toHost := io.Pipe()
	fromHost, hostOut := io.Pipe()
	defer fromHost.Close()

	a, err := NewApp(writeConfig(t, extensionConfig), WithStdio(hostIn, hostOut))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatal(err)
	}

	frames := make(chan nativemsg.Message, 8)
	go func() {
		in := nativemsg.NewConn(fromHost, io.Discard)
		for {
			m, err := in.Read()
			if err != nil {
				close(frames)
				return
			}
			frames <- m
		}
	}()
	expect := func(action string) nativemsg.Message {
		t.Helper()
		for {
			select {
			case m, ok := <-frames:
				if !ok {
					t.Fatalf("stream closed waiting for %s", action)
				}
				if m.Action == action {
					return m
				}
			case <-time.After(3 * time.Second):
				t.Fatalf("no %s frame", action)
			}
		}
	}
	out := nativemsg.NewConn(strings.NewReader(""), toHost)

	expect(nativemsg.ActionHello)
	ev := nativemsg.Message{Action: nativemsg.ActionChatEvent, Tab: 3, Val: &nativemsg.ChatVal{
		Kind:  "system",
		Parts: []chat.Part{{Type: chat.PartText, Text: "Alice님이 입장하였습니다."}},
		Idx:   "11",
	}}
	if err := out.Write(ev); err != nil {
		t.Fatal(err)
	}
	// The same notice again is a duplicate.
	if err := out.Write(ev); err != nil {
		t.Fatal(err)
	}

	send := expect(nativemsg.ActionAutoSend)
	if send.Tab != 3 || send.Message != "어서오세요 Alice님 🙌 편하게 놀다 가세요!" {
		t.Fatalf("auto send = %+v", send)
	}
	if err := out.Write(nativemsg.Message{Action: nativemsg.ActionSendResult, ID: send.ID, OK: true}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	var st []pipeline.Stats
	for time.Now().Before(deadline) {
		st = a.Stats()
		if len(st) == 1 && st[0].Delivery.Delivered == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(st) != 1 || st[0].Delivery.Delivered != 1 || st[0].DedupKeys != 1 {
		t.Fatalf("stats = %+v", st)
	}

	// Closing stdin is the extension going away: the app winds down.
	_ = toHost.Close()
	select {
	case <-a.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("app did not stop on disconnect")
	}
	if err := a.Err(); !errors.Is(err, nativemsg.ErrClosed) {
		t.Fatalf("Err = %v", err)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopDisconnected); err != nil {
		t.Fatal(err)
	}
	_ = hostOut.Close()
}

func TestNewAppRejectsInvalidConfig(t *testing.T) {
	_, err := NewApp(writeConfig(t, "sessions:\n  - name: x\n    transport: carrier-pigeon\n"))
	if err == nil || !strings.Contains(err.Error(), "carrier-pigeon") {
		t.Fatalf("err = %v", err)
	}
}

func TestMapSettings(t *testing.T) {
	got, err := mapSettings(&config.Config{Pipeline: config.PipelineConfig{MinSendInterval: "1s", MaxQueue: 8}})
	if err != nil {
		t.Fatal(err)
	}
	want := pipeline.Settings{
		MaxTextLen:    200,
		DedupWindow:   2500 * time.Millisecond,
		GuardDebounce: 1500 * time.Millisecond,
		Delivery: delivery.Config{
			MinInterval:    time.Second,
			RetryHorizon:   10 * time.Second,
			RetryBackoff:   200 * time.Millisecond,
			GuardBackoff:   time.Second,
			AttemptTimeout: 10 * time.Second,
			MaxQueue:       8,
			HistorySize:    100,
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("settings (-want +got):\n%s", diff)
	}
}

func TestMapStorageConfig(t *testing.T) {
	cases := []struct {
		name    string
		in      *config.StorageConfig
		enabled bool
		wantErr bool
	}{
		{"absent", nil, false, false},
		{"none", &config.StorageConfig{Driver: "none"}, false, false},
		{"file", &config.StorageConfig{Driver: "file", Path: "a.db"}, true, false},
		{"sqlite", &config.StorageConfig{Driver: "SQLite", Path: "a.db", BusyTimeout: "2s"}, true, false},
		{"sqlite no path", &config.StorageConfig{Driver: "sqlite"}, false, true},
		{"unknown", &config.StorageConfig{Driver: "mongo"}, false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sc, enabled, err := mapStorageConfig(&config.Config{Storage: tc.in})
			if enabled != tc.enabled || (err != nil) != tc.wantErr {
				t.Fatalf("enabled=%v err=%v", enabled, err)
			}
			if tc.name == "sqlite" && (sc.Driver != "sqlite" || sc.BusyTimeout != 2*time.Second) {
				t.Fatalf("config = %+v", sc)
			}
		})
	}
}

func TestMapOpsConfigDefaults(t *testing.T) {
	oc, err := mapOpsConfig(&config.Config{Ops: config.OpsConfig{Enabled: true}})
	if err != nil {
		t.Fatal(err)
	}
	if oc.Addr != ops.DefaultAddr || oc.ReadTimeout != 5*time.Second {
		t.Fatalf("ops config = %+v", oc)
	}
	if _, err := mapOpsConfig(&config.Config{Ops: config.OpsConfig{IdleTimeout: "soon"}}); err == nil {
		t.Fatal("bad duration accepted")
	}
}

func TestBuildEndpoint(t *testing.T) {
	a := &App{stdin: strings.NewReader(""), stdout: io.Discard}
	cases := []struct {
		sc   config.SessionConfig
		name string
		dest chat.Destination
	}{
		{config.SessionConfig{Name: "n", Transport: "nativemsg"}, "nativemsg", ""},
		{config.SessionConfig{Name: "b", Transport: "browser", Browser: &config.BrowserConfig{URLContains: "spooncast.net"}}, "browser", "browser:spooncast.net"},
		{config.SessionConfig{Name: "t", Transport: "Twitch", Twitch: &config.TwitchConfig{Username: "bot", Channel: "#Foo"}}, "twitch", "twitch:#foo"},
		{config.SessionConfig{Name: "q", Transport: "amqp", AMQP: &config.AMQPConfig{URL: "amqp://x", Queue: "in", RoutingKey: "out"}}, "amqp", "amqp:out"},
		{config.SessionConfig{Name: "o", Transport: "amqp", Destination: "room-1", AMQP: &config.AMQPConfig{URL: "amqp://x", Queue: "in"}}, "amqp", "room-1"},
	}
	for _, tc := range cases {
		ep, dest, err := a.buildEndpoint(tc.sc, logx.Nop())
		if err != nil {
			t.Fatalf("%s: %v", tc.sc.Name, err)
		}
		if ep.Name() != tc.name || dest != tc.dest {
			t.Errorf("%s: endpoint %s dest %q", tc.sc.Name, ep.Name(), dest)
		}
	}
	if a.host == nil {
		t.Fatal("nativemsg host not kept")
	}
	if _, _, err := a.buildEndpoint(config.SessionConfig{Name: "x", Transport: "browser"}, logx.Nop()); err == nil {
		t.Fatal("browser session without browser section accepted")
	}
}
