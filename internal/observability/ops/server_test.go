package ops

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"livereply/internal/storage"
	"livereply/internal/telemetry"
	logx "livereply/pkg/logx"
)

type fakeStore struct {
	recs []storage.Record
	err  error
	last int
}

func (f *fakeStore) Append(context.Context, storage.Record) error { return nil }
func (f *fakeStore) Recent(_ context.Context, limit int) ([]storage.Record, error) {
	f.last = limit
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.recs) {
		return f.recs[:limit], nil
	}
	return f.recs, nil
}
func (f *fakeStore) Close() error { return nil }

func get(t *testing.T, h http.Handler, target string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if len(header) == 2 {
		req.Header.Set(header[0], header[1])
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthzIncludesStatus(t *testing.T) {
	s := New(Config{}, func() any { return map[string]int{"sessions": 2} }, nil, logx.Nop())
	rr := get(t, s.Handler(Config{}), "/healthz")
	if rr.Code != http.StatusOK {
		t.Fatalf("code = %d", rr.Code)
	}
	var body struct {
		OK     bool           `json:"ok"`
		Status map[string]int `json:"status"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if !body.OK || body.Status["sessions"] != 2 {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestAuth(t *testing.T) {
	cfg := Config{Token: "s3cret"}
	h := New(cfg, nil, nil, logx.Nop()).Handler(cfg)

	if rr := get(t, h, "/healthz"); rr.Code != http.StatusUnauthorized {
		t.Fatalf("no token: code = %d", rr.Code)
	}
	if rr := get(t, h, "/healthz?token=nope"); rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: code = %d", rr.Code)
	}
	if rr := get(t, h, "/healthz?token=s3cret"); rr.Code != http.StatusOK {
		t.Fatalf("query token: code = %d", rr.Code)
	}
	if rr := get(t, h, "/healthz", "Authorization", "Bearer s3cret"); rr.Code != http.StatusOK {
		t.Fatalf("bearer token: code = %d", rr.Code)
	}
}

func TestReplies(t *testing.T) {
	st := &fakeStore{recs: []storage.Record{{JobID: "b", State: "delivered"}, {JobID: "a", State: "expired"}}}
	s := New(Config{}, nil, st, logx.Nop())
	h := s.Handler(Config{})

	rr := get(t, h, "/replies?limit=1")
	if rr.Code != http.StatusOK {
		t.Fatalf("code = %d", rr.Code)
	}
	var got []storage.Record
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].JobID != "b" {
		t.Fatalf("records = %+v", got)
	}

	get(t, h, "/replies?limit=100000")
	if st.last != 500 {
		t.Fatalf("limit not capped: %d", st.last)
	}
	if rr := get(t, h, "/replies?limit=-3"); rr.Code != http.StatusBadRequest {
		t.Fatalf("negative limit: code = %d", rr.Code)
	}

	st.err = errors.New("disk gone")
	if rr := get(t, h, "/replies"); rr.Code != http.StatusInternalServerError {
		t.Fatalf("store error: code = %d", rr.Code)
	}

	none := New(Config{}, nil, nil, logx.Nop()).Handler(Config{})
	if rr := get(t, none, "/replies"); rr.Code != http.StatusNotFound {
		t.Fatalf("no store: code = %d", rr.Code)
	}
}

func TestMetricsAndPprofRoutes(t *testing.T) {
	telemetry.Init()
	telemetry.ObservationSeen("ops-test")

	s := New(Config{}, nil, nil, logx.Nop())
	rr := get(t, s.Handler(Config{}), "/metrics")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "livereply_observations_total") {
		t.Fatalf("metrics code=%d", rr.Code)
	}
	if rr := get(t, s.Handler(Config{}), "/debug/pprof/"); rr.Code != http.StatusNotFound {
		t.Fatalf("pprof disabled: code = %d", rr.Code)
	}
	if rr := get(t, s.Handler(Config{Pprof: true}), "/debug/pprof/"); rr.Code != http.StatusOK {
		t.Fatalf("pprof enabled: code = %d", rr.Code)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:6060": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":6060":          false,
		"0.0.0.0:6060":   false,
		"10.0.0.5:6060":  false,
		"garbage":        false,
	}
	for addr, want := range cases {
		if got := isLoopbackAddr(addr); got != want {
			t.Errorf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestStartServeStop(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, nil, nil, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	var addr string
	deadline := time.Now().Add(2 * time.Second)
	for addr == "" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
		addr = s.Addr()
	}
	if addr == "" {
		t.Fatal("server never bound")
	}

	client := &http.Client{Timeout: time.Second, Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(b), `"ok": true`) {
		t.Fatalf("healthz = %d %s", resp.StatusCode, b)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer stopCancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.Addr() != "" {
		t.Fatal("address still set after Stop")
	}
}

func TestRefusesInsecureBind(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, nil, nil, logx.Nop())
	if err := s.serveOnce(context.Background()); err == nil || !strings.Contains(err.Error(), "insecure") {
		t.Fatalf("serveOnce err = %v", err)
	}
}
