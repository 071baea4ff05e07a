package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/trivia/go/internal/apperr"
	"github.com/mcdev12/trivia/go/internal/backend"
	"github.com/mcdev12/trivia/go/internal/gateway"
	"github.com/mcdev12/trivia/go/internal/rpc"
)

func newTestServer(t *testing.T) (*httptest.Server, *backend.Memory) {
	t.Helper()
	config := defaultConfig()
	config.Server.PublicURL = "https://trivia.example"
	services := setupMemoryServices(context.Background(), config)
	t.Cleanup(services.Close)

	srv := httptest.NewServer(newHandler(config, services))
	t.Cleanup(srv.Close)
	return srv, services.Backend.(*backend.Memory)
}

func post(t *testing.T, url, contentType, body string) *http.Response {
	t.Helper()
	res, err := http.Post(url, contentType, strings.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	res.Body.Close()
	return res
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	res, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
}

func TestRPCIsMounted(t *testing.T) {
	srv, mem := newTestServer(t)
	client := rpc.NewClient(srv.Client(), srv.URL)
	ctx := context.Background()

	if _, err := client.CreateRoom(ctx, "RPC1", "ana"); err != nil {
		t.Fatalf("create over rpc: %v", err)
	}
	if _, err := mem.GetRoomByCode(ctx, "RPC1"); err != nil {
		t.Fatalf("room missing from backend: %v", err)
	}
	if _, err := client.GetRoomByCode(ctx, "NONE"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestBeaconLeave(t *testing.T) {
	srv, mem := newTestServer(t)
	ctx := context.Background()
	if _, err := mem.CreateRoom(ctx, "BCN1", "ana"); err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, name := range []string{"ana", "ben"} {
		if _, err := mem.JoinRoom(ctx, "BCN1", name); err != nil {
			t.Fatalf("join %s: %v", name, err)
		}
	}

	// sendBeacon posts a Blob; its type is whatever the page chose
	res := post(t, srv.URL+"/beacon/leave/bcn1", "text/plain", `{"username":"ben"}`)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.StatusCode)
	}
	room, err := mem.GetRoomByCode(ctx, "BCN1")
	if err != nil {
		t.Fatalf("room: %v", err)
	}
	if room.PlayerCount != 1 {
		t.Fatalf("expected ben to have left, got %d players", room.PlayerCount)
	}

	res = post(t, srv.URL+"/beacon/leave/BCN1?username=ana", "application/json", "")
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.StatusCode)
	}
	if _, err := mem.GetRoomByCode(ctx, "BCN1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected the empty room to be deleted, got %v", err)
	}
}

func TestBeaconLeaveAlwaysNoContent(t *testing.T) {
	srv, _ := newTestServer(t)
	cases := []struct {
		name string
		path string
		body string
	}{
		{"unknown room", "/beacon/leave/ZZZZ", `{"username":"ana"}`},
		{"no username", "/beacon/leave/ZZZZ", `{}`},
		{"garbage body", "/beacon/leave/ZZZZ", `not json`},
		{"bad code", "/beacon/leave/toolong", `{"username":"ana"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := post(t, srv.URL+tc.path, "application/json", tc.body)
			if res.StatusCode != http.StatusNoContent {
				t.Fatalf("expected 204, got %d", res.StatusCode)
			}
		})
	}
}

func TestRoomQRCode(t *testing.T) {
	srv, mem := newTestServer(t)
	if _, err := mem.CreateRoom(context.Background(), "QR12", "ana"); err != nil {
		t.Fatalf("create: %v", err)
	}

	res, err := http.Get(srv.URL + "/rooms/qr12/qr.png")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("expected image/png, got %q", ct)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(res.Body); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG")) {
		t.Fatalf("body is not a PNG")
	}

	for path, want := range map[string]int{
		"/rooms/NOPE/qr.png": http.StatusNotFound,
		"/rooms/ab/qr.png":   http.StatusBadRequest,
	} {
		res, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != want {
			t.Errorf("%s: expected %d, got %d", path, want, res.StatusCode)
		}
	}
}

func TestJoinURL(t *testing.T) {
	if got := joinURL("https://trivia.example/", "AB12"); got != "https://trivia.example/room/AB12" {
		t.Fatalf("unexpected join url %q", got)
	}
}

func TestMemoryModeMountsGateway(t *testing.T) {
	srv, _ := newTestServer(t)
	res, err := http.Get(srv.URL + "/ws/stats")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer res.Body.Close()
	var stats gateway.Stats
	if err := json.NewDecoder(res.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.TotalConnections != 0 {
		t.Fatalf("expected no connections, got %+v", stats)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  backend: postgres
  public_url: https://play.example/
  room_capacity: 4
  idle_room_ttl: 10m
content:
  enabled_sources: [manual]
  sources:
    manual:
      file: items.yaml
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("PORT", "9090")

	config, err := loadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	s := config.Server
	if s.Backend != backendPostgres || s.Port != "9090" || s.RoomCapacity != 4 {
		t.Errorf("unexpected server config %+v", s)
	}
	if s.PublicURL != "https://play.example" {
		t.Errorf("expected trailing slash trimmed, got %q", s.PublicURL)
	}
	if s.IdleRoomTTL != 10*time.Minute || s.LeaveGrace != 15*time.Second {
		t.Errorf("unexpected durations ttl=%s grace=%s", s.IdleRoomTTL, s.LeaveGrace)
	}
	if len(config.Content.EnabledSources) != 1 || config.Content.Sources["manual"].File != "items.yaml" {
		t.Errorf("content section not decoded: %+v", config.Content)
	}
}

func TestLoadConfigDefaultsAndValidation(t *testing.T) {
	config, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if config.Server.Backend != backendMemory || config.Server.Port != "8080" {
		t.Errorf("unexpected defaults %+v", config.Server)
	}

	t.Setenv("BACKEND", "redis")
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected an unknown backend to be rejected")
	}
}

func TestJanitorPurgesIdleRooms(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 4, 4, 12, 0, 0, 0, time.UTC))
	mem := backend.NewMemory(backend.WithClock(clock))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, code := range []string{"IDLE", "BUSY"} {
		if _, err := mem.CreateRoom(ctx, code, "ana"); err != nil {
			t.Fatalf("create %s: %v", code, err)
		}
	}
	if _, err := mem.JoinRoom(ctx, "BUSY", "ana"); err != nil {
		t.Fatalf("join: %v", err)
	}

	done := make(chan struct{})
	go func() {
		runJanitor(ctx, clock, mem, 4*time.Minute)
		close(done)
	}()
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("janitor never started its ticker: %v", err)
	}
	clock.Advance(8 * time.Minute)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := mem.GetRoomByCode(ctx, "IDLE"); errors.Is(err, apperr.ErrNotFound) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for IDLE to be purged")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := mem.GetRoomByCode(ctx, "BUSY"); err != nil {
		t.Fatalf("expected BUSY to survive: %v", err)
	}

	cancel()
	<-done
}

func TestJanitorDisabledWithoutTTL(t *testing.T) {
	done := make(chan struct{})
	go func() {
		runJanitor(context.Background(), clockwork.NewFakeClock(), backend.NewMemory(), 0)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected the janitor to return at once")
	}
}
