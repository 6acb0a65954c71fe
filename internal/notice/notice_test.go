package notice

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func testConfig() *Config {
	return &Config{
		Port:   0, // Use random available port
		Logger: log.New(io.Discard, "[test] ", log.LstdFlags),
	}
}

func startServer(t *testing.T, config *Config) *Server {
	t.Helper()
	server := NewServer(config)
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })
	return server
}

func readNotice(t *testing.T, ctx context.Context, conn *websocket.Conn) Notice {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read notice: %v", err)
	}
	var n Notice
	if err := json.Unmarshal(data, &n); err != nil {
		t.Fatalf("Failed to unmarshal notice: %v", err)
	}
	return n
}

func waitForClients(t *testing.T, server *Server, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if server.ClientCount() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Expected %d clients, got %d", want, server.ClientCount())
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(testConfig())

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if addr := server.Addr(); addr == "" || strings.HasSuffix(addr, ":0") {
		t.Fatalf("Unexpected listen address %q", addr)
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestServerBroadcastsNotices(t *testing.T) {
	server := startServer(t, testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if greeting := readNotice(t, ctx, conn); greeting.Kind != KindConnected {
		t.Fatalf("Expected greeting %s, got %s", KindConnected, greeting.Kind)
	}
	waitForClients(t, server, 1)

	server.Notify(SyncComplete(3))

	n := readNotice(t, ctx, conn)
	if n.Kind != KindSyncComplete || n.Level != LevelSuccess {
		t.Fatalf("Unexpected notice: %+v", n)
	}
	var data SyncData
	if err := json.Unmarshal(n.Data, &data); err != nil {
		t.Fatalf("Failed to decode notice data: %v", err)
	}
	if data.Pushed != 3 {
		t.Errorf("Pushed = %d, want 3", data.Pushed)
	}
}

func TestServerReplaysHistory(t *testing.T) {
	config := testConfig()
	config.History = 2
	server := startServer(t, config)

	server.Notify(Offline())
	server.Notify(OfflineRequested())
	server.Notify(Online())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	readNotice(t, ctx, conn) // greeting
	first := readNotice(t, ctx, conn)
	second := readNotice(t, ctx, conn)
	if first.Kind != KindOfflineRequested || second.Kind != KindOnline {
		t.Fatalf("Expected last two notices replayed, got %s, %s", first.Kind, second.Kind)
	}
}

func TestServerHealthAndNoticesEndpoints(t *testing.T) {
	server := startServer(t, testConfig())
	server.Notify(NothingToSync())

	resp, err := http.Get("http://" + server.Addr() + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()
	var health map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode health: %v", err)
	}
	if health["status"] != "ok" {
		t.Errorf("status = %v, want ok", health["status"])
	}

	resp2, err := http.Get("http://" + server.Addr() + "/notices")
	if err != nil {
		t.Fatalf("notices request failed: %v", err)
	}
	defer resp2.Body.Close()
	var body struct {
		Notices []Notice `json:"notices"`
	}
	if err := json.NewDecoder(resp2.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode notices: %v", err)
	}
	if len(body.Notices) != 1 || body.Notices[0].Kind != KindNothingToSync {
		t.Errorf("Unexpected notices: %+v", body.Notices)
	}
}

func TestMultiAndRecorder(t *testing.T) {
	var rec Recorder
	var buf bytes.Buffer
	logged := NewLogNotifier(log.New(&buf, "", 0))

	m := Multi{&rec, logged, nil}
	m.Notify(SyncFailed(1, 2))
	m.Notify(Saved())

	if got := rec.Kinds(); len(got) != 2 || got[0] != KindSyncFailed || got[1] != KindSaved {
		t.Errorf("Kinds() = %v", got)
	}
	if rec.Count(KindSyncFailed) != 1 {
		t.Errorf("Count(sync_failed) = %d, want 1", rec.Count(KindSyncFailed))
	}
	if !strings.Contains(buf.String(), "error sync_failed: Failed to sync contacts") {
		t.Errorf("log output = %q", buf.String())
	}
}

func TestQueryTooShortMessage(t *testing.T) {
	n := QueryTooShort(3)
	if n.Message != "Please enter at least 3 characters to search" {
		t.Errorf("Message = %q", n.Message)
	}
}

func TestWatchReceivesNotices(t *testing.T) {
	server := startServer(t, testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan Notice, 8)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, "ws://"+server.Addr()+"/ws", func(n Notice) { received <- n })
	}()

	if n := <-received; n.Kind != KindConnected {
		t.Fatalf("Expected greeting, got %s", n.Kind)
	}
	waitForClients(t, server, 1)

	server.Notify(Saved())
	if n := <-received; n.Kind != KindSaved {
		t.Fatalf("Expected %s, got %s", KindSaved, n.Kind)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch() returned %v after cancel", err)
	}
}

func TestWatchConnectFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := Watch(ctx, "ws://127.0.0.1:1/ws", func(Notice) {}); err == nil {
		t.Fatal("expected connection error")
	}
}
