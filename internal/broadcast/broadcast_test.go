package broadcast

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(payload, &out); err != nil {
		t.Fatalf("decode %s: %v", payload, err)
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHubSendsWelcomeAndBroadcasts(t *testing.T) {
	hub := NewHub("*", zerolog.Nop())
	first := dialHub(t, hub)
	second := dialHub(t, hub)

	for _, conn := range []*websocket.Conn{first, second} {
		welcome := readEvent(t, conn)
		if welcome["type"] != "connection" || welcome["message"] != "Connected successfully" {
			t.Fatalf("unexpected welcome: %v", welcome)
		}
	}

	if delivered := hub.Broadcast([]byte(`{"type":"vote","data":{"pair_id":3}}`)); delivered != 2 {
		t.Fatalf("expected 2 deliveries, got %d", delivered)
	}
	for _, conn := range []*websocket.Conn{first, second} {
		event := readEvent(t, conn)
		if event["type"] != "vote" {
			t.Fatalf("unexpected event: %v", event)
		}
	}
}

func TestHubForgetsClosedClients(t *testing.T) {
	hub := NewHub("", zerolog.Nop())
	conn := dialHub(t, hub)
	readEvent(t, conn)
	if hub.Clients() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.Clients())
	}

	_ = conn.Close()
	waitFor(t, "client removal", func() bool { return hub.Clients() == 0 })

	if delivered := hub.Broadcast([]byte(`{}`)); delivered != 0 {
		t.Fatalf("expected no deliveries, got %d", delivered)
	}
}

func TestLocalBroadcasterEncodesEvent(t *testing.T) {
	hub := NewHub("*", zerolog.Nop())
	conn := dialHub(t, hub)
	readEvent(t, conn)

	err := NewLocalBroadcaster(hub).Publish(context.Background(), Event{Type: "vote", Data: map[string]int{"pair_id": 9}})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	event := readEvent(t, conn)
	data, _ := event["data"].(map[string]any)
	if event["type"] != "vote" || data["pair_id"] != float64(9) {
		t.Fatalf("unexpected event: %v", event)
	}
}

func TestRedisBroadcasterRelaysToHub(t *testing.T) {
	mr := miniredis.RunT(t)
	hub := NewHub("*", zerolog.Nop())
	conn := dialHub(t, hub)
	readEvent(t, conn)

	b, err := NewRedisBroadcaster("redis://"+mr.Addr(), "thisorthat:votes", hub, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRedisBroadcaster failed: %v", err)
	}
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Relay(ctx) }()
	waitFor(t, "subscription", func() bool { return mr.PubSubNumSub("thisorthat:votes")["thisorthat:votes"] == 1 })

	if err := b.Publish(context.Background(), Event{Type: "vote", Data: map[string]int{"pair_id": 4}}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	event := readEvent(t, conn)
	if event["type"] != "vote" {
		t.Fatalf("unexpected event: %v", event)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("relay returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestNewRedisBroadcasterRejectsBadURL(t *testing.T) {
	if _, err := NewRedisBroadcaster("not-a-url", "c", NewHub("*", zerolog.Nop()), zerolog.Nop()); err == nil {
		t.Fatal("expected error for invalid url")
	}
}
