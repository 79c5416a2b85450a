package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/exitwatch/internal/domain"
)

type chanBus struct{ ch chan []byte }

func (b *chanBus) Publish(context.Context, string, []byte) error { return nil }
func (b *chanBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return b.ch, nil
}
func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }
func (b *chanBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestHubRelaysBusMessages(t *testing.T) {
	bus := &chanBus{ch: make(chan []byte, 1)}
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{
		Status: func() any { return map[string]string{"state": "running"} },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var hello struct {
		Type    string            `json:"type"`
		Payload map[string]string `json:"payload"`
	}
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("read status: %v", err)
	}
	if hello.Type != "engine_status" || hello.Payload["state"] != "running" {
		t.Errorf("initial message = %+v", hello)
	}

	ev, _ := json.Marshal(domain.Event{Type: domain.EventExitFilled, EntryID: "e1"})
	bus.ch <- ev

	var got domain.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if got.Type != domain.EventExitFilled || got.EntryID != "e1" {
		t.Errorf("relayed event = %+v", got)
	}
	if hub.ClientCount() != 1 {
		t.Errorf("ClientCount() = %d, want 1", hub.ClientCount())
	}
}

func TestClientEventFilter(t *testing.T) {
	c := &client{hub: &Hub{clients: map[*client]struct{}{}}, types: map[string]bool{"*": true}}
	if !c.wants("entry_filled") {
		t.Error("new client must receive every event type")
	}

	c.handle(clientMsg{Action: "subscribe", Events: []string{"exit_*"}})
	if c.wants("entry_filled") {
		t.Error("subscribe must replace the match-all default")
	}
	if !c.wants("exit_filled") || !c.wants("exit_rejected") {
		t.Error("prefix pattern did not match exit events")
	}

	c.handle(clientMsg{Action: "unsubscribe", Events: []string{"exit_*"}})
	if c.wants("exit_filled") {
		t.Error("still subscribed after unsubscribe")
	}
}

func TestHubRejectsAfterShutdown(t *testing.T) {
	hub := NewHub(&chanBus{ch: make(chan []byte)}, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	rec := httptest.NewRecorder()
	hub.HandleWS(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func httpHandler(h *Hub) http.Handler {
	return http.HandlerFunc(h.HandleWS)
}
