package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/exitwatch/internal/domain"
)

type recordingSender struct {
	name   string
	titles []string
	err    error
}

func (s *recordingSender) Send(_ context.Context, title, _ string) error {
	s.titles = append(s.titles, title)
	return s.err
}

func (s *recordingSender) Name() string { return s.name }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyEventFilter(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{"exit_filled", " engine_fault "}, testLogger())

	ctx := context.Background()
	_ = n.NotifyEvent(ctx, domain.Event{Type: domain.EventEntryFilled, Instrument: "ES"})
	_ = n.NotifyEvent(ctx, domain.Event{Type: domain.EventExitFilled, Instrument: "ES", Direction: domain.DirectionLong})
	_ = n.NotifyEvent(ctx, domain.Event{Type: domain.EventEngineFault, Detail: "stop timeout"})

	if len(s.titles) != 2 {
		t.Fatalf("sent %d notifications, want 2: %v", len(s.titles), s.titles)
	}
	if s.titles[0] != "exit filled ES long" {
		t.Errorf("title = %q", s.titles[0])
	}
}

func TestNotifierAllows(t *testing.T) {
	all := NewNotifier(nil, nil, testLogger())
	if !all.Allows("entry_filled") {
		t.Error("empty allow-list must allow every event")
	}
	if err := all.NotifyEvent(context.Background(), domain.Event{Type: domain.EventEntryFilled}); err != nil {
		t.Errorf("NotifyEvent() without senders = %v", err)
	}

	some := NewNotifier(nil, []string{"exit_filled", ""}, testLogger())
	if some.Allows("entry_filled") || !some.Allows("exit_filled") {
		t.Error("allow-list not applied")
	}
}

func TestNotifierCollectsSenderErrors(t *testing.T) {
	good := &recordingSender{name: "good"}
	bad := &recordingSender{name: "bad", err: errors.New("403")}
	n := NewNotifier([]Sender{bad, good}, nil, testLogger())

	err := n.NotifyAll(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "bad: 403") {
		t.Errorf("NotifyAll() error = %v", err)
	}
	if len(good.titles) != 1 {
		t.Errorf("good sender skipped after a failure")
	}
}

func TestFormatEvent(t *testing.T) {
	title, msg := FormatEvent(domain.Event{
		Type:       domain.EventExitDecided,
		EntryID:    "e1",
		Instrument: "NQ",
		Direction:  domain.DirectionShort,
		Reason:     "stop_loss",
		Code:       "short_stop",
		Profit:     -51,
		SessionID:  "s1",
	})
	if title != "exit decided NQ short" {
		t.Errorf("title = %q", title)
	}
	for _, want := range []string{"entry: e1", "reason: stop_loss (short_stop)", "profit: -51.00", "session: s1"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}

func TestTelegramSender(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botTOKEN/sendMessage" {
			http.Error(w, "bad path", http.StatusNotFound)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.baseURL = srv.URL
	if err := s.Send(context.Background(), "Exit filled <ES>", "code=take_profit"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got["chat_id"] != "42" || got["parse_mode"] != "HTML" {
		t.Errorf("payload = %v", got)
	}
	if want := "<b>Exit filled &lt;ES&gt;</b>\ncode=take_profit"; got["text"] != want {
		t.Errorf("text = %q, want %q", got["text"], want)
	}
}

func TestDiscordSenderEmbed(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL)
	d.now = func() time.Time { return time.Date(2026, 3, 2, 15, 4, 5, 0, time.UTC) }
	if err := d.Send(context.Background(), "Exit filled", "ES long"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(got.Embeds) != 1 {
		t.Fatalf("embeds = %d, want 1", len(got.Embeds))
	}
	e := got.Embeds[0]
	if e.Title != "Exit filled" || e.Description != "ES long" || e.Timestamp != "2026-03-02T15:04:05Z" {
		t.Errorf("embed = %+v", e)
	}
}

func TestDiscordSenderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Errorf("Send() error = %v, want status 429", err)
	}
}
