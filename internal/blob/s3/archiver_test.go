package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/alanyoungcy/exitwatch/internal/domain"
)

type fakeWriter struct {
	puts      map[string][]byte
	opts      map[string]domain.PutOptions
	multipart int
	err       error
}

func (w *fakeWriter) Put(_ context.Context, path string, data io.Reader, opts domain.PutOptions) error {
	if w.err != nil {
		return w.err
	}
	b, _ := io.ReadAll(data)
	if w.puts == nil {
		w.puts = map[string][]byte{}
		w.opts = map[string]domain.PutOptions{}
	}
	if opts.PartSize > 0 {
		w.multipart++
	}
	w.puts[path] = b
	w.opts[path] = opts
	return nil
}

type fakeExists struct{ paths map[string]bool }

func (f fakeExists) Exists(_ context.Context, path string) (bool, error) {
	return f.paths[path], nil
}

type fakeJournal struct {
	views    []domain.PositionView
	archived []string
	listErr  error
}

func (j *fakeJournal) Upsert(context.Context, domain.PositionView) error { return nil }
func (j *fakeJournal) GetByID(context.Context, string) (domain.PositionView, error) {
	return domain.PositionView{}, domain.ErrNotFound
}
func (j *fakeJournal) ListOpen(context.Context) ([]domain.PositionView, error) { return nil, nil }
func (j *fakeJournal) ListSession(context.Context, string, domain.ListOpts) ([]domain.PositionView, error) {
	return j.views, j.listErr
}
func (j *fakeJournal) MarkArchived(_ context.Context, sessionID string) (int64, error) {
	j.archived = append(j.archived, sessionID)
	return 1, nil
}

type fakeAudit struct{ events []string }

func (a *fakeAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}
func (a *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func closedView(id string) domain.PositionView {
	return domain.PositionView{
		EntryID:    id,
		SessionID:  "s1",
		EntryOrder: &domain.OrderHandle{OrderID: "in", Price: 10},
		ExitOrder:  &domain.OrderHandle{OrderID: "out", Price: 12},
	}
}

func TestArchiveSessionWritesClosedOnly(t *testing.T) {
	day := time.Date(2026, 3, 2, 22, 0, 0, 0, time.UTC)
	open := domain.PositionView{EntryID: "open", SessionID: "s1", EntryOrder: &domain.OrderHandle{OrderID: "in"}}
	journal := &fakeJournal{views: []domain.PositionView{closedView("a"), open, closedView("b")}}
	w := &fakeWriter{}
	audit := &fakeAudit{}

	a := NewSessionArchiver(w, fakeExists{}, journal, audit)
	n, err := a.ArchiveSession(context.Background(), "s1", day)
	if err != nil {
		t.Fatalf("ArchiveSession() error = %v", err)
	}
	if n != 2 {
		t.Errorf("ArchiveSession() = %d, want 2", n)
	}

	data, ok := w.puts["sessions/2026/03/02/s1.jsonl"]
	if !ok {
		t.Fatalf("no object written, have %v", w.puts)
	}
	var ids []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var v domain.PositionView
		if err := json.Unmarshal(sc.Bytes(), &v); err != nil {
			t.Fatalf("bad line %q: %v", sc.Text(), err)
		}
		ids = append(ids, v.EntryID)
	}
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("archived ids = %v, want [a b]", ids)
	}
	if len(journal.archived) != 1 || journal.archived[0] != "s1" {
		t.Errorf("MarkArchived calls = %v", journal.archived)
	}
	if len(audit.events) != 1 || audit.events[0] != "archive.session" {
		t.Errorf("audit events = %v", audit.events)
	}
	if w.multipart != 0 {
		t.Errorf("small archive used multipart upload")
	}
	opts := w.opts["sessions/2026/03/02/s1.jsonl"]
	if opts.ContentType != jsonlContentType || opts.Metadata["session-id"] != "s1" || opts.Metadata["records"] != "2" {
		t.Errorf("put options = %+v", opts)
	}
}

func TestArchiveSessionEmpty(t *testing.T) {
	w := &fakeWriter{}
	journal := &fakeJournal{}
	n, err := NewSessionArchiver(w, nil, journal, nil).ArchiveSession(context.Background(), "s1", time.Now())
	if err != nil || n != 0 {
		t.Fatalf("ArchiveSession() = %d, %v; want 0, nil", n, err)
	}
	if len(w.puts) != 0 || len(journal.archived) != 0 {
		t.Errorf("empty session wrote %v, archived %v", w.puts, journal.archived)
	}
}

func TestArchiveSessionExistingPathGetsSuffix(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	w := &fakeWriter{}
	a := NewSessionArchiver(w, fakeExists{paths: map[string]bool{"sessions/2026/03/02/s1.jsonl": true}},
		&fakeJournal{views: []domain.PositionView{closedView("a")}}, nil)
	a.now = func() time.Time { return time.Unix(1772461800, 0) }

	if _, err := a.ArchiveSession(context.Background(), "s1", day); err != nil {
		t.Fatalf("ArchiveSession() error = %v", err)
	}
	if _, ok := w.puts["sessions/2026/03/02/s1-1772461800.jsonl"]; !ok {
		t.Errorf("expected suffixed path, have %v", w.puts)
	}
}

func TestArchiveSessionErrors(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name    string
		journal *fakeJournal
		writer  *fakeWriter
	}{
		{"query", &fakeJournal{listErr: boom}, &fakeWriter{}},
		{"upload", &fakeJournal{views: []domain.PositionView{closedView("a")}}, &fakeWriter{err: boom}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSessionArchiver(tt.writer, nil, tt.journal, nil).ArchiveSession(context.Background(), "s1", time.Now())
			if !errors.Is(err, boom) {
				t.Errorf("error = %v, want %v", err, boom)
			}
			if len(tt.journal.archived) != 0 {
				t.Errorf("MarkArchived called after failure")
			}
		})
	}
}

func TestNormaliseEndpoint(t *testing.T) {
	tests := []struct {
		in     string
		useSSL bool
		want   string
	}{
		{"https://s3.example.com", false, "https://s3.example.com"},
		{"minio.local", false, "http://minio.local"},
		{"minio.local", true, "https://minio.local"},
		{"minio.local:9000", false, "http://minio.local:9000"},
	}
	for _, tt := range tests {
		if got := normaliseEndpoint(tt.in, tt.useSSL); got != tt.want {
			t.Errorf("normaliseEndpoint(%q, %v) = %q, want %q", tt.in, tt.useSSL, got, tt.want)
		}
	}
}
