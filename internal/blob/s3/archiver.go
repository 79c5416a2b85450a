package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/exitwatch/internal/domain"
)

// multipartThreshold is the archive size above which uploads switch to the
// multipart manager.
const multipartThreshold = 8 * 1024 * 1024

// blobExists is the subset of domain.BlobReader the archiver needs.
type blobExists interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// SessionArchiver implements domain.SessionArchiver. It writes a session's
// closed positions as JSONL under sessions/YYYY/MM/DD/<session>.jsonl and
// then marks them archived in the journal.
//
// Open positions are never archived; they carry over into the next session.
type SessionArchiver struct {
	writer  domain.BlobWriter
	reader  blobExists
	journal domain.JournalStore
	audit   domain.AuditStore
	now     func() time.Time
}

// NewSessionArchiver creates a SessionArchiver. audit may be nil.
func NewSessionArchiver(writer domain.BlobWriter, reader blobExists, journal domain.JournalStore, audit domain.AuditStore) *SessionArchiver {
	return &SessionArchiver{
		writer:  writer,
		reader:  reader,
		journal: journal,
		audit:   audit,
		now:     time.Now,
	}
}

var _ domain.SessionArchiver = (*SessionArchiver)(nil)

// ArchiveSession uploads the closed positions of sessionID and returns how
// many were written. A session with no closed positions uploads nothing.
func (a *SessionArchiver) ArchiveSession(ctx context.Context, sessionID string, day time.Time) (int64, error) {
	views, err := a.journal.ListSession(ctx, sessionID, domain.ListOpts{})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive session %s query: %w", sessionID, err)
	}

	closed := views[:0:0]
	for _, v := range views {
		if v.Status() == "closed" {
			closed = append(closed, v)
		}
	}
	if len(closed) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(closed)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive session %s marshal: %w", sessionID, err)
	}

	path, err := a.freePath(ctx, sessionID, day)
	if err != nil {
		return 0, err
	}
	opts := domain.PutOptions{
		ContentType: jsonlContentType,
		Metadata: map[string]string{
			"session-id": sessionID,
			"records":    strconv.Itoa(len(closed)),
		},
	}
	if len(buf) > multipartThreshold {
		opts.PartSize = minPartSize
	}
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), opts); err != nil {
		return 0, fmt.Errorf("s3blob: archive session %s upload: %w", sessionID, err)
	}

	count := int64(len(closed))
	if _, err := a.journal.MarkArchived(ctx, sessionID); err != nil {
		return count, fmt.Errorf("s3blob: archive session %s mark: %w", sessionID, err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.session", map[string]any{
			"session_id": sessionID,
			"path":       path,
			"count":      count,
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive session %s audit log: %w", sessionID, err)
		}
	}
	return count, nil
}

// freePath returns the archive key for a session, adding a timestamp suffix
// when an earlier archive for the same session already exists.
func (a *SessionArchiver) freePath(ctx context.Context, sessionID string, day time.Time) (string, error) {
	path := SessionPath(sessionID, day, "")
	if a.reader == nil {
		return path, nil
	}
	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive session %s: %w", sessionID, err)
	}
	if !exists {
		return path, nil
	}
	return SessionPath(sessionID, day, fmt.Sprintf("%d", a.now().Unix())), nil
}

// SessionPath builds the object key for a session archive.
//
//	sessions/2026/03/02/<session>.jsonl
//	sessions/2026/03/02/<session>-1772461800.jsonl
func SessionPath(sessionID string, day time.Time, suffix string) string {
	name := sessionID
	if suffix != "" {
		name += "-" + suffix
	}
	return fmt.Sprintf("sessions/%s/%s.jsonl", day.UTC().Format("2006/01/02"), name)
}

// SessionPrefix returns the key prefix holding every archive for day.
func SessionPrefix(day time.Time) string {
	return fmt.Sprintf("sessions/%s/", day.UTC().Format("2006/01/02"))
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
