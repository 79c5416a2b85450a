package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alanyoungcy/exitwatch/internal/domain"
)

// AuditStore is the append-only audit log. Every engine event lands here
// through the event fan-out, so the table is also the history the API serves.
type AuditStore struct {
	db *sql.DB
}

// NewAuditStore creates a new AuditStore on db.
func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{db: db}
}

var _ domain.AuditStore = (*AuditStore)(nil)

// Log appends one entry. A nil detail is stored as an empty object.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return fmt.Errorf("postgres: log audit event: empty event name")
	}
	if detail == nil {
		detail = map[string]any{}
	}
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit detail for %s: %w", event, err)
	}

	const query = `INSERT INTO audit_log (event, detail) VALUES ($1, $2)`
	if _, err := s.db.ExecContext(ctx, query, event, raw); err != nil {
		return fmt.Errorf("postgres: log audit event %s: %w", event, err)
	}
	return nil
}

// List returns audit entries newest first, optionally narrowed to one event
// name and a created_at window.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	q := newListQuery(`SELECT id, event, detail, created_at FROM audit_log`)
	if opts.Event != "" {
		q.and("event = ?", opts.Event)
	}
	q.window("created_at", opts)
	q.page("created_at DESC, id DESC", opts)

	rows, err := s.db.QueryContext(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var (
			e   domain.AuditEntry
			raw []byte
		)
		if err := rows.Scan(&e.ID, &e.Event, &raw, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan audit entry: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: audit entry %d detail: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	return entries, nil
}
