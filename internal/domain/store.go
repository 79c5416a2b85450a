package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
	// Event narrows audit log queries to one event name.
	Event string
}

// JournalStore persists position snapshots so a restarted process and the
// HTTP API can see closed and open trades.
type JournalStore interface {
	Upsert(ctx context.Context, pos PositionView) error
	GetByID(ctx context.Context, entryID string) (PositionView, error)
	ListOpen(ctx context.Context) ([]PositionView, error)
	ListSession(ctx context.Context, sessionID string, opts ListOpts) ([]PositionView, error)
	MarkArchived(ctx context.Context, sessionID string) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
