package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alanyoungcy/exitwatch/internal/domain"
)

// JournalStore implements domain.JournalStore. Each position is one row
// holding its latest snapshot as JSONB plus the columns used for filtering.
type JournalStore struct {
	db *sql.DB
}

// NewJournalStore creates a JournalStore on db.
func NewJournalStore(db *sql.DB) *JournalStore {
	return &JournalStore{db: db}
}

var _ domain.JournalStore = (*JournalStore)(nil)

// Upsert writes the latest snapshot of a position.
func (s *JournalStore) Upsert(ctx context.Context, pos domain.PositionView) error {
	snapshot, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("postgres: marshal position %s: %w", pos.EntryID, err)
	}

	const query = `
		INSERT INTO position_journal (
			entry_id, exit_id, session_id, instrument, direction,
			status, exit_reason, entry_time, snapshot, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (entry_id) DO UPDATE SET
			status = EXCLUDED.status,
			exit_reason = EXCLUDED.exit_reason,
			snapshot = EXCLUDED.snapshot,
			updated_at = NOW()`

	_, err = s.db.ExecContext(ctx, query,
		pos.EntryID, pos.ExitID, pos.SessionID, pos.Instrument, string(pos.Direction),
		pos.Status(), pos.ExitReason.String(), pos.EntryTime, snapshot,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", pos.EntryID, err)
	}
	return nil
}

// GetByID returns the snapshot for entryID.
func (s *JournalStore) GetByID(ctx context.Context, entryID string) (domain.PositionView, error) {
	const query = `SELECT snapshot FROM position_journal WHERE entry_id = $1`

	var raw []byte
	err := s.db.QueryRowContext(ctx, query, entryID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PositionView{}, fmt.Errorf("postgres: position %s: %w", entryID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.PositionView{}, fmt.Errorf("postgres: get position %s: %w", entryID, err)
	}
	return decodeView(raw)
}

// ListOpen returns every position that has not exited, oldest first.
func (s *JournalStore) ListOpen(ctx context.Context) ([]domain.PositionView, error) {
	const query = `
		SELECT snapshot FROM position_journal
		WHERE status NOT IN ('closed', 'rejected')
		ORDER BY entry_time ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()
	return scanViews(rows)
}

// ListSession returns a session's positions with optional time filtering.
func (s *JournalStore) ListSession(ctx context.Context, sessionID string, opts domain.ListOpts) ([]domain.PositionView, error) {
	q := newListQuery(`SELECT snapshot FROM position_journal`)
	q.and("session_id = ?", sessionID)
	q.window("entry_time", opts)
	q.page("entry_time ASC", opts)

	rows, err := s.db.QueryContext(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list session %s: %w", sessionID, err)
	}
	defer rows.Close()
	return scanViews(rows)
}

// MarkArchived stamps a session's closed positions as archived and returns
// how many rows changed.
func (s *JournalStore) MarkArchived(ctx context.Context, sessionID string) (int64, error) {
	const query = `
		UPDATE position_journal SET archived_at = NOW()
		WHERE session_id = $1 AND status = 'closed' AND archived_at IS NULL`

	res, err := s.db.ExecContext(ctx, query, sessionID)
	if err != nil {
		return 0, fmt.Errorf("postgres: mark session %s archived: %w", sessionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: mark session %s archived: %w", sessionID, err)
	}
	return n, nil
}

func scanViews(rows *sql.Rows) ([]domain.PositionView, error) {
	var views []domain.PositionView
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		v, err := decodeView(raw)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: position rows: %w", err)
	}
	return views, nil
}

func decodeView(raw []byte) (domain.PositionView, error) {
	var v domain.PositionView
	if err := json.Unmarshal(raw, &v); err != nil {
		return domain.PositionView{}, fmt.Errorf("postgres: unmarshal position: %w", err)
	}
	return v, nil
}
