package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/exitwatch/internal/domain"
	"github.com/alanyoungcy/exitwatch/internal/executor"
)

// closedPruner drops finished, unmonitored records of a session from memory.
type closedPruner interface {
	PruneClosed(ctx context.Context, sessionID string) ([]*domain.PositionRecord, error)
}

// SessionManager owns the current session id. Rolling a session archives the
// closed positions of the previous one and prunes them from the registry;
// open positions carry over unchanged.
type SessionManager struct {
	mu        sync.RWMutex
	current   string
	startedAt time.Time

	archiver domain.SessionArchiver // nil when object storage is disabled
	pruner   closedPruner
	events   executor.EventSink
	logger   *slog.Logger

	newID func() string
	now   func() time.Time
}

// NewSessionManager starts the first session immediately. pruner, archiver
// and events may be nil.
func NewSessionManager(pruner closedPruner, archiver domain.SessionArchiver, events executor.EventSink, logger *slog.Logger) *SessionManager {
	s := &SessionManager{
		archiver: archiver,
		pruner:   pruner,
		events:   events,
		logger:   logger.With(slog.String("component", "sessions")),
		newID:    uuid.NewString,
		now:      time.Now,
	}
	s.current = s.newID()
	s.startedAt = s.now().UTC()
	return s
}

// Current returns the active session id.
func (s *SessionManager) Current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// StartedAt returns when the active session began.
func (s *SessionManager) StartedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startedAt
}

// Roll ends the active session and starts a new one. It returns the id of the
// session that ended.
func (s *SessionManager) Roll(ctx context.Context) (string, error) {
	s.mu.Lock()
	prev, prevStart := s.current, s.startedAt
	s.current = s.newID()
	s.startedAt = s.now().UTC()
	next := s.current
	s.mu.Unlock()

	archived, err := s.close(ctx, prev, prevStart)
	if s.events != nil {
		detail := fmt.Sprintf("previous=%s archived=%d", prev, archived)
		if err != nil {
			detail += " error=" + err.Error()
		}
		s.events.Emit(ctx, domain.Event{
			Type:      domain.EventSessionRolled,
			SessionID: next,
			Detail:    detail,
			At:        s.now().UTC(),
		})
	}
	s.logger.InfoContext(ctx, "session rolled",
		slog.String("previous", prev),
		slog.String("current", next),
		slog.Int64("archived", archived),
	)
	return prev, err
}

// Close archives the active session without starting a new one. It is used
// on shutdown.
func (s *SessionManager) Close(ctx context.Context) error {
	s.mu.RLock()
	id, started := s.current, s.startedAt
	s.mu.RUnlock()
	_, err := s.close(ctx, id, started)
	return err
}

func (s *SessionManager) close(ctx context.Context, sessionID string, started time.Time) (int64, error) {
	if s.pruner != nil {
		pruned, err := s.pruner.PruneClosed(ctx, sessionID)
		switch {
		case err != nil:
			s.logger.WarnContext(ctx, "closed records not pruned",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()),
			)
		case len(pruned) > 0:
			s.logger.DebugContext(ctx, "closed records pruned",
				slog.String("session_id", sessionID),
				slog.Int("count", len(pruned)),
			)
		}
	}
	if s.archiver == nil {
		return 0, nil
	}
	n, err := s.archiver.ArchiveSession(ctx, sessionID, started)
	if err != nil {
		s.logger.ErrorContext(ctx, "session archive failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		return n, fmt.Errorf("app: archive session %s: %w", sessionID, err)
	}
	return n, nil
}

// Run rolls the session on the given cron schedule until ctx is done. An
// empty spec disables rollover.
func (s *SessionManager) Run(ctx context.Context, spec string) error {
	if spec == "" {
		<-ctx.Done()
		return nil
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("app: session rollover %q: %w", spec, err)
	}

	c := cron.New()
	c.Schedule(sched, cron.FuncJob(func() {
		if _, err := s.Roll(ctx); err != nil {
			s.logger.WarnContext(ctx, "session rollover incomplete", slog.String("error", err.Error()))
		}
	}))
	c.Start()
	s.logger.InfoContext(ctx, "session rollover scheduled",
		slog.String("cron", spec),
		slog.Time("next", sched.Next(s.now())),
	)

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
