// Package notify relays engine events to operators over Telegram and
// Discord.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/exitwatch/internal/domain"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans a message out to every Sender in parallel. Event-driven
// notifications pass through an allow-list; an empty list allows everything.
type Notifier struct {
	senders []Sender
	allowed map[string]struct{}
	logger  *slog.Logger
}

func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]struct{}, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = struct{}{}
		}
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return len(n.senders) > 0
}

// Allows reports whether events of the given type are delivered.
func (n *Notifier) Allows(event string) bool {
	if len(n.allowed) == 0 {
		return true
	}
	_, ok := n.allowed[event]
	return ok
}

// NotifyEvent formats ev and delivers it when its type is allowed.
func (n *Notifier) NotifyEvent(ctx context.Context, ev domain.Event) error {
	if !n.Enabled() || !n.Allows(string(ev.Type)) {
		return nil
	}
	title, message := FormatEvent(ev)
	return n.NotifyAll(ctx, title, message)
}

// NotifyAll delivers to every sender regardless of the allow-list. One
// failing sender does not stop the others; all failures are joined.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, s := range n.senders {
		g.Go(func() error {
			if err := s.Send(ctx, title, message); err != nil {
				n.logger.ErrorContext(ctx, "notification failed",
					slog.String("sender", s.Name()),
					slog.String("error", err.Error()),
				)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
				mu.Unlock()
				return nil
			}
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}

// FormatEvent renders ev as a title such as "exit filled ES long" and a body
// of "key: value" lines, leaving out empty fields.
func FormatEvent(ev domain.Event) (title, message string) {
	title = strings.ReplaceAll(string(ev.Type), "_", " ")
	if ev.Instrument != "" {
		title = strings.TrimSpace(fmt.Sprintf("%s %s %s", title, ev.Instrument, ev.Direction))
	}

	var lines []string
	add := func(format string, args ...any) {
		lines = append(lines, fmt.Sprintf(format, args...))
	}
	if ev.EntryID != "" {
		add("entry: %s", ev.EntryID)
	}
	switch {
	case ev.Reason != "" && ev.Code != "":
		add("reason: %s (%s)", ev.Reason, ev.Code)
	case ev.Reason != "":
		add("reason: %s", ev.Reason)
	}
	if ev.Price != 0 {
		add("price: %.4f", ev.Price)
	}
	if ev.Profit != 0 {
		add("profit: %.2f", ev.Profit)
	}
	if ev.Detail != "" {
		lines = append(lines, ev.Detail)
	}
	if ev.SessionID != "" {
		add("session: %s", ev.SessionID)
	}
	return title, strings.Join(lines, "\n")
}
