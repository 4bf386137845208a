// Package audit records pipeline actions durably. Terminal rejections,
// status transitions, and publishes all leave a row here; logs alone are
// not an audit trail.
package audit

import (
	"context"
	"log/slog"
)

// Event is one recorded pipeline action
type Event struct {
	Kind        string                 // Event category: compose, review, release, conflict, job
	SubjectKind string                 // Entity type: fact, rule, conflict, release, job
	SubjectID   string
	Action      string                 // What happened: composed, escalated, approved, rejected, published
	Reason      string                 // Human-readable cause, empty for routine transitions
	Metadata    map[string]interface{} // Small structured extras, stored as JSON
}

// Logger records audit events
type Logger interface {
	Record(ctx context.Context, e Event) error
}

// Store is the durable sink the store package satisfies
type Store interface {
	SaveAuditEvent(ctx context.Context, kind, subjectKind, subjectID, action, reason string, metadata map[string]interface{}) error
}

// NewLogger builds the standard composite: structured log line plus a
// durable store row. Pass a nil store to log only (tests, dry runs).
func NewLogger(log *slog.Logger, store Store) Logger {
	loggers := []Logger{NewSlogLogger(log)}
	if store != nil {
		loggers = append(loggers, NewStoreLogger(store))
	}
	return multiLogger(loggers)
}

type slogLogger struct {
	log *slog.Logger
}

// NewSlogLogger records events as structured log lines only
func NewSlogLogger(log *slog.Logger) Logger {
	if log == nil {
		log = slog.Default()
	}
	return &slogLogger{log: log.With("component", "audit")}
}

func (l *slogLogger) Record(ctx context.Context, e Event) error {
	attrs := []interface{}{
		"kind", e.Kind,
		"subject_kind", e.SubjectKind,
		"subject_id", e.SubjectID,
		"action", e.Action,
	}
	if e.Reason != "" {
		attrs = append(attrs, "reason", e.Reason)
	}
	l.log.InfoContext(ctx, "audit", attrs...)
	return nil
}

type storeLogger struct {
	store Store
}

// NewStoreLogger records events as durable store rows only
func NewStoreLogger(store Store) Logger {
	return &storeLogger{store: store}
}

func (l *storeLogger) Record(ctx context.Context, e Event) error {
	return l.store.SaveAuditEvent(ctx, e.Kind, e.SubjectKind, e.SubjectID, e.Action, e.Reason, e.Metadata)
}

type multiLogger []Logger

func (m multiLogger) Record(ctx context.Context, e Event) error {
	var firstErr error
	for _, l := range m {
		if err := l.Record(ctx, e); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
