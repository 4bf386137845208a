package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SaveAuditEvent appends one immutable audit row. Metadata is stored as
// JSON; a nil map writes an empty object so readers never see NULL.
func (s *Store) SaveAuditEvent(ctx context.Context, kind, subjectKind, subjectID, action, reason string, metadata map[string]interface{}) error {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	meta, err := marshalJSON(metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, kind, subject_kind, subject_id, action, reason, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.NewString(), kind, subjectKind, subjectID, action, reason, meta, time.Now().UTC())
	return err
}

// AuditEvent is one row of the append-only trail
type AuditEvent struct {
	ID          string
	Kind        string
	SubjectKind string
	SubjectID   string
	Action      string
	Reason      string
	Metadata    string
	CreatedAt   time.Time
}

// AuditTrail lists events for one subject, oldest first
func (s *Store) AuditTrail(ctx context.Context, subjectKind, subjectID string) ([]AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, subject_kind, subject_id, action, reason, metadata, created_at
		FROM audit_events WHERE subject_kind = $1 AND subject_id = $2
		ORDER BY created_at, id`, subjectKind, subjectID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []AuditEvent
	for rows.Next() {
		var e AuditEvent
		if err := rows.Scan(&e.ID, &e.Kind, &e.SubjectKind, &e.SubjectID,
			&e.Action, &e.Reason, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
