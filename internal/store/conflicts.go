package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/normativhq/normativ/internal/model"
)

// SaveConflicts persists detector output, assigning ids and stamping
// detection time. Each conflict's rule links go to the join table so
// open conflicts can be found from either end.
func (s *Store) SaveConflicts(ctx context.Context, conflicts []model.Conflict) ([]model.Conflict, error) {
	if len(conflicts) == 0 {
		return nil, nil
	}
	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	for i := range conflicts {
		c := &conflicts[i]
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if c.DetectedAt.IsZero() {
			c.DetectedAt = now
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO conflicts (id, kind, status, description, concept_slug, detected_at, resolved_at, resolution)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			c.ID, string(c.Kind), string(c.Status), c.Description, c.ConceptSlug,
			c.DetectedAt, nullableTime(c.ResolvedAt), c.Resolution,
		)
		if err != nil {
			return nil, err
		}
		for _, ruleID := range c.RuleIDs {
			if ruleID == "" {
				continue
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO conflict_rules (conflict_id, rule_id) VALUES ($1, $2)
				ON CONFLICT (conflict_id, rule_id) DO NOTHING`,
				c.ID, ruleID)
			if err != nil {
				return nil, err
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return conflicts, nil
}

// OpenConflictsForRules returns unresolved conflicts touching any of the rules
func (s *Store) OpenConflictsForRules(ctx context.Context, ruleIDs []string) ([]model.Conflict, error) {
	seen := make(map[string]bool)
	var out []model.Conflict
	for _, ruleID := range ruleIDs {
		rows, err := s.db.QueryContext(ctx, `
			SELECT c.id, c.kind, c.status, c.description, c.concept_slug, c.detected_at, c.resolved_at, c.resolution
			FROM conflicts c
			JOIN conflict_rules cr ON cr.conflict_id = c.id
			WHERE cr.rule_id = $1 AND c.status = $2
			ORDER BY c.detected_at`, ruleID, string(model.ConflictOpen))
		if err != nil {
			return nil, err
		}
		batch, err := scanConflicts(rows)
		if err != nil {
			return nil, err
		}
		for _, c := range batch {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			out = append(out, c)
		}
	}
	return s.attachRuleIDs(ctx, out)
}

// OpenConflictsForSlug returns unresolved conflicts on a concept
func (s *Store) OpenConflictsForSlug(ctx context.Context, conceptSlug string) ([]model.Conflict, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, status, description, concept_slug, detected_at, resolved_at, resolution
		FROM conflicts WHERE concept_slug = $1 AND status = $2
		ORDER BY detected_at`, conceptSlug, string(model.ConflictOpen))
	if err != nil {
		return nil, err
	}
	out, err := scanConflicts(rows)
	if err != nil {
		return nil, err
	}
	return s.attachRuleIDs(ctx, out)
}

// OpenConflictCount counts unresolved conflicts across all concepts
func (s *Store) OpenConflictCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conflicts WHERE status = $1`, string(model.ConflictOpen)).Scan(&n)
	return n, err
}

// ResolveConflict closes a conflict with a human-entered resolution note
func (s *Store) ResolveConflict(ctx context.Context, conflictID, resolution string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE conflicts SET status = $1, resolved_at = $2, resolution = $3
		WHERE id = $4 AND status = $5`,
		string(model.ConflictResolved), now, resolution, conflictID, string(model.ConflictOpen))
	if err != nil {
		return err
	}
	return oneRow(res, "conflict "+conflictID+" not open")
}

func (s *Store) attachRuleIDs(ctx context.Context, conflicts []model.Conflict) ([]model.Conflict, error) {
	for i := range conflicts {
		rows, err := s.db.QueryContext(ctx,
			`SELECT rule_id FROM conflict_rules WHERE conflict_id = $1 ORDER BY rule_id`, conflicts[i].ID)
		if err != nil {
			return nil, err
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				_ = rows.Close()
				return nil, err
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, err
		}
		_ = rows.Close()
		conflicts[i].RuleIDs = ids
	}
	return conflicts, nil
}

func scanConflicts(rows *sql.Rows) ([]model.Conflict, error) {
	defer func() { _ = rows.Close() }()
	var out []model.Conflict
	for rows.Next() {
		var c model.Conflict
		var kind, status string
		var resolvedAt sql.NullTime
		if err := rows.Scan(&c.ID, &kind, &status, &c.Description, &c.ConceptSlug,
			&c.DetectedAt, &resolvedAt, &c.Resolution); err != nil {
			return nil, err
		}
		c.Kind = model.ConflictKind(kind)
		c.Status = model.ConflictStatus(status)
		c.ResolvedAt = scanNullTime(resolvedAt)
		out = append(out, c)
	}
	return out, rows.Err()
}
