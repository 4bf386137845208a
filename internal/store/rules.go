package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/normativhq/normativ/internal/model"
)

const ruleColumns = `id, concept_slug, domain, title_hr, title_en, explanation_hr, explanation_en,
	risk_tier, authority, applies_when, value, value_type, effective_from, effective_until,
	supersedes_id, confidence, status, composition_key, review_reason, review_priority,
	review_deadline, approved_by, approved_at, published_at, created_at, updated_at`

// CreateRuleWithPointers persists a draft rule and its pointers in one
// transaction, keyed by composition key. If a rule with the same key already
// exists the existing rule is returned and created is false; re-running a
// composition job is a no-op, not a duplicate.
func (s *Store) CreateRuleWithPointers(ctx context.Context, rule model.Rule, pointers []model.SourcePointer) (model.Rule, bool, error) {
	if len(pointers) == 0 {
		return model.Rule{}, false, model.NewPolicyRejection("rule/"+rule.ConceptSlug, "refusing to persist a rule with zero source pointers")
	}

	tx, err := s.beginTx(ctx)
	if err != nil {
		return model.Rule{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	var existingID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM rules WHERE composition_key = $1`, rule.CompositionKey).Scan(&existingID)
	if err == nil {
		_ = tx.Rollback()
		existing, gerr := s.GetRule(ctx, existingID)
		return existing, false, gerr
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.Rule{}, false, err
	}

	now := time.Now().UTC()
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	rule.CreatedAt = now
	rule.UpdatedAt = now

	_, err = tx.ExecContext(ctx, `
		INSERT INTO rules (`+ruleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)`,
		rule.ID, rule.ConceptSlug, rule.Domain, rule.Title.HR, rule.Title.EN,
		rule.Explanation.HR, rule.Explanation.EN, string(rule.RiskTier), string(rule.Authority),
		string(rule.AppliesWhen), rule.Value, string(rule.ValueType),
		rule.EffectiveFrom, nullableTime(rule.EffectiveUntil), rule.SupersedesID,
		rule.Confidence, string(rule.Status), rule.CompositionKey,
		rule.ReviewReason, rule.ReviewPriority, nullableTime(rule.ReviewDeadline),
		rule.ApprovedBy, nullableTime(rule.ApprovedAt), nullableTime(rule.PublishedAt),
		rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		return model.Rule{}, false, fmt.Errorf("inserting rule: %w", err)
	}

	for i := range pointers {
		p := &pointers[i]
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		p.RuleID = rule.ID
		p.CreatedAt = now
		_, err = tx.ExecContext(ctx, `
			INSERT INTO source_pointers (id, rule_id, document_id, quote, confidence, citation, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			p.ID, p.RuleID, p.DocumentID, p.Quote, p.Confidence, p.Citation, p.CreatedAt,
		)
		if err != nil {
			return model.Rule{}, false, fmt.Errorf("inserting pointer: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return model.Rule{}, false, err
	}
	rule.Pointers = pointers
	return rule, true, nil
}

// GetRule loads a rule with its pointers
func (s *Store) GetRule(ctx context.Context, id string) (model.Rule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM rules WHERE id = $1`, id)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Rule{}, fmt.Errorf("rule %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.Rule{}, err
	}
	rule.Pointers, err = s.PointersForRule(ctx, rule.ID)
	return rule, err
}

// RuleByCompositionKey finds the rule created for a composition key, if any.
// Lets a requeued composition skip the reasoning call entirely.
func (s *Store) RuleByCompositionKey(ctx context.Context, key string) (model.Rule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM rules WHERE composition_key = $1`, key)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Rule{}, fmt.Errorf("composition %s: %w", key, model.ErrNotFound)
	}
	if err != nil {
		return model.Rule{}, err
	}
	rule.Pointers, err = s.PointersForRule(ctx, rule.ID)
	return rule, err
}

// RulesByIDs loads rules with pointers, erroring on any missing id
func (s *Store) RulesByIDs(ctx context.Context, ids []string) ([]model.Rule, error) {
	out := make([]model.Rule, 0, len(ids))
	for _, id := range ids {
		r, err := s.GetRule(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// RulesByStatus lists rules in a status, without pointers, oldest first
func (s *Store) RulesByStatus(ctx context.Context, status model.RuleStatus) ([]model.Rule, error) {
	return s.queryRules(ctx,
		`SELECT `+ruleColumns+` FROM rules WHERE status = $1 ORDER BY created_at`, string(status))
}

// ActiveRulesForConflictScan returns approved and published rules sharing
// the concept slug or the domain: exactly the comparison set the conflict
// detector needs.
func (s *Store) ActiveRulesForConflictScan(ctx context.Context, conceptSlug, domain string) ([]model.Rule, error) {
	return s.queryRules(ctx, `
		SELECT `+ruleColumns+` FROM rules
		WHERE status IN ('APPROVED', 'PUBLISHED') AND (concept_slug = $1 OR domain = $2)
		ORDER BY created_at`, conceptSlug, domain)
}

// SupersedesEdges returns the rule -> superseded-rule links for a domain,
// for cycle checks before adding a new link.
func (s *Store) SupersedesEdges(ctx context.Context, domain string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, supersedes_id FROM rules
		WHERE domain = $1 AND supersedes_id != ''`, domain)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	edges := make(map[string]string)
	for rows.Next() {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			return nil, err
		}
		edges[from] = to
	}
	return edges, rows.Err()
}

// SetSupersedes records the supersession link on an existing rule
func (s *Store) SetSupersedes(ctx context.Context, ruleID, supersedesID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE rules SET supersedes_id = $1, updated_at = $2 WHERE id = $3`,
		supersedesID, time.Now().UTC(), ruleID)
	return err
}

// LatestPredecessor finds the most recent approved or published rule for a
// slug whose effective window closes before cutoff. Returns ErrNotFound
// when the slug has no eligible predecessor.
func (s *Store) LatestPredecessor(ctx context.Context, conceptSlug string, cutoff time.Time) (model.Rule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+ruleColumns+` FROM rules
		WHERE concept_slug = $1 AND status IN ('APPROVED', 'PUBLISHED')
			AND effective_until IS NOT NULL AND effective_until <= $2
		ORDER BY effective_until DESC LIMIT 1`, conceptSlug, cutoff)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Rule{}, model.ErrNotFound
	}
	return rule, err
}

// SetReviewOutcome moves a rule out of DRAFT after the gate ran
func (s *Store) SetReviewOutcome(ctx context.Context, ruleID string, status model.RuleStatus, reason string, priority int, deadline *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE rules SET status = $1, review_reason = $2, review_priority = $3,
			review_deadline = $4, updated_at = $5
		WHERE id = $6`,
		string(status), reason, priority, nullableTime(deadline), time.Now().UTC(), ruleID)
	if err != nil {
		return err
	}
	return oneRow(res, "rule "+ruleID)
}

// ApproveRule flips PENDING_REVIEW to APPROVED recording the approver.
// The status guard makes double approvals and approve-after-reject no-ops
// that surface as errors.
func (s *Store) ApproveRule(ctx context.Context, ruleID, approver string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE rules SET status = $1, approved_by = $2, approved_at = $3, updated_at = $3
		WHERE id = $4 AND status = $5`,
		string(model.StatusApproved), approver, now, ruleID, string(model.StatusPendingReview))
	if err != nil {
		return err
	}
	return oneRow(res, "rule "+ruleID+" not awaiting review")
}

// RejectRule terminally rejects a rule from any pre-published status
func (s *Store) RejectRule(ctx context.Context, ruleID, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE rules SET status = $1, review_reason = $2, updated_at = $3
		WHERE id = $4 AND status IN ('DRAFT', 'PENDING_REVIEW', 'APPROVED')`,
		string(model.StatusRejected), reason, time.Now().UTC(), ruleID)
	if err != nil {
		return err
	}
	return oneRow(res, "rule "+ruleID+" not rejectable")
}

// PendingReview lists rules awaiting a human, most urgent first
func (s *Store) PendingReview(ctx context.Context, overdueOnly bool, now time.Time) ([]model.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE status = 'PENDING_REVIEW'`
	args := []interface{}{}
	if overdueOnly {
		query += ` AND review_deadline IS NOT NULL AND review_deadline < $1`
		args = append(args, now)
	}
	query += ` ORDER BY review_priority, review_deadline`
	return s.queryRules(ctx, query, args...)
}

// PointersForRule loads a rule's pointers in insertion order
func (s *Store) PointersForRule(ctx context.Context, ruleID string) ([]model.SourcePointer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rule_id, document_id, quote, confidence, citation, created_at
		FROM source_pointers WHERE rule_id = $1 ORDER BY created_at, id`, ruleID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.SourcePointer
	for rows.Next() {
		var p model.SourcePointer
		if err := rows.Scan(&p.ID, &p.RuleID, &p.DocumentID, &p.Quote, &p.Confidence, &p.Citation, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountPointers returns how many pointers back a rule
func (s *Store) CountPointers(ctx context.Context, ruleID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM source_pointers WHERE rule_id = $1`, ruleID).Scan(&n)
	return n, err
}

func (s *Store) queryRules(ctx context.Context, query string, args ...interface{}) ([]model.Rule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRule(row rowScanner) (model.Rule, error) {
	var r model.Rule
	var tier, authority, appliesWhen, valueType, status string
	var effectiveUntil, reviewDeadline, approvedAt, publishedAt sql.NullTime
	err := row.Scan(
		&r.ID, &r.ConceptSlug, &r.Domain, &r.Title.HR, &r.Title.EN,
		&r.Explanation.HR, &r.Explanation.EN, &tier, &authority, &appliesWhen,
		&r.Value, &valueType, &r.EffectiveFrom, &effectiveUntil, &r.SupersedesID,
		&r.Confidence, &status, &r.CompositionKey, &r.ReviewReason, &r.ReviewPriority,
		&reviewDeadline, &r.ApprovedBy, &approvedAt, &publishedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return model.Rule{}, err
	}
	r.RiskTier = model.RiskTier(tier)
	r.Authority = model.AuthorityLevel(authority)
	r.AppliesWhen = []byte(appliesWhen)
	r.ValueType = model.ValueType(valueType)
	r.Status = model.RuleStatus(status)
	r.EffectiveUntil = scanNullTime(effectiveUntil)
	r.ReviewDeadline = scanNullTime(reviewDeadline)
	r.ApprovedAt = scanNullTime(approvedAt)
	r.PublishedAt = scanNullTime(publishedAt)
	return r, nil
}

func oneRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, model.ErrNotFound)
	}
	return nil
}
