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

// LatestVersion returns the most recently created release version, or
// ErrNotFound when nothing has been published yet.
func (s *Store) LatestVersion(ctx context.Context) (string, error) {
	var version string
	err := s.db.QueryRowContext(ctx,
		`SELECT version FROM releases ORDER BY created_at DESC, version DESC LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", model.ErrNotFound
	}
	return version, err
}

// PublishRelease writes the release row and flips every batch rule from
// APPROVED to PUBLISHED in a single transaction. If any rule is no longer
// APPROVED the whole publish rolls back: a release never refers to a rule
// it did not publish.
func (s *Store) PublishRelease(ctx context.Context, release model.Release) (model.Release, error) {
	tx, err := s.beginTx(ctx)
	if err != nil {
		return model.Release{}, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	if release.ID == "" {
		release.ID = uuid.NewString()
	}
	release.CreatedAt = now

	approvedBy, err := marshalJSON(release.ApprovedBy)
	if err != nil {
		return model.Release{}, err
	}
	ruleIDs, err := marshalJSON(release.RuleIDs)
	if err != nil {
		return model.Release{}, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO releases (id, version, release_type, content_hash, changelog_hr, changelog_en,
			approved_by, rule_ids, source_count, pointer_count, review_count, human_approval_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		release.ID, release.Version, string(release.Type), release.ContentHash,
		release.Changelog.HR, release.Changelog.EN, approvedBy, ruleIDs,
		release.SourceCount, release.PointerCount, release.ReviewCount,
		release.HumanApprovalCount, release.CreatedAt,
	)
	if err != nil {
		return model.Release{}, fmt.Errorf("inserting release: %w", err)
	}

	for _, ruleID := range release.RuleIDs {
		res, err := tx.ExecContext(ctx, `
			UPDATE rules SET status = $1, published_at = $2, updated_at = $2
			WHERE id = $3 AND status = $4`,
			string(model.StatusPublished), now, ruleID, string(model.StatusApproved))
		if err != nil {
			return model.Release{}, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return model.Release{}, err
		}
		if n != 1 {
			return model.Release{}, model.NewIntegrityViolation("release/"+release.Version,
				"rule %s left APPROVED before publish", ruleID)
		}
	}

	if err := tx.Commit(); err != nil {
		return model.Release{}, err
	}
	return release, nil
}

// GetRelease loads a release by version
func (s *Store) GetRelease(ctx context.Context, version string) (model.Release, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, version, release_type, content_hash, changelog_hr, changelog_en,
			approved_by, rule_ids, source_count, pointer_count, review_count, human_approval_count, created_at
		FROM releases WHERE version = $1`, version)
	release, err := scanRelease(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Release{}, fmt.Errorf("release %s: %w", version, model.ErrNotFound)
	}
	return release, err
}

// ListReleases returns releases newest first
func (s *Store) ListReleases(ctx context.Context, limit int) ([]model.Release, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, version, release_type, content_hash, changelog_hr, changelog_en,
			approved_by, rule_ids, source_count, pointer_count, review_count, human_approval_count, created_at
		FROM releases ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.Release
	for rows.Next() {
		r, err := scanRelease(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRelease(row rowScanner) (model.Release, error) {
	var r model.Release
	var releaseType, approvedBy, ruleIDs string
	err := row.Scan(&r.ID, &r.Version, &releaseType, &r.ContentHash,
		&r.Changelog.HR, &r.Changelog.EN, &approvedBy, &ruleIDs,
		&r.SourceCount, &r.PointerCount, &r.ReviewCount, &r.HumanApprovalCount, &r.CreatedAt)
	if err != nil {
		return model.Release{}, err
	}
	if err := unmarshalJSON(approvedBy, &r.ApprovedBy); err != nil {
		return model.Release{}, err
	}
	if err := unmarshalJSON(ruleIDs, &r.RuleIDs); err != nil {
		return model.Release{}, err
	}
	r.Type = model.ReleaseType(releaseType)
	return r, nil
}
