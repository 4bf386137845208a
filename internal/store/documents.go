package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/normativhq/normativ/internal/model"
)

// SaveDocument upserts a source document. Re-ingesting a document replaces
// its content and hashes; pointers keep referencing the same id.
func (s *Store) SaveDocument(ctx context.Context, d model.SourceDocument) error {
	if d.FetchedAt.IsZero() {
		d.FetchedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO source_documents (id, title, url, authority, content, content_hash, fetch_hash, content_type, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			url = excluded.url,
			authority = excluded.authority,
			content = excluded.content,
			content_hash = excluded.content_hash,
			fetch_hash = excluded.fetch_hash,
			content_type = excluded.content_type,
			fetched_at = excluded.fetched_at`,
		d.ID, d.Title, d.URL, string(d.Authority), d.Content, d.ContentHash, d.FetchHash, d.ContentType, d.FetchedAt,
	)
	if err != nil {
		return fmt.Errorf("saving document %s: %w", d.ID, err)
	}
	return nil
}

// GetDocument loads one document
func (s *Store) GetDocument(ctx context.Context, id string) (model.SourceDocument, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, url, authority, content, content_hash, fetch_hash, content_type, fetched_at
		FROM source_documents WHERE id = $1`, id)

	var d model.SourceDocument
	var authority string
	err := row.Scan(&d.ID, &d.Title, &d.URL, &authority, &d.Content, &d.ContentHash, &d.FetchHash, &d.ContentType, &d.FetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SourceDocument{}, fmt.Errorf("document %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.SourceDocument{}, err
	}
	d.Authority = model.AuthorityLevel(authority)
	return d, nil
}

// DocumentsByIDs loads the given documents, erroring on any missing id
func (s *Store) DocumentsByIDs(ctx context.Context, ids []string) ([]model.SourceDocument, error) {
	out := make([]model.SourceDocument, 0, len(ids))
	seen := make(map[string]bool)
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		d, err := s.GetDocument(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
