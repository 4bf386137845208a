package store

import (
	"context"
	"time"
)

// LoadTaxonomy reads the alias table into the map form the taxonomy
// service consumes. The snapshot version is the highest version stamped
// on any alias, so bumping a single row invalidates downstream caches.
func (s *Store) LoadTaxonomy(ctx context.Context) (string, map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT alias, canonical_slug, version FROM taxonomy_aliases`)
	if err != nil {
		return "", nil, err
	}
	defer func() { _ = rows.Close() }()

	aliases := make(map[string]string)
	version := ""
	for rows.Next() {
		var alias, slug, v string
		if err := rows.Scan(&alias, &slug, &v); err != nil {
			return "", nil, err
		}
		aliases[alias] = slug
		if v > version {
			version = v
		}
	}
	return version, aliases, rows.Err()
}

// UpsertAliases writes or replaces taxonomy aliases under a version
func (s *Store) UpsertAliases(ctx context.Context, version string, aliases map[string]string) error {
	tx, err := s.beginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	for alias, slug := range aliases {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO taxonomy_aliases (alias, canonical_slug, version, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (alias) DO UPDATE SET
				canonical_slug = excluded.canonical_slug,
				version = excluded.version,
				updated_at = excluded.updated_at`,
			alias, slug, version, now)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}
