package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/normativhq/normativ/internal/model"
)

// SaveFact inserts a captured fact. Facts are immutable after this except
// for status transitions.
func (s *Store) SaveFact(ctx context.Context, f model.Fact) error {
	quotes, err := marshalJSON(f.Quotes)
	if err != nil {
		return err
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO facts (id, domain, value, value_type, confidence, status, quotes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		f.ID, f.Domain, f.Value, string(f.ValueType), f.Confidence, string(f.Status), quotes, f.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving fact %s: %w", f.ID, err)
	}
	return nil
}

// GetFact loads one fact
func (s *Store) GetFact(ctx context.Context, id string) (model.Fact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, domain, value, value_type, confidence, status, quotes, created_at
		FROM facts WHERE id = $1`, id)
	f, err := scanFact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Fact{}, fmt.Errorf("fact %s: %w", id, model.ErrNotFound)
	}
	return f, err
}

// FactsByIDs loads the given facts, erroring if any id is missing
func (s *Store) FactsByIDs(ctx context.Context, ids []string) ([]model.Fact, error) {
	out := make([]model.Fact, 0, len(ids))
	for _, id := range ids {
		f, err := s.GetFact(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// FactsByStatus lists facts in a status, oldest first
func (s *Store) FactsByStatus(ctx context.Context, status model.FactStatus) ([]model.Fact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, domain, value, value_type, confidence, status, quotes, created_at
		FROM facts WHERE status = $1 ORDER BY created_at`, string(status))
	if err != nil {
		return nil, fmt.Errorf("listing facts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// SetFactStatus transitions the given facts. Used when composition promotes
// or terminally rejects a group.
func (s *Store) SetFactStatus(ctx context.Context, ids []string, status model.FactStatus) error {
	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE facts SET status = $1 WHERE id = $2`, string(status), id); err != nil {
			return fmt.Errorf("updating fact %s: %w", id, err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFact(row rowScanner) (model.Fact, error) {
	var f model.Fact
	var quotes, valueType, status string
	err := row.Scan(&f.ID, &f.Domain, &f.Value, &valueType, &f.Confidence, &status, &quotes, &f.CreatedAt)
	if err != nil {
		return model.Fact{}, err
	}
	f.ValueType = model.ValueType(valueType)
	f.Status = model.FactStatus(status)
	if err := json.Unmarshal([]byte(quotes), &f.Quotes); err != nil {
		return model.Fact{}, fmt.Errorf("decoding quotes for fact %s: %w", f.ID, err)
	}
	return f, nil
}
