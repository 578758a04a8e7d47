package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/54b3r/kbrag-go/internal/rag"
)

// Activate records info as the only active generation. It implements
// rag.Manifest. Re-activating a known index name updates its row.
func (s *SQLiteStore) Activate(ctx context.Context, info rag.GenerationInfo) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: activate: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().Unix()
	if _, err := tx.ExecContext(ctx,
		`UPDATE generations SET active = 0, deactivated_at = ? WHERE active = 1 AND index_name <> ?`,
		now, info.Index); err != nil {
		return fmt.Errorf("store: activate: clear previous: %w", err)
	}

	const upsert = `
INSERT INTO generations (id, index_name, model, dimension, entries, built_at, active)
VALUES (?, ?, ?, ?, ?, ?, 1)
ON CONFLICT(index_name) DO UPDATE SET
    id = excluded.id,
    model = excluded.model,
    dimension = excluded.dimension,
    entries = excluded.entries,
    built_at = excluded.built_at,
    active = 1,
    deactivated_at = NULL`
	builtAt := info.BuiltAt
	if builtAt.IsZero() {
		builtAt = time.Now()
	}
	if _, err := tx.ExecContext(ctx, upsert,
		info.ID, info.Index, info.Model, info.Dimension, info.Entries, builtAt.Unix()); err != nil {
		return fmt.Errorf("store: activate %s: %w", info.Index, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: activate: commit: %w", err)
	}
	return nil
}

// Deactivate marks the named index as inactive. It implements rag.Manifest.
// Unknown names are not an error.
func (s *SQLiteStore) Deactivate(ctx context.Context, indexName string) error {
	const q = `UPDATE generations SET active = 0, deactivated_at = ? WHERE index_name = ? AND active = 1`
	if _, err := s.db.ExecContext(ctx, q, time.Now().Unix(), indexName); err != nil {
		return fmt.Errorf("store: deactivate %s: %w", indexName, err)
	}
	return nil
}

// Active returns the active generation. found is false when none is active.
func (s *SQLiteStore) Active(ctx context.Context) (info rag.GenerationInfo, found bool, err error) {
	const q = `
SELECT id, index_name, model, dimension, entries, built_at
FROM   generations
WHERE  active = 1
ORDER  BY built_at DESC
LIMIT  1`
	var builtAt int64
	err = s.db.QueryRowContext(ctx, q).Scan(&info.ID, &info.Index, &info.Model, &info.Dimension, &info.Entries, &builtAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return rag.GenerationInfo{}, false, nil
	case err != nil:
		return rag.GenerationInfo{}, false, fmt.Errorf("store: active generation: %w", err)
	}
	info.BuiltAt = time.Unix(builtAt, 0).UTC()
	return info, true, nil
}

// Generations returns up to limit recorded generations, newest first.
func (s *SQLiteStore) Generations(ctx context.Context, limit int) ([]rag.GenerationInfo, error) {
	const q = `
SELECT id, index_name, model, dimension, entries, built_at
FROM   generations
ORDER  BY built_at DESC, rowid DESC
LIMIT  ?`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("store: generations: %w", err)
	}
	defer rows.Close()

	var out []rag.GenerationInfo
	for rows.Next() {
		var g rag.GenerationInfo
		var builtAt int64
		if err := rows.Scan(&g.ID, &g.Index, &g.Model, &g.Dimension, &g.Entries, &builtAt); err != nil {
			return nil, fmt.Errorf("store: generations scan: %w", err)
		}
		g.BuiltAt = time.Unix(builtAt, 0).UTC()
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: generations rows: %w", err)
	}
	return out, nil
}
