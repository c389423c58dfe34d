package store

import (
	"context"
	"fmt"
)

// AddSourceRoot records a scanned root. Adding a known root is a no-op.
func (s *Store) AddSourceRoot(ctx context.Context, path string) error {
	_, err := s.exec(ctx, "INSERT OR IGNORE INTO source_roots (path) VALUES (?)", path)
	if err != nil {
		return fmt.Errorf("failed to add source root: %w", err)
	}
	return nil
}

// GetSourceRoots returns every recorded source root in insertion order
func (s *Store) GetSourceRoots(ctx context.Context) ([]SourceRoot, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT path, added_at FROM source_roots ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("failed to query source roots: %w", err)
	}
	defer rows.Close()

	var roots []SourceRoot
	for rows.Next() {
		var r SourceRoot
		if err := rows.Scan(&r.Path, &r.AddedAt); err != nil {
			return nil, fmt.Errorf("failed to scan source root: %w", err)
		}
		roots = append(roots, r)
	}
	return roots, rows.Err()
}
