package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const fileColumns = `
	id, source_path, size_bytes, COALESCE(mime_type, ''),
	COALESCE(content_hash, ''), status, duplicate_of,
	COALESCE(category, ''), confidence, COALESCE(date_source, ''),
	COALESCE(date_value, ''), COALESCE(artist, ''), COALESCE(album, ''),
	COALESCE(dest_path, ''), COALESCE(error, ''),
	first_seen_at, last_update_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFile(row rowScanner) (*File, error) {
	f := &File{}
	var status string
	var duplicateOf sql.NullInt64
	var confidence sql.NullFloat64
	err := row.Scan(
		&f.ID, &f.SourcePath, &f.SizeBytes, &f.MimeType,
		&f.ContentHash, &status, &duplicateOf,
		&f.Category, &confidence, &f.DateSource,
		&f.DateValue, &f.Artist, &f.Album,
		&f.DestPath, &f.Error,
		&f.FirstSeenAt, &f.LastUpdate,
	)
	if err != nil {
		return nil, err
	}

	f.Status, err = ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("file %d: %w", f.ID, err)
	}
	if duplicateOf.Valid {
		f.DuplicateOf = duplicateOf.Int64
	}
	if confidence.Valid {
		c := confidence.Float64
		f.Confidence = &c
	}
	return f, nil
}

func (s *Store) queryFiles(ctx context.Context, where string, args ...interface{}) ([]*File, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+fileColumns+" FROM files "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer rows.Close()

	var files []*File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, f)
	}

	return files, rows.Err()
}

// InsertFile records a newly discovered file in PENDING and returns its id.
// The source path is the unique key: an existing record keeps its id and
// status; only a PENDING record has its size and MIME type refreshed.
func (s *Store) InsertFile(ctx context.Context, sourcePath string, size int64, mimeType string) (int64, error) {
	_, err := s.exec(ctx, `
		INSERT INTO files (source_path, size_bytes, mime_type, status)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(source_path) DO UPDATE SET
			size_bytes = excluded.size_bytes,
			mime_type = excluded.mime_type,
			last_update_at = CURRENT_TIMESTAMP
		WHERE files.status = 'PENDING'
	`, sourcePath, size, nullString(mimeType), string(StatusPending))
	if err != nil {
		return 0, fmt.Errorf("failed to insert file: %w", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx, "SELECT id FROM files WHERE source_path = ?", sourcePath).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to get file ID: %w", err)
	}
	return id, nil
}

// GetFileByID retrieves a file by its ID, or nil if it does not exist
func (s *Store) GetFileByID(ctx context.Context, id int64) (*File, error) {
	f, err := scanFile(s.db.QueryRowContext(ctx, "SELECT "+fileColumns+" FROM files WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return f, nil
}

// GetFileByPath retrieves a file by its canonical source path, or nil
func (s *Store) GetFileByPath(ctx context.Context, sourcePath string) (*File, error) {
	f, err := scanFile(s.db.QueryRowContext(ctx, "SELECT "+fileColumns+" FROM files WHERE source_path = ?", sourcePath))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return f, nil
}

// FindPrimaryByHash returns the record holding the primary role for a
// content hash, or nil if the hash has not been seen
func (s *Store) FindPrimaryByHash(ctx context.Context, contentHash string) (*File, error) {
	f, err := scanFile(s.db.QueryRowContext(ctx, `
		SELECT `+fileColumns+` FROM files
		WHERE content_hash = ? AND status IN ('PRIMARY', 'STAGED_OK', 'STAGED_ERROR')
		LIMIT 1
	`, contentHash))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find primary: %w", err)
	}
	return f, nil
}

// KnownStatuses maps every recorded source path to its status.
// Values outside the known status set fail with ErrInvalidStatus.
func (s *Store) KnownStatuses(ctx context.Context) (map[string]Status, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT source_path, status FROM files")
	if err != nil {
		return nil, fmt.Errorf("failed to query statuses: %w", err)
	}
	defer rows.Close()

	known := make(map[string]Status)
	for rows.Next() {
		var path, raw string
		if err := rows.Scan(&path, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan status: %w", err)
		}
		status, err := ParseStatus(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		known[path] = status
	}
	return known, rows.Err()
}

// TransitionFields carries the columns that accompany a status change
type TransitionFields struct {
	ContentHash string // PRIMARY, DUPLICATE
	DuplicateOf int64  // DUPLICATE
	Error       string // SKIPPED, STAGED_ERROR
}

// Transition moves a record from one status to another. The edge must be
// allowed by the lifecycle, and the record must still be in `from`;
// otherwise ErrStaleTransition is returned and nothing changes.
func (s *Store) Transition(ctx context.Context, id int64, from, to Status, fields TransitionFields) error {
	if !from.Valid() || !to.Valid() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatus, from, to)
	}
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	sets := []string{"status = ?", "last_update_at = ?"}
	args := []interface{}{string(to), time.Now()}

	switch to {
	case StatusSkipped:
		sets = append(sets, "content_hash = NULL", "duplicate_of = NULL", "error = ?")
		args = append(args, nullString(fields.Error))
	case StatusPrimary:
		sets = append(sets, "content_hash = ?", "duplicate_of = NULL", "error = NULL")
		args = append(args, fields.ContentHash)
	case StatusDuplicate:
		sets = append(sets, "content_hash = ?", "duplicate_of = ?", "error = NULL")
		args = append(args, fields.ContentHash, fields.DuplicateOf)
	case StatusStagedOK:
		sets = append(sets, "error = NULL")
	case StatusStagedError:
		sets = append(sets, "error = ?")
		args = append(args, nullString(fields.Error))
	}

	if (to == StatusPrimary || to == StatusDuplicate) && fields.ContentHash == "" {
		return fmt.Errorf("%w: %s requires a content hash", ErrInvalidTransition, to)
	}
	if to == StatusDuplicate && fields.DuplicateOf == 0 {
		return fmt.Errorf("%w: duplicate requires the primary id", ErrInvalidTransition)
	}

	args = append(args, id, string(from))
	result, err := s.exec(ctx,
		"UPDATE files SET "+strings.Join(sets, ", ")+" WHERE id = ? AND status = ?",
		args...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrPrimaryExists, fields.ContentHash)
		}
		return fmt.Errorf("failed to transition file %d: %w", id, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to transition file %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: file %d not in %s", ErrStaleTransition, id, from)
	}
	return nil
}

// Enrichment holds the derived attributes and projected path of a primary record
type Enrichment struct {
	Category   string
	Confidence *float64
	DateSource string
	DateValue  string
	Artist     string
	Album      string
	DestPath   string
}

// SetEnrichment stores enrichment attributes and the projected destination.
// Only PRIMARY records without a destination are updated, so a persisted
// dest_path is never overwritten; otherwise ErrStaleTransition is returned.
func (s *Store) SetEnrichment(ctx context.Context, id int64, e Enrichment) error {
	if e.DestPath == "" {
		return fmt.Errorf("enrichment for file %d has no destination", id)
	}

	var confidence interface{}
	if e.Confidence != nil {
		confidence = *e.Confidence
	}

	result, err := s.exec(ctx, `
		UPDATE files SET
			category = ?, confidence = ?, date_source = ?, date_value = ?,
			artist = ?, album = ?, dest_path = ?, last_update_at = ?
		WHERE id = ? AND status = 'PRIMARY' AND dest_path IS NULL
	`, nullString(e.Category), confidence, nullString(e.DateSource), nullString(e.DateValue),
		nullString(e.Artist), nullString(e.Album), e.DestPath, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to store enrichment for file %d: %w", id, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to store enrichment for file %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: file %d is not an unprojected primary", ErrStaleTransition, id)
	}
	return nil
}

// GetFilesByStatus retrieves files with a given status
func (s *Store) GetFilesByStatus(ctx context.Context, status Status) ([]*File, error) {
	return s.queryFiles(ctx, "WHERE status = ? ORDER BY id", string(status))
}

// GetPrimariesWithoutDest returns PRIMARY records that still need a destination
func (s *Store) GetPrimariesWithoutDest(ctx context.Context) ([]*File, error) {
	return s.queryFiles(ctx, "WHERE status = 'PRIMARY' AND dest_path IS NULL ORDER BY id")
}

// GetStageable returns PRIMARY records with a projected destination
func (s *Store) GetStageable(ctx context.Context) ([]*File, error) {
	return s.queryFiles(ctx, "WHERE status = 'PRIMARY' AND dest_path IS NOT NULL ORDER BY id")
}

// GetAllFiles retrieves all files
func (s *Store) GetAllFiles(ctx context.Context) ([]*File, error) {
	return s.queryFiles(ctx, "ORDER BY id")
}

// PathClaim is a persisted destination and the content that owns it
type PathClaim struct {
	DestPath    string
	ContentHash string
}

// GetPathClaims returns every persisted destination path with its content hash
func (s *Store) GetPathClaims(ctx context.Context) ([]PathClaim, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT dest_path, COALESCE(content_hash, '')
		FROM files WHERE dest_path IS NOT NULL
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query destinations: %w", err)
	}
	defer rows.Close()

	var claims []PathClaim
	for rows.Next() {
		var c PathClaim
		if err := rows.Scan(&c.DestPath, &c.ContentHash); err != nil {
			return nil, fmt.Errorf("failed to scan destination: %w", err)
		}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

// GetDistinctDestPaths returns every distinct recorded destination path
func (s *Store) GetDistinctDestPaths(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT dest_path FROM files
		WHERE dest_path IS NOT NULL
		ORDER BY dest_path
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query destinations: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan destination: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// CountByStatus returns the number of records in each status.
// Every known status is present in the result, possibly with zero.
func (s *Store) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM files GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count files: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int, len(allStatuses))
	for _, st := range allStatuses {
		counts[st] = 0
	}
	for rows.Next() {
		var raw string
		var n int
		if err := rows.Scan(&raw, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		st, err := ParseStatus(raw)
		if err != nil {
			return nil, err
		}
		counts[st] = n
	}
	return counts, rows.Err()
}

// ResetAll returns every record to PENDING and clears the outputs of the
// later phases (error, duplicate link, enrichment, destination).
// Returns the number of records that changed.
func (s *Store) ResetAll(ctx context.Context) (int64, error) {
	result, err := s.exec(ctx, `
		UPDATE files SET
			status = 'PENDING', error = NULL, duplicate_of = NULL,
			category = NULL, confidence = NULL, date_source = NULL, date_value = NULL,
			artist = NULL, album = NULL, dest_path = NULL,
			last_update_at = ?
		WHERE status != 'PENDING' OR dest_path IS NOT NULL OR error IS NOT NULL
	`, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to reset files: %w", err)
	}
	return result.RowsAffected()
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// SumSizeByStatus returns the total size in bytes of records in a status
func (s *Store) SumSizeByStatus(ctx context.Context, status Status) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(size_bytes), 0) FROM files WHERE status = ?", string(status)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum sizes: %w", err)
	}
	return total, nil
}

// ErrorCount is a distinct error message and how many records carry it
type ErrorCount struct {
	Error string
	Count int
}

// TopErrors returns the most frequent error messages, most common first
func (s *Store) TopErrors(ctx context.Context, limit int) ([]ErrorCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT error, COUNT(*) AS n FROM files
		WHERE error IS NOT NULL AND error != ''
		GROUP BY error
		ORDER BY n DESC, error
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query errors: %w", err)
	}
	defer rows.Close()

	var out []ErrorCount
	for rows.Next() {
		var e ErrorCount
		if err := rows.Scan(&e.Error, &e.Count); err != nil {
			return nil, fmt.Errorf("failed to scan error: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
