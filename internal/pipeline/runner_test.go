package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franz/ordb/internal/classify"
	"github.com/franz/ordb/internal/report"
	"github.com/franz/ordb/internal/stage"
	"github.com/franz/ordb/internal/store"
	"github.com/franz/ordb/internal/trash"
	"github.com/franz/ordb/internal/util"
)

func setupTestDB(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

type fakeProbe struct {
	err   error
	calls int
}

func (p *fakeProbe) WaitReady(context.Context) error {
	p.calls++
	return p.err
}

type fakeClassifier struct {
	category string
}

func (c *fakeClassifier) ClassifyAll(_ context.Context, paths []string) (map[string]classify.Label, classify.Stats, error) {
	labels := make(map[string]classify.Label, len(paths))
	conf := 0.9
	for _, p := range paths {
		labels[p] = classify.Label{Category: c.category, Confidence: &conf}
	}
	return labels, classify.Stats{Batches: 1}, nil
}

func listFiles(t *testing.T, root string) []string {
	t.Helper()
	var out []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			rel, _ := filepath.Rel(root, path)
			out = append(out, rel)
		}
		return nil
	})
	require.NoError(t, err)
	sort.Strings(out)
	return out
}

func baseOptions(src, dest string) Options {
	return Options{
		Sources:     []string{src},
		Destination: dest,
		Concurrency: 1,
		QueueSize:   2,
		VerifyMode:  stage.VerifyHash,
	}
}

func TestRun_DedupAndStage(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	src := t.TempDir()
	dest := filepath.Join(t.TempDir(), "organized")

	createTestFile(t, filepath.Join(src, "a.txt"), "hello")
	createTestFile(t, filepath.Join(src, "sub", "b.txt"), "hello")
	createTestFile(t, filepath.Join(src, "c.txt"), "world")
	createTestFile(t, filepath.Join(src, "empty.txt"), "")

	result, err := New(&Config{Store: s}).Run(ctx, baseOptions(src, dest))
	require.NoError(t, err)

	assert.Equal(t, 2, result.Primaries)
	assert.Equal(t, 1, result.Duplicates)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 2, result.Enrich.Projected)
	assert.Equal(t, 2, result.Stage.Succeeded)

	// Single hashing worker keeps discovery order, so a.txt wins over sub/b.txt
	assert.Equal(t, []string{"Other/txt/a.txt", "Other/txt/c.txt"}, listFiles(t, dest))

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[store.StatusStagedOK])
	assert.Equal(t, 1, counts[store.StatusDuplicate])
	assert.Equal(t, 1, counts[store.StatusSkipped])

	skipped, err := s.GetFilesByStatus(ctx, store.StatusSkipped)
	require.NoError(t, err)
	require.Len(t, skipped, 1)
	assert.Equal(t, util.ErrEmptyFile.Error(), skipped[0].Error)
	assert.Empty(t, skipped[0].ContentHash)

	roots, err := s.GetSourceRoots(ctx)
	require.NoError(t, err)
	require.Len(t, roots, 1)

	runs, err := s.GetRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, result.RunID, runs[0].ID)
	assert.NotNil(t, runs[0].FinishedAt)
}

func TestRun_RerunIsNoop(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	src := t.TempDir()
	dest := filepath.Join(t.TempDir(), "organized")

	createTestFile(t, filepath.Join(src, "a.txt"), "alpha")
	createTestFile(t, filepath.Join(src, "b.txt"), "bravo")
	createTestFile(t, filepath.Join(src, "copy.txt"), "alpha")

	runner := New(&Config{Store: s})
	_, err := runner.Run(ctx, baseOptions(src, dest))
	require.NoError(t, err)

	before, err := s.GetAllFiles(ctx)
	require.NoError(t, err)
	filesBefore := listFiles(t, dest)

	result, err := runner.Run(ctx, baseOptions(src, dest))
	require.NoError(t, err)
	assert.Equal(t, 0, result.Primaries+result.Duplicates+result.Skipped)
	assert.Equal(t, 3, result.Scan.FilesKnown)
	assert.Equal(t, 0, result.Enrich.Projected)
	assert.Equal(t, 0, result.Stage.Processed)

	after, err := s.GetAllFiles(ctx)
	require.NoError(t, err)
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].Status, after[i].Status)
		assert.Equal(t, before[i].DestPath, after[i].DestPath)
	}
	assert.Equal(t, filesBefore, listFiles(t, dest))
}

func TestRun_ResumesNewFiles(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	src := t.TempDir()
	dest := filepath.Join(t.TempDir(), "organized")

	createTestFile(t, filepath.Join(src, "x", "notes.txt"), "first")

	runner := New(&Config{Store: s})
	_, err := runner.Run(ctx, baseOptions(src, dest))
	require.NoError(t, err)

	// Same name, different content, found on the next run
	createTestFile(t, filepath.Join(src, "y", "notes.txt"), "second")
	result, err := runner.Run(ctx, baseOptions(src, dest))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Primaries)
	assert.Equal(t, 1, result.Enrich.Collisions)

	files := listFiles(t, dest)
	require.Len(t, files, 2)
	assert.Equal(t, "Other/txt/notes.txt", files[0])
	assert.Regexp(t, `^Other/txt/notes_[0-9a-f]{8}\.txt$`, files[1])

	got, err := os.ReadFile(filepath.Join(dest, "Other", "txt", "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "first", string(got))
}

func TestRun_ExcludesTrash(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	src := t.TempDir()
	dest := filepath.Join(t.TempDir(), "organized")

	createTestFile(t, filepath.Join(src, "a.txt"), "alpha")
	createTestFile(t, filepath.Join(src, trash.DirName, "old.txt"), "trashed")

	runner := New(&Config{Store: s})
	_, err := runner.Run(ctx, baseOptions(src, dest))
	require.NoError(t, err)

	result, err := runner.Run(ctx, baseOptions(src, dest))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Scan.FilesFound, "trash must not be scanned")

	all, err := s.GetAllFiles(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, filepath.Join(src, "a.txt"), all[0].SourcePath)
}

func TestRun_DryRun(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	src := t.TempDir()
	dest := filepath.Join(t.TempDir(), "organized")
	reportPath := filepath.Join(t.TempDir(), "report.txt")

	createTestFile(t, filepath.Join(src, "a.txt"), "alpha")

	opts := baseOptions(src, dest)
	opts.DryRun = true
	opts.ReportPath = reportPath

	result, err := New(&Config{Store: s}).Run(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, reportPath, result.Stage.ReportPath)

	_, err = os.Stat(dest)
	assert.True(t, os.IsNotExist(err), "dry run must not create the destination")

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), filepath.Join(dest, "Other", "txt", "a.txt"))

	primaries, err := s.GetFilesByStatus(ctx, store.StatusPrimary)
	require.NoError(t, err)
	assert.Len(t, primaries, 1)

	runs, err := s.GetRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].DryRun)
}

func TestRun_ClassifiesImages(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	src := t.TempDir()
	dest := filepath.Join(t.TempDir(), "organized")

	png := filepath.Join(src, "pic.png")
	createTestFile(t, png, "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR fake image body")
	when := time.Date(2023, time.May, 10, 12, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(png, when, when))

	probe := &fakeProbe{}
	opts := baseOptions(src, dest)
	opts.Classify = true

	_, err := New(&Config{Store: s, Probe: probe, Classifier: &fakeClassifier{category: "beach"}}).Run(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, probe.calls)

	assert.Equal(t, []string{"Images/2023/05_May/beach/pic.png"}, listFiles(t, dest))
}

func TestRun_ServiceNotReadyAbortsBeforeWrites(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	src := t.TempDir()
	createTestFile(t, filepath.Join(src, "a.txt"), "alpha")

	opts := baseOptions(src, filepath.Join(t.TempDir(), "organized"))
	opts.Classify = true

	probe := &fakeProbe{err: util.ErrServiceNotReady}
	_, err := New(&Config{Store: s, Probe: probe}).Run(ctx, opts)
	assert.ErrorIs(t, err, util.ErrServiceNotReady)

	all, err := s.GetAllFiles(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
	runs, err := s.GetRuns(ctx)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRun_RecordsFatalError(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	src := t.TempDir()
	createTestFile(t, filepath.Join(src, "a.txt"), "alpha")

	logger, err := report.NewEventLogger(t.TempDir(), report.LevelInfo)
	require.NoError(t, err)

	opts := baseOptions(src, filepath.Join(t.TempDir(), "organized"))
	opts.Classify = true

	probe := &fakeProbe{err: util.ErrServiceNotReady}
	_, err = New(&Config{Store: s, Probe: probe, Logger: logger}).Run(ctx, opts)
	require.ErrorIs(t, err, util.ErrServiceNotReady)
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(logger.Path())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var event report.Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &event))
	assert.Equal(t, report.EventError, event.Event)
	assert.Equal(t, report.LevelError, event.Level)
	assert.Contains(t, event.Error, util.ErrServiceNotReady.Error())
}

func TestRun_Validation(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	src := t.TempDir()
	runner := New(&Config{Store: s})

	tests := []struct {
		name string
		opts Options
		want error
	}{
		{"no destination", Options{Sources: []string{src}}, util.ErrMissingDestination},
		{"no sources", Options{Destination: "/tmp/out"}, util.ErrMissingSource},
		{"missing source", Options{Sources: []string{filepath.Join(src, "nope")}, Destination: "/tmp/out"}, util.ErrMissingSource},
		{"source is destination", Options{Sources: []string{src}, Destination: src}, util.ErrInvalidConfig},
		{"destination inside source", Options{Sources: []string{src}, Destination: filepath.Join(src, "organized")}, util.ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runner.Run(ctx, tt.opts)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestRun_Fresh(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	src := t.TempDir()

	createTestFile(t, filepath.Join(src, "a.txt"), "alpha")

	opts := baseOptions(src, filepath.Join(t.TempDir(), "organized"))
	opts.DryRun = true
	opts.ReportPath = filepath.Join(t.TempDir(), "report.txt")

	runner := New(&Config{Store: s})
	_, err := runner.Run(ctx, opts)
	require.NoError(t, err)

	opts.Fresh = true
	result, err := runner.Run(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Primaries, "fresh run starts from an empty state")
}
