package report

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/franz/ordb/internal/store"
)

func setupTestData(t *testing.T, db *store.Store) {
	t.Helper()
	ctx := context.Background()

	a, _ := db.InsertFile(ctx, "/src/a.jpg", 1024, "image/jpeg")
	b, _ := db.InsertFile(ctx, "/src/b.jpg", 1024, "image/jpeg")
	c, _ := db.InsertFile(ctx, "/src/empty", 0, "")
	db.InsertFile(ctx, "/src/pending.txt", 3, "text/plain")

	if err := db.Transition(ctx, a, store.StatusPending, store.StatusPrimary, store.TransitionFields{ContentHash: "h1"}); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if err := db.Transition(ctx, b, store.StatusPending, store.StatusDuplicate, store.TransitionFields{ContentHash: "h1", DuplicateOf: a}); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if err := db.Transition(ctx, c, store.StatusPending, store.StatusSkipped, store.TransitionFields{Error: "empty file"}); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if err := db.Transition(ctx, a, store.StatusPrimary, store.StatusStagedOK, store.TransitionFields{}); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
}

func TestGenerateSummaryReport(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	setupTestData(t, db)

	report, err := GenerateSummaryReport(context.Background(), db, "test-events.jsonl")
	if err != nil {
		t.Fatalf("GenerateSummaryReport failed: %v", err)
	}

	if report.Total != 4 {
		t.Errorf("Expected total 4, got %d", report.Total)
	}
	expected := map[store.Status]int{
		store.StatusPending:     1,
		store.StatusSkipped:     1,
		store.StatusPrimary:     0,
		store.StatusDuplicate:   1,
		store.StatusStagedOK:    1,
		store.StatusStagedError: 0,
	}
	for status, want := range expected {
		if got := report.Counts[status]; got != want {
			t.Errorf("Counts[%s] = %d, expected %d", status, got, want)
		}
	}
	if report.BytesStaged != 1024 {
		t.Errorf("Expected 1024 bytes staged, got %d", report.BytesStaged)
	}
	if len(report.TopErrors) != 1 || report.TopErrors[0].Error != "empty file" {
		t.Errorf("Unexpected top errors: %+v", report.TopErrors)
	}
	if report.EventLogPath != "test-events.jsonl" {
		t.Errorf("Expected event log path 'test-events.jsonl', got '%s'", report.EventLogPath)
	}
	if report.DatabasePath != db.Path() {
		t.Errorf("Expected database path %s, got %s", db.Path(), report.DatabasePath)
	}
	if report.GeneratedAt.IsZero() {
		t.Error("Expected GeneratedAt to be set")
	}
}

func TestSummaryReport_WriteText(t *testing.T) {
	report := &SummaryReport{
		RunID:       "run-42",
		Destination: "/dest",
		Counts: map[store.Status]int{
			store.StatusPrimary:   2,
			store.StatusDuplicate: 5,
		},
		Total:       7,
		BytesStaged: 5 * 1024 * 1024,
		TopErrors:   []ErrorSummary{{Error: "empty file", Count: 3}},
	}

	var buf bytes.Buffer
	report.WriteText(&buf)
	out := buf.String()

	for _, want := range []string{"run-42", "/dest", "PRIMARY", "DUPLICATE", "STAGED_ERROR", "TOTAL", "5.0 MiB", "empty file"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %q:\n%s", want, out)
		}
	}
}

func TestWriteMarkdownReport(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "reports", "summary.md")

	report := &SummaryReport{
		GeneratedAt: time.Now(),
		RunID:       "run-1",
		Destination: "/dest",
		Counts: map[store.Status]int{
			store.StatusStagedOK: 100,
			store.StatusSkipped:  5,
		},
		Total:        105,
		BytesStaged:  500 * 1024 * 1024,
		DatabasePath: "/test/database.db",
		EventLogPath: "/test/events.jsonl",
		TopErrors: []ErrorSummary{
			{Error: "empty file", Count: 3},
			{Error: "open /src/x: permission denied", Count: 2},
		},
	}

	if err := WriteMarkdownReport(report, outputPath); err != nil {
		t.Fatalf("WriteMarkdownReport failed: %v", err)
	}

	content, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatalf("Failed to read report file: %v", err)
	}
	md := string(content)

	for _, want := range []string{
		"# ordb - Summary Report",
		"## Status",
		"| STAGED_OK | 100 |",
		"| **Total** | 105 |",
		"500 MiB",
		"## Top Errors",
		"permission denied",
		"/test/database.db",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("Report missing %q", want)
		}
	}
}

func TestRenderPlainTable(t *testing.T) {
	out := RenderPlainTable(
		[]string{"Source", "Destination"},
		[][]string{{"/src/a.jpg", "/dest/Images/a.jpg"}, {"/src/b"}},
		nil,
	)
	if !strings.Contains(out, "/src/a.jpg") || !strings.Contains(out, "/dest/Images/a.jpg") {
		t.Errorf("Unexpected table:\n%s", out)
	}
	if strings.ContainsAny(out, "╭╮╰╯") {
		t.Errorf("Expected ASCII borders, got:\n%s", out)
	}
	if RenderTable(nil, nil, nil) != "" {
		t.Error("Expected empty output for no headers")
	}
}

func TestTruncatePath(t *testing.T) {
	testCases := []struct {
		name   string
		path   string
		maxLen int
	}{
		{"Short path - no truncation", "/photos/a.jpg", 50},
		{"Long path - truncate middle", "/very/long/path/to/some/photo/collection/2023/01_January/a.jpg", 30},
		{"Exactly at limit", "/photos/test.jpg", 16},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := TruncatePath(tc.path, tc.maxLen)
			if len(result) > tc.maxLen {
				t.Errorf("Result length %d exceeds maxLen %d", len(result), tc.maxLen)
			}
			if len(tc.path) > tc.maxLen && !strings.Contains(result, "...") {
				t.Error("Expected truncated path to contain '...'")
			}
			if len(tc.path) <= tc.maxLen && result != tc.path {
				t.Errorf("Expected %q unchanged, got %q", tc.path, result)
			}
		})
	}
}
