package report

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/franz/ordb/internal/store"
	"github.com/franz/ordb/internal/util"
)

// SummaryReport is the end-of-run view of the state database
type SummaryReport struct {
	GeneratedAt time.Time
	Duration    time.Duration

	RunID       string
	Destination string
	DryRun      bool

	// Status counts, every known status present
	Counts map[store.Status]int
	Total  int

	BytesStaged int64
	TopErrors   []ErrorSummary

	DatabasePath     string
	EventLogPath     string
	DryRunReportPath string
}

// ErrorSummary represents an error with its count
type ErrorSummary struct {
	Error string
	Count int
}

// GenerateSummaryReport builds a summary from the current database state
func GenerateSummaryReport(ctx context.Context, db *store.Store, eventLogPath string) (*SummaryReport, error) {
	counts, err := db.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	report := &SummaryReport{
		GeneratedAt:  time.Now(),
		Counts:       counts,
		DatabasePath: db.Path(),
		EventLogPath: eventLogPath,
		TopErrors:    make([]ErrorSummary, 0),
	}
	for _, n := range counts {
		report.Total += n
	}

	report.BytesStaged, err = db.SumSizeByStatus(ctx, store.StatusStagedOK)
	if err != nil {
		return nil, err
	}

	topErrors, err := db.TopErrors(ctx, 10)
	if err != nil {
		return nil, err
	}
	for _, e := range topErrors {
		report.TopErrors = append(report.TopErrors, ErrorSummary{Error: e.Error, Count: e.Count})
	}

	return report, nil
}

// StatusTable renders the per-status counts followed by the total
func (r *SummaryReport) StatusTable() string {
	rows := make([][]string, 0, len(store.AllStatuses())+1)
	for _, s := range store.AllStatuses() {
		rows = append(rows, []string{s.String(), strconv.Itoa(r.Counts[s])})
	}
	rows = append(rows, []string{"TOTAL", strconv.Itoa(r.Total)})
	return RenderTable([]string{"Status", "Count"}, rows, []Alignment{AlignLeft, AlignRight})
}

// WriteText prints the summary for the console
func (r *SummaryReport) WriteText(w io.Writer) {
	if r.RunID != "" {
		mode := "live"
		if r.DryRun {
			mode = "dry run"
		}
		fmt.Fprintf(w, "Run %s (%s)\n", r.RunID, mode)
	}
	if r.Destination != "" {
		fmt.Fprintf(w, "Destination: %s\n", r.Destination)
	}
	if r.Duration > 0 {
		fmt.Fprintf(w, "Duration:    %s\n", r.Duration.Round(time.Second))
	}
	fmt.Fprintln(w, r.StatusTable())
	if r.BytesStaged > 0 {
		fmt.Fprintf(w, "Staged: %s\n", util.FormatBytes(r.BytesStaged))
	}
	if r.DryRunReportPath != "" {
		fmt.Fprintf(w, "Dry-run report: %s\n", r.DryRunReportPath)
	}
	if len(r.TopErrors) > 0 {
		fmt.Fprintln(w, "Top errors:")
		for _, e := range r.TopErrors {
			fmt.Fprintf(w, "  %4d  %s\n", e.Count, TruncatePath(e.Error, 100))
		}
	}
}

// WriteMarkdownReport writes the summary report as Markdown
func WriteMarkdownReport(report *SummaryReport, outputPath string) error {
	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var md strings.Builder

	md.WriteString("# ordb - Summary Report\n\n")
	md.WriteString(fmt.Sprintf("**Generated:** %s\n\n", report.GeneratedAt.Format("2006-01-02 15:04:05")))
	if report.RunID != "" {
		md.WriteString(fmt.Sprintf("**Run:** `%s`\n\n", report.RunID))
	}
	if report.Destination != "" {
		md.WriteString(fmt.Sprintf("**Destination:** `%s`\n\n", report.Destination))
	}
	if report.DatabasePath != "" {
		md.WriteString(fmt.Sprintf("**Database:** `%s`\n\n", report.DatabasePath))
	}
	if report.EventLogPath != "" {
		md.WriteString(fmt.Sprintf("**Event Log:** `%s`\n\n", report.EventLogPath))
	}

	md.WriteString("---\n\n")

	md.WriteString("## Status\n\n")
	md.WriteString("| Status | Count |\n")
	md.WriteString("|--------|-------|\n")
	for _, s := range store.AllStatuses() {
		md.WriteString(fmt.Sprintf("| %s | %d |\n", s, report.Counts[s]))
	}
	md.WriteString(fmt.Sprintf("| **Total** | %d |\n", report.Total))
	md.WriteString("\n")

	if report.BytesStaged > 0 || report.DryRun {
		md.WriteString("## Staging\n\n")
		md.WriteString("| Metric | Value |\n")
		md.WriteString("|--------|-------|\n")
		md.WriteString(fmt.Sprintf("| Bytes Staged | %s |\n", util.FormatBytes(report.BytesStaged)))
		if report.DryRun {
			md.WriteString("| Mode | dry run |\n")
		}
		if report.DryRunReportPath != "" {
			md.WriteString(fmt.Sprintf("| Dry-run Report | `%s` |\n", report.DryRunReportPath))
		}
		if report.Duration > 0 {
			md.WriteString(fmt.Sprintf("| Duration | %s |\n", report.Duration.Round(time.Second)))
		}
		md.WriteString("\n")
	}

	if len(report.TopErrors) > 0 {
		md.WriteString("## Top Errors\n\n")
		md.WriteString("| Count | Error |\n")
		md.WriteString("|-------|-------|\n")
		for _, e := range report.TopErrors {
			md.WriteString(fmt.Sprintf("| %d | %s |\n", e.Count, TruncatePath(e.Error, 120)))
		}
		md.WriteString("\n")
	}

	if err := os.WriteFile(outputPath, []byte(md.String()), 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// TruncatePath shortens path to maxLen, keeping its start and end
func TruncatePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	start := maxLen/2 - 2
	end := len(path) - (maxLen/2 - 2)
	return path[:start] + "..." + path[end:]
}
