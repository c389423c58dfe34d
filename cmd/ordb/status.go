package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/ordb/internal/report"
	"github.com/franz/ordb/internal/store"
	"github.com/franz/ordb/internal/util"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-status counts, runs and errors from the state database",
	Long: `Print a summary of the state database: how many files are in each
status, the recorded runs and the most common errors.

Use --list <STATUS> to print the files in one status, for example
'ordb status --list STAGED_ERROR'. Use --out to also write the summary as
Markdown.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().String("list", "", "List the files in this status")
	statusCmd.Flags().String("out", "", "Also write a Markdown summary to this file")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	dbPath := viper.GetString("db")

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return fmt.Errorf("%w: database %s (run 'ordb run' first)", util.ErrNotFound, dbPath)
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if list, _ := cmd.Flags().GetString("list"); list != "" {
		status, err := store.ParseStatus(strings.ToUpper(list))
		if err != nil {
			return err
		}
		return listFiles(ctx, db, status)
	}

	summary, err := report.GenerateSummaryReport(ctx, db, "")
	if err != nil {
		return fmt.Errorf("failed to generate report: %w", err)
	}

	runs, err := db.GetRuns(ctx)
	if err != nil {
		return err
	}
	if len(runs) > 0 {
		last := runs[len(runs)-1]
		summary.RunID = last.ID
		summary.Destination = last.Destination
		summary.DryRun = last.DryRun
	}

	summary.WriteText(os.Stdout)
	if len(runs) > 0 {
		fmt.Println(runsTable(runs))
	}

	if out, _ := cmd.Flags().GetString("out"); out != "" {
		if err := report.WriteMarkdownReport(summary, filepath.Clean(out)); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		util.SuccessLog("Report saved to: %s", out)
	}
	return nil
}

func runsTable(runs []*store.Run) string {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		finished := "-"
		if r.FinishedAt != nil {
			finished = r.FinishedAt.Format("2006-01-02 15:04:05")
		}
		mode := "live"
		if r.DryRun {
			mode = "dry run"
		}
		rows = append(rows, []string{
			r.ID[:8],
			r.StartedAt.Format("2006-01-02 15:04:05"),
			finished,
			mode,
			r.Destination,
		})
	}
	return report.RenderTable(
		[]string{"Run", "Started", "Finished", "Mode", "Destination"},
		rows,
		[]report.Alignment{report.AlignLeft, report.AlignLeft, report.AlignLeft, report.AlignLeft, report.AlignLeft},
	)
}

func listFiles(ctx context.Context, db *store.Store, status store.Status) error {
	files, err := db.GetFilesByStatus(ctx, status)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		util.InfoLog("No files in %s", status)
		return nil
	}

	headers := []string{"ID", "Source", "Size"}
	switch status {
	case store.StatusSkipped, store.StatusStagedError:
		headers = append(headers, "Error")
	case store.StatusDuplicate:
		headers = append(headers, "Duplicate of")
	default:
		headers = append(headers, "Destination")
	}

	width := pathColumnWidth(util.GetTerminalWidth())
	rows := make([][]string, 0, len(files))
	for _, f := range files {
		var last string
		switch status {
		case store.StatusSkipped, store.StatusStagedError:
			last = f.Error
		case store.StatusDuplicate:
			last = strconv.FormatInt(f.DuplicateOf, 10)
		default:
			last = f.DestPath
		}
		rows = append(rows, []string{
			strconv.FormatInt(f.ID, 10),
			report.TruncatePath(f.SourcePath, width),
			util.FormatBytes(f.SizeBytes),
			report.TruncatePath(last, width),
		})
	}

	fmt.Println(report.RenderTable(headers, rows,
		[]report.Alignment{report.AlignRight, report.AlignLeft, report.AlignRight, report.AlignLeft}))
	fmt.Printf("%d files\n", len(files))
	return nil
}

// pathColumnWidth splits the terminal between the two path columns of the
// file listing, leaving room for ID, size and borders
func pathColumnWidth(termWidth int) int {
	width := (termWidth - 30) / 2
	if width < 20 {
		return 20
	}
	return width
}
