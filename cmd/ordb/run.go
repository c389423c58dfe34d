package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/ordb/internal/classify"
	"github.com/franz/ordb/internal/pipeline"
	"github.com/franz/ordb/internal/project"
	"github.com/franz/ordb/internal/report"
	"github.com/franz/ordb/internal/stage"
	"github.com/franz/ordb/internal/util"
)

var runCmd = &cobra.Command{
	Use:   "run [source...]",
	Short: "Scan, deduplicate, enrich and stage files into the destination",
	Long: `Run the full pipeline over one or more source directories.

This command:
1. Waits for the classification service (unless --no-classify)
2. Walks every source and hashes each file (BLAKE3)
3. Keeps the first file of each content as PRIMARY, marks the rest DUPLICATE
4. Dates, tags and classifies primaries and projects a destination path
5. Copies every primary to its destination (or writes a dry-run report)

State is kept in the database given by --db. Running again resumes: files
already processed are not hashed again and their destinations never change.
Use --fresh to discard the recorded state first.

Sources are never modified. Use 'ordb commit' afterwards to move them to the
trash, or 'ordb rollback' to undo the run.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringSlice("source", nil, "Source directory (repeatable, also accepted as arguments)")
	runCmd.Flags().String("dest", "", "Destination directory (required)")
	runCmd.Flags().Bool("dry-run", false, "Plan only: write the report instead of copying")
	runCmd.Flags().Bool("fresh", false, "Discard the recorded state before running")
	runCmd.Flags().Bool("no-classify", false, "Skip image classification (images go to 'unknown')")
	runCmd.Flags().Int("concurrency", 4, "Number of hashing and copy workers")
	runCmd.Flags().Int("batch-size", 64, "Images per classification request")
	runCmd.Flags().Float64("threshold", 0.3, "Minimum classification confidence")
	runCmd.Flags().String("service-url", "http://127.0.0.1:8000", "Classification service address")
	runCmd.Flags().String("verify", "size", "Verification after copy: none, size, hash")
	runCmd.Flags().String("report", "dry_run_report.txt", "Dry-run report path")
	runCmd.Flags().String("language", "en", "Language for month folder names (en, es)")

	viper.BindPFlag("source", runCmd.Flags().Lookup("source"))
	viper.BindPFlag("destination", runCmd.Flags().Lookup("dest"))
	viper.BindPFlag("dry_run", runCmd.Flags().Lookup("dry-run"))
	viper.BindPFlag("fresh", runCmd.Flags().Lookup("fresh"))
	viper.BindPFlag("concurrency", runCmd.Flags().Lookup("concurrency"))
	viper.BindPFlag("batch_size", runCmd.Flags().Lookup("batch-size"))
	viper.BindPFlag("confidence_threshold", runCmd.Flags().Lookup("threshold"))
	viper.BindPFlag("service_url", runCmd.Flags().Lookup("service-url"))
	viper.BindPFlag("verify", runCmd.Flags().Lookup("verify"))
	viper.BindPFlag("report_path", runCmd.Flags().Lookup("report"))
	viper.BindPFlag("language", runCmd.Flags().Lookup("language"))
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	sources := append(GetConfigStringSlice("source"), args...)
	destination := GetConfigString("destination", "")
	dryRun := GetConfigBool("dry_run")

	classifyImages := GetConfigBool("classify")
	if noClassify, _ := cmd.Flags().GetBool("no-classify"); noClassify {
		classifyImages = false
	}

	verifyMode := GetConfigString("verify", stage.VerifySize)
	switch verifyMode {
	case stage.VerifyNone, stage.VerifySize, stage.VerifyHash:
	default:
		return fmt.Errorf("%w: verify must be none, size or hash, got %q", util.ErrInvalidConfig, verifyMode)
	}

	// Argument errors abort before the database is touched
	if destination == "" {
		return fmt.Errorf("%w (use --dest)", util.ErrMissingDestination)
	}
	if len(sources) == 0 {
		return util.ErrMissingSource
	}

	db, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	logger := openEventLogger()
	defer logger.Close()

	client := classify.NewClient(&classify.Config{
		BaseURL:        GetConfigString("service_url", classify.DefaultBaseURL),
		HealthRetries:  GetConfigInt("health_retries", 30),
		HealthInterval: GetConfigDuration("health_interval", 2*time.Second),
	})
	classifier := classify.NewClassifier(&classify.ClassifierConfig{
		Client:      client,
		BatchSize:   GetConfigInt("batch_size", 64),
		Threshold:   GetConfigFloat("confidence_threshold", 0.3),
		Concurrency: GetConfigInt("classify_concurrency", 2),
		Logger:      logger,
	})

	opts := pipeline.Options{
		Sources:     sources,
		Destination: destination,
		DryRun:      dryRun,
		Fresh:       GetConfigBool("fresh"),
		Classify:    classifyImages,
		Concurrency: GetConfigInt("concurrency", 4),
		QueueSize:   GetConfigInt("queue_size", pipeline.DefaultQueueSize),
		VerifyMode:  verifyMode,
		ReportPath:  GetConfigString("report_path", stage.DefaultReportPath),
		Language:    project.ParseLanguage(GetConfigString("language", "en")),
	}

	util.InfoLog("=== Run ===")
	util.InfoLog("Sources: %v", opts.Sources)
	util.InfoLog("Destination: %s", opts.Destination)
	util.InfoLog("Concurrency: %d workers", opts.Concurrency)
	if opts.DryRun {
		util.InfoLog("Mode: DRY RUN (nothing will be copied)")
	}
	if !opts.Classify {
		util.InfoLog("Classification: disabled")
	}

	runner := pipeline.New(&pipeline.Config{
		Store:      db,
		Probe:      client,
		Classifier: classifier,
		Logger:     logger,
	})

	result, runErr := runner.Run(ctx, opts)
	if runErr != nil {
		if ctx.Err() != nil {
			util.WarnLog("Interrupted; run 'ordb run' again to resume")
		}
		if result == nil {
			return runErr
		}
	}

	// The summary reflects the database, so it is useful after a failure too
	summary, err := report.GenerateSummaryReport(context.Background(), db, logger.Path())
	if err != nil {
		util.WarnLog("Failed to generate summary report: %v", err)
		return runErr
	}
	summary.RunID = result.RunID
	summary.Destination = result.Destination
	summary.DryRun = opts.DryRun
	summary.Duration = result.Duration
	if result.Stage != nil {
		summary.DryRunReportPath = result.Stage.ReportPath
	}

	util.InfoLog("")
	util.SuccessLog("=== Summary ===")
	if !util.IsQuiet() {
		summary.WriteText(os.Stdout)
	}

	timestamp := time.Now().Format("20060102-150405")
	reportPath := filepath.Join(GetConfigString("events_dir", "artifacts"), "reports", timestamp, "summary.md")
	if err := report.WriteMarkdownReport(summary, reportPath); err != nil {
		util.WarnLog("Failed to write summary report: %v", err)
	} else {
		util.InfoLog("Summary report saved to: %s", reportPath)
	}

	if runErr != nil {
		return runErr
	}
	if result.Stage != nil && result.Stage.Failed > 0 {
		util.WarnLog("%d files failed to stage; see 'ordb status' for the errors", result.Stage.Failed)
	}
	return nil
}
