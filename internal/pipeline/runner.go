// Package pipeline runs the scan, dedup, enrich and stage phases in order
// against one state database.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/text/language"

	"github.com/franz/ordb/internal/dedup"
	"github.com/franz/ordb/internal/enrich"
	"github.com/franz/ordb/internal/report"
	"github.com/franz/ordb/internal/scan"
	"github.com/franz/ordb/internal/stage"
	"github.com/franz/ordb/internal/store"
	"github.com/franz/ordb/internal/trash"
	"github.com/franz/ordb/internal/util"
)

// DefaultQueueSize bounds the discovery channel between scanner and consumer
const DefaultQueueSize = 100

// ServiceProbe waits for the classification service to accept requests
type ServiceProbe interface {
	WaitReady(ctx context.Context) error
}

// Runner wires the phases together
type Runner struct {
	store      *store.Store
	fs         afero.Fs
	probe      ServiceProbe
	classifier enrich.ImageClassifier
	extractor  enrich.MetadataExtractor
	logger     *report.EventLogger
}

// Config holds runner dependencies
type Config struct {
	Store *store.Store
	Fs    afero.Fs // staging filesystem, nil = OS filesystem

	// Probe and Classifier are only used when Options.Classify is set
	Probe      ServiceProbe
	Classifier enrich.ImageClassifier

	Extractor enrich.MetadataExtractor // nil = meta.New()
	Logger    *report.EventLogger
}

// New creates a Runner
func New(cfg *Config) *Runner {
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	return &Runner{
		store:      cfg.Store,
		fs:         cfg.Fs,
		probe:      cfg.Probe,
		classifier: cfg.Classifier,
		extractor:  cfg.Extractor,
		logger:     cfg.Logger,
	}
}

// Options describe one invocation
type Options struct {
	Sources     []string
	Destination string

	DryRun   bool
	Fresh    bool // discard all recorded state first
	Classify bool

	Concurrency int
	QueueSize   int
	VerifyMode  string
	ReportPath  string
	Language    language.Tag
}

// Result collects the outcome of every phase
type Result struct {
	RunID       string
	Destination string

	Scan       *scan.Result
	Primaries  int
	Duplicates int
	Skipped    int

	Enrich *enrich.Result
	Stage  *stage.Result

	Duration time.Duration
}

// Run executes the whole pipeline. Startup failures (bad arguments, service
// not ready) are returned before anything is written. After that every
// per-file outcome is persisted as it happens, so an interrupted run can be
// resumed by running again. The error that ends a run is recorded in the
// event log.
func (r *Runner) Run(ctx context.Context, opts Options) (*Result, error) {
	result, err := r.run(ctx, opts)
	if err != nil {
		r.logger.LogError(report.EventError, "", err)
	}
	return result, err
}

func (r *Runner) run(ctx context.Context, opts Options) (*Result, error) {
	start := time.Now()

	dest, roots, err := validate(opts)
	if err != nil {
		return nil, err
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}

	if opts.Classify && r.probe != nil {
		util.InfoLog("Waiting for classification service...")
		if err := r.probe.WaitReady(ctx); err != nil {
			return nil, err
		}
		util.SuccessLog("Classification service ready")
	}

	if opts.Fresh {
		util.WarnLog("Discarding recorded state (--fresh)")
		if err := r.store.Clear(ctx); err != nil {
			return nil, err
		}
	}

	for _, root := range roots {
		if err := r.store.AddSourceRoot(ctx, root); err != nil {
			return nil, err
		}
	}

	run, err := r.store.StartRun(ctx, dest, opts.DryRun)
	if err != nil {
		return nil, err
	}
	r.logger.SetRunID(run.ID)
	util.InfoLog("Run %s: %d source(s) -> %s", run.ID, len(roots), dest)

	result := &Result{RunID: run.ID, Destination: dest}

	util.InfoLog("=== Scan ===")
	if err := r.scanAndDedup(ctx, roots, dest, opts, result); err != nil {
		return result, err
	}

	util.InfoLog("=== Enrich ===")
	var classifier enrich.ImageClassifier
	if opts.Classify {
		classifier = r.classifier
	}
	enricher := enrich.New(&enrich.Config{
		Store:      r.store,
		Extractor:  r.extractor,
		Classifier: classifier,
		Language:   opts.Language,
		Logger:     r.logger,
	})
	result.Enrich, err = enricher.Enrich(ctx, dest)
	if err != nil {
		return result, fmt.Errorf("enrichment failed: %w", err)
	}

	if opts.DryRun {
		util.InfoLog("=== Dry run ===")
	} else {
		util.InfoLog("=== Stage ===")
	}
	stager := stage.New(&stage.Config{
		Store:       r.store,
		Fs:          r.fs,
		Concurrency: opts.Concurrency,
		VerifyMode:  opts.VerifyMode,
		DryRun:      opts.DryRun,
		ReportPath:  opts.ReportPath,
		Logger:      r.logger,
	})
	result.Stage, err = stager.Stage(ctx)
	if err != nil {
		return result, fmt.Errorf("staging failed: %w", err)
	}

	if err := r.store.FinishRun(ctx, run.ID); err != nil {
		return result, err
	}
	result.Duration = time.Since(start)
	return result, nil
}

// scanAndDedup runs the scanner and records every discovery. This goroutine
// is the only writer of scan results.
func (r *Runner) scanAndDedup(ctx context.Context, roots []string, dest string, opts Options, result *Result) error {
	known, err := r.store.KnownStatuses(ctx)
	if err != nil {
		return err
	}
	util.DebugLog("%d paths already recorded", len(known))

	scanner := scan.New(&scan.Config{
		Concurrency:  opts.Concurrency,
		ExcludePaths: []string{dest},
		ExcludeNames: []string{trash.DirName},
		Logger:       r.logger,
	})

	scanCtx, cancelScan := context.WithCancel(ctx)
	defer cancelScan()

	discoveries := make(chan scan.Discovery, opts.QueueSize)
	type scanOutcome struct {
		result *scan.Result
		err    error
	}
	done := make(chan scanOutcome, 1)
	go func() {
		res, err := scanner.Scan(scanCtx, roots, known, discoveries)
		done <- scanOutcome{res, err}
	}()

	index := dedup.New(r.store)
	var recordErr error
	for d := range discoveries {
		if recordErr != nil {
			continue
		}
		if err := r.record(ctx, index, d, result); err != nil {
			recordErr = fmt.Errorf("failed to record %s: %w", d.Path, err)
			cancelScan()
		}
	}

	outcome := <-done
	result.Scan = outcome.result

	if recordErr != nil {
		return recordErr
	}
	if outcome.err != nil {
		return outcome.err
	}
	for _, err := range outcome.result.Errors {
		util.WarnLog("%v", err)
	}

	util.InfoLog("Dedup: %d primary, %d duplicate, %d skipped", result.Primaries, result.Duplicates, result.Skipped)
	return nil
}

func (r *Runner) record(ctx context.Context, index *dedup.Index, d scan.Discovery, result *Result) error {
	id, err := r.store.InsertFile(ctx, d.Path, d.Size, d.MimeType)
	if err != nil {
		return err
	}

	if d.Skipped() {
		if err := index.Skip(ctx, id, d.SkipReason); err != nil {
			return err
		}
		result.Skipped++
		r.logger.LogSkip(d.Path, d.SkipReason)
		util.DebugLog("Skipped %s: %s", d.Path, d.SkipReason)
		return nil
	}

	res, err := index.Classify(ctx, id, d.Hash)
	if err != nil {
		return err
	}
	if res.Status == store.StatusDuplicate {
		result.Duplicates++
		r.logger.LogDuplicate(id, d.Path, d.Hash, res.PrimaryID)
	} else {
		result.Primaries++
		r.logger.LogPrimary(id, d.Path, d.Hash)
	}
	return nil
}

// validate resolves the destination and canonical source roots
func validate(opts Options) (string, []string, error) {
	if opts.Destination == "" {
		return "", nil, util.ErrMissingDestination
	}
	if len(opts.Sources) == 0 {
		return "", nil, util.ErrMissingSource
	}

	// The destination may not exist yet
	dest, err := util.CanonicalPath(opts.Destination)
	if err != nil {
		return "", nil, fmt.Errorf("invalid destination %s: %w", opts.Destination, err)
	}

	seen := make(map[string]bool)
	roots := make([]string, 0, len(opts.Sources))
	for _, src := range opts.Sources {
		canonical, err := util.CanonicalPath(src)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %s: %v", util.ErrMissingSource, src, err)
		}
		info, err := os.Stat(canonical)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %s: %v", util.ErrMissingSource, src, err)
		}
		if !info.IsDir() {
			return "", nil, fmt.Errorf("%w: %s is not a directory", util.ErrMissingSource, src)
		}
		if canonical == dest {
			return "", nil, fmt.Errorf("%w: source %s is the destination", util.ErrInvalidConfig, src)
		}
		// commit moves whole roots to the trash, staged output included
		if rel, err := filepath.Rel(canonical, dest); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", nil, fmt.Errorf("%w: destination %s is inside source %s", util.ErrInvalidConfig, dest, src)
		}
		if !seen[canonical] {
			seen[canonical] = true
			roots = append(roots, canonical)
		}
	}
	return dest, roots, nil
}
