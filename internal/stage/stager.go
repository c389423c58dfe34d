// Package stage copies projected primaries into the destination tree.
package stage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/afero"

	"github.com/franz/ordb/internal/hash"
	"github.com/franz/ordb/internal/report"
	"github.com/franz/ordb/internal/store"
	"github.com/franz/ordb/internal/util"
)

// Verification modes applied after a copy
const (
	VerifyNone = "none"
	VerifySize = "size"
	VerifyHash = "hash"
)

// DefaultReportPath is where dry runs write their report
const DefaultReportPath = "dry_run_report.txt"

const partSuffix = ".part"

// Stager copies PRIMARY records with a destination and records the outcome
type Stager struct {
	store       *store.Store
	fs          afero.Fs
	concurrency int
	verifyMode  string
	bufferSize  int
	retryConfig *util.RetryConfig
	dryRun      bool
	reportPath  string
	logger      *report.EventLogger
}

// Config holds stager configuration
type Config struct {
	Store       *store.Store
	Fs          afero.Fs // nil = OS filesystem
	Concurrency int
	VerifyMode  string            // "none", "size", "hash"
	BufferSize  int               // 0 = default
	RetryConfig *util.RetryConfig // nil = default
	DryRun      bool
	ReportPath  string // dry-run report, "" = DefaultReportPath
	Logger      *report.EventLogger
}

// New creates a new Stager
func New(cfg *Config) *Stager {
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.VerifyMode == "" {
		cfg.VerifyMode = VerifySize
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 128 * 1024
	}
	if cfg.RetryConfig == nil {
		cfg.RetryConfig = util.DefaultRetryConfig()
	}
	if cfg.ReportPath == "" {
		cfg.ReportPath = DefaultReportPath
	}

	return &Stager{
		store:       cfg.Store,
		fs:          cfg.Fs,
		concurrency: cfg.Concurrency,
		verifyMode:  cfg.VerifyMode,
		bufferSize:  cfg.BufferSize,
		retryConfig: cfg.RetryConfig,
		dryRun:      cfg.DryRun,
		reportPath:  cfg.ReportPath,
		logger:      cfg.Logger,
	}
}

// Result represents staging results
type Result struct {
	Processed    int
	Succeeded    int
	Failed       int
	BytesWritten int64
	ReportPath   string // set for dry runs
}

// Stage copies every stageable record. In dry-run mode nothing is copied
// and no status changes; the planned moves are written to the report file.
func (s *Stager) Stage(ctx context.Context) (*Result, error) {
	files, err := s.store.GetStageable(ctx)
	if err != nil {
		return nil, err
	}

	if s.dryRun {
		return s.writeReport(files)
	}

	if len(files) == 0 {
		util.InfoLog("No files to stage")
		return &Result{}, nil
	}

	total := len(files)
	util.InfoLog("Staging %d files", total)

	var processed, succeeded, failed, bytesWritten atomic.Int64

	progressCtx, cancelProgress := context.WithCancel(ctx)
	defer cancelProgress()

	var bar *progressbar.ProgressBar
	if util.IsTerminal(os.Stdout.Fd()) && !util.IsQuiet() {
		bar = progressbar.NewOptions(total,
			progressbar.OptionSetDescription("Staging"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionThrottle(200*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
	} else {
		go func() {
			ticker := time.NewTicker(2 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-progressCtx.Done():
					return
				case <-ticker.C:
					if p := processed.Load(); p > 0 {
						util.InfoLog("Staging: %d/%d (%.1f%%) - ok: %d, failed: %d, written: %s",
							p, total, float64(p)/float64(total)*100,
							succeeded.Load(), failed.Load(), util.FormatBytes(bytesWritten.Load()))
					}
				}
			}
		}()
	}

	p := pool.New().WithMaxGoroutines(s.concurrency)
	for _, f := range files {
		if ctx.Err() != nil {
			break
		}
		f := f
		p.Go(func() {
			n, err := s.stageFile(ctx, f)
			if ctx.Err() != nil {
				return
			}
			processed.Add(1)
			if bar != nil {
				bar.Add(1)
			}
			if err != nil {
				failed.Add(1)
				return
			}
			succeeded.Add(1)
			bytesWritten.Add(n)
		})
	}
	p.Wait()
	cancelProgress()

	if bar != nil {
		bar.Finish()
	}

	result := &Result{
		Processed:    int(processed.Load()),
		Succeeded:    int(succeeded.Load()),
		Failed:       int(failed.Load()),
		BytesWritten: bytesWritten.Load(),
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	util.SuccessLog("Staging complete: %d staged, %d failed, %s written",
		result.Succeeded, result.Failed, util.FormatBytes(result.BytesWritten))

	return result, nil
}

// stageFile copies one record and persists STAGED_OK or STAGED_ERROR.
// Cancellation leaves the record PRIMARY so the next run retries it.
func (s *Stager) stageFile(ctx context.Context, f *store.File) (int64, error) {
	start := time.Now()
	n, err := s.place(ctx, f)
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}

	to := store.StatusStagedOK
	fields := store.TransitionFields{}
	if err != nil {
		to = store.StatusStagedError
		fields.Error = err.Error()
		util.ErrorLog("Failed to stage %s: %v", f.SourcePath, err)
	} else {
		util.DebugLog("Staged: %s -> %s (%s)", f.SourcePath, f.DestPath, util.FormatBytes(n))
	}

	s.logger.LogStage(f.ID, f.SourcePath, f.DestPath, n, time.Since(start), err)

	if terr := s.store.Transition(ctx, f.ID, store.StatusPrimary, to, fields); terr != nil {
		if errors.Is(terr, store.ErrStaleTransition) {
			util.DebugLog("File %d already left PRIMARY: %v", f.ID, terr)
		} else {
			util.ErrorLog("Failed to record staging outcome for %s: %v", f.SourcePath, terr)
		}
		if err == nil {
			err = terr
		}
	}
	return n, err
}

// place ensures f.DestPath holds the content of f. A destination that already
// holds the same content (an earlier run stopped before recording it) counts
// as done; different content there is an error, never overwritten.
func (s *Stager) place(ctx context.Context, f *store.File) (int64, error) {
	if info, err := s.fs.Stat(f.DestPath); err == nil {
		same, herr := s.sameContent(ctx, f.DestPath, f.ContentHash)
		if herr != nil {
			return 0, herr
		}
		if !same {
			return 0, fmt.Errorf("destination %s already exists with different content", f.DestPath)
		}
		return info.Size(), nil
	}

	n, err := s.copyFile(ctx, f.SourcePath, f.DestPath)
	if err != nil {
		return 0, classifyError(err)
	}

	switch s.verifyMode {
	case VerifySize:
		info, err := s.fs.Stat(f.DestPath)
		if err != nil {
			return n, fmt.Errorf("verification failed: %w", err)
		}
		if info.Size() != f.SizeBytes {
			return n, fmt.Errorf("verification failed: size %d, expected %d", info.Size(), f.SizeBytes)
		}
	case VerifyHash:
		same, err := s.sameContent(ctx, f.DestPath, f.ContentHash)
		if err != nil {
			return n, fmt.Errorf("verification failed: %w", err)
		}
		if !same {
			return n, fmt.Errorf("verification failed: content hash mismatch")
		}
	}
	return n, nil
}

func (s *Stager) sameContent(ctx context.Context, path, contentHash string) (bool, error) {
	r, err := s.fs.Open(path)
	if err != nil {
		return false, err
	}
	defer r.Close()

	h, err := hash.Reader(ctx, r)
	if err != nil {
		return false, err
	}
	return h == contentHash, nil
}

// copyFile copies a file atomically using a .part temporary file
func (s *Stager) copyFile(ctx context.Context, srcPath, destPath string) (int64, error) {
	destDir := filepath.Dir(destPath)
	if err := util.Retry(ctx, s.retryConfig, func() error {
		return s.fs.MkdirAll(destDir, 0755)
	}, fmt.Sprintf("mkdir(%s)", destDir)); err != nil {
		return 0, fmt.Errorf("failed to create directory: %w", err)
	}

	src, err := util.RetryWithBackoff(ctx, s.retryConfig, func() (afero.File, error) {
		return s.fs.Open(srcPath)
	}, fmt.Sprintf("open(%s)", srcPath))
	if err != nil {
		return 0, fmt.Errorf("failed to open source: %w", err)
	}
	defer src.Close()

	tempPath := destPath + partSuffix
	dest, err := s.fs.Create(tempPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}

	written, err := copyWithContext(ctx, dest, src, s.bufferSize)
	if cerr := dest.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		s.fs.Remove(tempPath)
		return 0, fmt.Errorf("failed to copy: %w", err)
	}

	if err := util.Retry(ctx, s.retryConfig, func() error {
		return s.fs.Rename(tempPath, destPath)
	}, fmt.Sprintf("rename(%s)", tempPath)); err != nil {
		s.fs.Remove(tempPath)
		return 0, fmt.Errorf("failed to rename: %w", err)
	}

	return written, nil
}

// classifyError tags out-of-space and permission failures with util sentinels
func classifyError(err error) error {
	switch {
	case errors.Is(err, syscall.ENOSPC):
		return fmt.Errorf("%w: %v", util.ErrDiskFull, err)
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("%w: %v", util.ErrPermission, err)
	}
	return err
}

// copyWithContext copies data with context cancellation support
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader, bufferSize int) (int64, error) {
	buf := make([]byte, bufferSize)
	var written int64

	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		nr, er := src.Read(buf)
		if nr > 0 {
			nw, ew := dst.Write(buf[0:nr])
			written += int64(nw)
			if ew != nil {
				return written, ew
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
		}
		if er != nil {
			if er != io.EOF {
				return written, er
			}
			return written, nil
		}
	}
}

// writeReport renders the planned moves as a table followed by the total
func (s *Stager) writeReport(files []*store.File) (*Result, error) {
	rows := make([][]string, 0, len(files))
	var total int64
	for _, f := range files {
		rows = append(rows, []string{f.SourcePath, f.DestPath})
		total += f.SizeBytes
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Dry run report - %s\n\n", time.Now().Format("2006-01-02 15:04:05"))
	if len(rows) > 0 {
		b.WriteString(report.RenderPlainTable([]string{"Source", "Destination"}, rows, nil))
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Total: %d files (%s)\n", len(files), util.FormatBytes(total))

	if dir := filepath.Dir(s.reportPath); dir != "." {
		if err := s.fs.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	if err := afero.WriteFile(s.fs, s.reportPath, []byte(b.String()), 0644); err != nil {
		return nil, fmt.Errorf("failed to write dry-run report: %w", err)
	}

	s.logger.LogDryRun(s.reportPath, len(files), total)
	util.SuccessLog("Dry run: %d files (%s) would be staged, report written to %s",
		len(files), util.FormatBytes(total), s.reportPath)

	return &Result{Processed: len(files), ReportPath: s.reportPath}, nil
}
