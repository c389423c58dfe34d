package scan

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/franz/ordb/internal/hash"
	"github.com/franz/ordb/internal/meta"
	"github.com/franz/ordb/internal/report"
	"github.com/franz/ordb/internal/store"
	"github.com/franz/ordb/internal/util"
	"github.com/schollz/progressbar/v3"
	"github.com/sourcegraph/conc/pool"
)

// EmptyFileReason is recorded for zero-byte files, which are never hashed
var EmptyFileReason = util.ErrEmptyFile.Error()

// Discovery is one file found under a source root. Exactly one of Hash and
// SkipReason is set.
type Discovery struct {
	Path       string
	Size       int64
	MimeType   string
	Hash       string
	SkipReason string
}

// Skipped reports whether the file could not be hashed
func (d Discovery) Skipped() bool {
	return d.SkipReason != ""
}

// Scanner walks source roots and hashes the files it finds
type Scanner struct {
	concurrency  int
	excludePaths map[string]bool
	excludeNames map[string]bool
	logger       *report.EventLogger
}

// Config holds scanner configuration
type Config struct {
	Concurrency int

	// ExcludePaths are canonical directories that are never descended into
	ExcludePaths []string

	// ExcludeNames are directory base names that are never descended into
	ExcludeNames []string

	Logger *report.EventLogger
}

// New creates a new Scanner
func New(cfg *Config) *Scanner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	s := &Scanner{
		concurrency:  cfg.Concurrency,
		excludePaths: make(map[string]bool),
		excludeNames: make(map[string]bool),
		logger:       cfg.Logger,
	}
	for _, p := range cfg.ExcludePaths {
		s.excludePaths[filepath.Clean(p)] = true
	}
	for _, n := range cfg.ExcludeNames {
		s.excludeNames[n] = true
	}
	return s
}

// Result summarizes a scan
type Result struct {
	FilesFound   int // regular files seen under the roots
	FilesKnown   int // already past PENDING, not re-hashed
	FilesHashed  int
	FilesSkipped int // empty or unreadable
	Errors       []error
}

// Scan walks every root and sends a Discovery for each regular file whose
// canonical path is unknown or still PENDING in known. Hashing runs on a
// bounded pool; sends block while out is full. out is closed on return.
func (s *Scanner) Scan(ctx context.Context, roots []string, known map[string]store.Status, out chan<- Discovery) (*Result, error) {
	defer close(out)

	result := &Result{Errors: make([]error, 0)}
	var errMu sync.Mutex
	addErr := func(err error) {
		errMu.Lock()
		result.Errors = append(result.Errors, err)
		errMu.Unlock()
	}

	var filesFound, filesKnown, filesHashed, filesSkipped atomic.Int64

	progressCtx, cancelProgress := context.WithCancel(ctx)
	defer cancelProgress()

	isTTY := util.IsTerminal(os.Stdout.Fd())
	var bar *progressbar.ProgressBar
	if isTTY && !util.IsQuiet() {
		bar = progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("Scanning"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("files"),
			progressbar.OptionThrottle(200*time.Millisecond),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetRenderBlankState(true),
		)
	}

	go func() {
		interval := 5 * time.Second
		if bar != nil {
			interval = time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-progressCtx.Done():
				return
			case <-ticker.C:
				found := filesFound.Load()
				done := filesHashed.Load() + filesSkipped.Load()
				if bar != nil {
					bar.Describe(fmt.Sprintf("Scanning | %d found | %d hashed | %d known | %d skipped",
						found, filesHashed.Load(), filesKnown.Load(), filesSkipped.Load()))
					bar.Set64(done)
				} else if found > 0 {
					util.InfoLog("Progress: found %d files, processed %d (known: %d)",
						found, done, filesKnown.Load())
				}
			}
		}
	}()

	p := pool.New().WithMaxGoroutines(s.concurrency)
	seen := make(map[string]bool)

	var walkErr error
	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			if err != nil {
				util.WarnLog("Error accessing path %s: %v", path, err)
				addErr(fmt.Errorf("access error: %s: %w", path, err))
				return nil
			}

			if d.IsDir() {
				if path != root && (s.excludeNames[d.Name()] || s.excludePaths[filepath.Clean(path)]) {
					util.DebugLog("Skipping excluded directory: %s", path)
					return filepath.SkipDir
				}
				return nil
			}

			// Sockets, devices and the like are not files to organize
			if d.Type()&fs.ModeType != 0 && d.Type()&fs.ModeSymlink == 0 {
				return nil
			}

			canonical, err := util.CanonicalPath(path)
			if err != nil {
				addErr(fmt.Errorf("canonicalize %s: %w", path, err))
				return nil
			}
			if seen[canonical] {
				return nil
			}
			seen[canonical] = true

			if d.Type()&fs.ModeSymlink != 0 {
				info, err := os.Stat(canonical)
				if err != nil || !info.Mode().IsRegular() {
					return nil
				}
			}

			filesFound.Add(1)
			if status, ok := known[canonical]; ok && status != store.StatusPending {
				filesKnown.Add(1)
				util.DebugLog("Already processed (%s): %s", status, canonical)
				return nil
			}

			p.Go(func() {
				disc := s.inspect(ctx, canonical)
				if ctx.Err() != nil {
					// An interrupted read is not a property of the file
					return
				}
				if disc.Skipped() {
					filesSkipped.Add(1)
				} else {
					filesHashed.Add(1)
					s.logger.LogScan(disc.Path, disc.Size, disc.MimeType)
				}
				select {
				case out <- disc:
				case <-ctx.Done():
				}
			})
			return nil
		})
		if err != nil {
			walkErr = err
			break
		}
	}

	p.Wait()
	cancelProgress()

	if bar != nil {
		bar.Finish()
	}

	result.FilesFound = int(filesFound.Load())
	result.FilesKnown = int(filesKnown.Load())
	result.FilesHashed = int(filesHashed.Load())
	result.FilesSkipped = int(filesSkipped.Load())

	if walkErr != nil {
		if errors.Is(walkErr, context.Canceled) || errors.Is(walkErr, context.DeadlineExceeded) {
			return result, walkErr
		}
		return result, fmt.Errorf("walk error: %w", walkErr)
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	util.SuccessLog("Scan complete: %d files found, %d hashed, %d already processed, %d skipped",
		result.FilesFound, result.FilesHashed, result.FilesKnown, result.FilesSkipped)

	return result, nil
}

// inspect stats, hashes and sniffs a single file. Failures become a skip
// reason carrying the I/O error text.
func (s *Scanner) inspect(ctx context.Context, path string) Discovery {
	disc := Discovery{Path: path}

	info, err := os.Stat(path)
	if err != nil {
		disc.SkipReason = err.Error()
		return disc
	}
	disc.Size = info.Size()

	if disc.Size == 0 {
		disc.SkipReason = EmptyFileReason
		return disc
	}

	h, err := hash.File(ctx, path)
	if err != nil {
		disc.SkipReason = err.Error()
		return disc
	}
	disc.Hash = h

	if mt, err := meta.DetectMime(path); err == nil {
		disc.MimeType = mt
	} else {
		util.DebugLog("MIME detection failed for %s: %v", path, err)
	}

	return disc
}
