// Package trash finalizes or undoes a run: commit moves source roots into a
// sibling trash directory, rollback deletes the destination tree and resets
// the state, purge empties the trash.
package trash

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/franz/ordb/internal/report"
	"github.com/franz/ordb/internal/store"
	"github.com/franz/ordb/internal/util"
)

// DirName is the trash directory created next to each source root
const DirName = "_trash_ordb"

var (
	// ErrDeclined means the operator answered no; nothing was changed
	ErrDeclined = errors.New("operation declined")

	// ErrForceRequired is returned by Purge without force; nothing was changed
	ErrForceRequired = errors.New("purge permanently deletes the trash and requires --force")
)

// DirFor returns the trash directory used for a source root
func DirFor(root string) string {
	return filepath.Join(filepath.Dir(filepath.Clean(root)), DirName)
}

// Controller runs commit, rollback and purge against the persisted state
type Controller struct {
	store       *store.Store
	fs          afero.Fs
	retryConfig *util.RetryConfig
	logger      *report.EventLogger
	now         func() time.Time
}

// Config holds controller configuration
type Config struct {
	Store       *store.Store
	Fs          afero.Fs          // nil = OS filesystem
	RetryConfig *util.RetryConfig // nil = default
	Logger      *report.EventLogger
}

// New creates a Controller
func New(cfg *Config) *Controller {
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	if cfg.RetryConfig == nil {
		cfg.RetryConfig = util.DefaultRetryConfig()
	}
	return &Controller{
		store:       cfg.Store,
		fs:          cfg.Fs,
		retryConfig: cfg.RetryConfig,
		logger:      cfg.Logger,
		now:         time.Now,
	}
}

// CommitResult summarizes a commit
type CommitResult struct {
	Renamed int // moved with a single rename
	Copied  int // moved with copy + delete
	Missing int // roots that no longer exist
	Failed  int
	Targets map[string]string // source root -> trash location
}

// Commit moves every recorded source root into its trash directory. Each
// root is first renamed; when that fails it is copied and then deleted.
// Missing roots are skipped. Failures are collected and returned together
// after all roots have been attempted.
func (c *Controller) Commit(ctx context.Context) (*CommitResult, error) {
	result := &CommitResult{Targets: make(map[string]string)}

	roots, err := c.store.GetSourceRoots(ctx)
	if err != nil {
		return nil, err
	}
	if len(roots) == 0 {
		util.InfoLog("No source directories recorded, run the pipeline first")
		return result, nil
	}

	c.warnUnfinished(ctx)

	var errs []error
	for _, root := range roots {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		target, copied, err := c.commitRoot(ctx, root.Path)
		switch {
		case errors.Is(err, util.ErrNotFound):
			result.Missing++
			util.WarnLog("Source %s no longer exists, skipping", root.Path)
			continue
		case err != nil:
			result.Failed++
			util.ErrorLog("Failed to move %s to trash: %v", root.Path, err)
			c.logger.LogTrash(report.EventCommit, root.Path, target, err)
			errs = append(errs, fmt.Errorf("%s: %w", root.Path, err))
			continue
		}

		if copied {
			result.Copied++
		} else {
			result.Renamed++
		}
		result.Targets[root.Path] = target
		c.logger.LogTrash(report.EventCommit, root.Path, target, nil)
		util.SuccessLog("Moved %s -> %s", root.Path, target)
	}

	return result, errors.Join(errs...)
}

func (c *Controller) warnUnfinished(ctx context.Context) {
	counts, err := c.store.CountByStatus(ctx)
	if err != nil {
		util.WarnLog("Could not check staging state: %v", err)
		return
	}
	if n := counts[store.StatusPrimary]; n > 0 {
		util.WarnLog("%d primary files were never staged; their originals go to the trash too", n)
	}
	if n := counts[store.StatusStagedError]; n > 0 {
		util.WarnLog("%d files failed to stage; their originals go to the trash too", n)
	}
	if n := counts[store.StatusPending]; n > 0 {
		util.WarnLog("%d files are still pending", n)
	}
}

// commitRoot moves one root, returning the trash location and whether the
// copy fallback was used
func (c *Controller) commitRoot(ctx context.Context, root string) (string, bool, error) {
	if _, err := c.fs.Stat(root); err != nil {
		if os.IsNotExist(err) {
			return "", false, util.ErrNotFound
		}
		return "", false, err
	}

	trashDir := DirFor(root)
	if err := util.Retry(ctx, c.retryConfig, func() error {
		return c.fs.MkdirAll(trashDir, 0755)
	}, fmt.Sprintf("mkdir(%s)", trashDir)); err != nil {
		return "", false, fmt.Errorf("failed to create trash directory: %w", err)
	}

	target, err := c.uniqueTarget(trashDir, filepath.Base(root))
	if err != nil {
		return "", false, err
	}

	if _, onDisk := c.fs.(*afero.OsFs); onDisk {
		if same, err := util.IsSameFilesystem(root, trashDir); err == nil && !same {
			util.InfoLog("%s is on a different filesystem than %s, expect a copy", root, trashDir)
		}
	}

	util.InfoLog("Moving %s to %s", root, target)
	renameErr := util.Retry(ctx, c.retryConfig, func() error {
		return c.fs.Rename(root, target)
	}, fmt.Sprintf("rename(%s)", root))
	if renameErr == nil {
		return target, false, nil
	}

	util.WarnLog("Rename of %s failed (%v), falling back to copy + delete", root, renameErr)

	if err := util.Retry(ctx, c.retryConfig, func() error {
		return c.copyTree(ctx, root, target)
	}, fmt.Sprintf("copy(%s)", root)); err != nil {
		return target, true, fmt.Errorf("copy to trash failed: %w", err)
	}
	util.InfoLog("Copied %s to %s", root, target)

	if err := util.Retry(ctx, c.retryConfig, func() error {
		return c.fs.RemoveAll(root)
	}, fmt.Sprintf("remove(%s)", root)); err != nil {
		return target, true, fmt.Errorf("copied to %s but removing the original failed: %w", target, err)
	}
	util.InfoLog("Removed %s", root)

	return target, true, nil
}

// uniqueTarget returns trashDir/name, or a timestamped variant when taken
func (c *Controller) uniqueTarget(trashDir, name string) (string, error) {
	target := filepath.Join(trashDir, name)
	exists, err := afero.Exists(c.fs, target)
	if err != nil {
		return "", err
	}
	if !exists {
		return target, nil
	}

	stamp := c.now().Format("20060102-150405")
	for i := 0; i < 100; i++ {
		candidate := filepath.Join(trashDir, fmt.Sprintf("%s_%s", name, stamp))
		if i > 0 {
			candidate = fmt.Sprintf("%s_%d", candidate, i)
		}
		exists, err := afero.Exists(c.fs, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free trash name for %s in %s", name, trashDir)
}

// copyTree recursively copies src to dst, preserving modes and symlinks
func (c *Controller) copyTree(ctx context.Context, src, dst string) error {
	return afero.Walk(c.fs, src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case info.IsDir():
			return c.fs.MkdirAll(target, info.Mode().Perm())
		case info.Mode()&os.ModeSymlink != 0:
			return c.copySymlink(path, target)
		case info.Mode().IsRegular():
			return c.copyFile(path, target, info.Mode().Perm())
		}
		util.WarnLog("Skipping special file %s", path)
		return nil
	})
}

func (c *Controller) copySymlink(path, target string) error {
	reader, ok := c.fs.(afero.LinkReader)
	linker, ok2 := c.fs.(afero.Linker)
	if !ok || !ok2 {
		return fmt.Errorf("cannot copy symlink %s on this filesystem", path)
	}
	dest, err := reader.ReadlinkIfPossible(path)
	if err != nil {
		return err
	}
	return linker.SymlinkIfPossible(dest, target)
}

func (c *Controller) copyFile(path, target string, perm os.FileMode) error {
	in, err := c.fs.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := c.fs.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// RollbackResult summarizes a rollback
type RollbackResult struct {
	Directories []string // top-level destination directories considered
	Removed     int
	Reset       int64 // records returned to PENDING
}

// Nothing reports whether there was nothing to roll back
func (r *RollbackResult) Nothing() bool {
	return len(r.Directories) == 0
}

// Rollback deletes the top-level destination directories that hold recorded
// destination paths and resets every record to PENDING. The directories are
// listed to confirmer first; a refusal returns ErrDeclined with no changes.
// When any deletion fails the state is left as is so rollback can be retried.
func (c *Controller) Rollback(ctx context.Context, confirmer Confirmer) (*RollbackResult, error) {
	dirs, err := c.TopLevelDirs(ctx)
	if err != nil {
		return nil, err
	}
	result := &RollbackResult{Directories: dirs}

	if len(dirs) == 0 {
		util.InfoLog("No destination directories found, nothing to roll back")
		return result, nil
	}

	ok, err := confirmer.Confirm("The following destination directories will be deleted:", dirs)
	if err != nil {
		return result, fmt.Errorf("confirmation failed: %w", err)
	}
	if !ok {
		return result, ErrDeclined
	}

	var errs []error
	for _, dir := range dirs {
		util.InfoLog("Removing destination directory %s", dir)
		err := util.Retry(ctx, c.retryConfig, func() error {
			return c.fs.RemoveAll(dir)
		}, fmt.Sprintf("remove(%s)", dir))
		c.logger.LogTrash(report.EventRollback, "", dir, err)
		if err != nil {
			util.ErrorLog("Failed to remove %s: %v", dir, err)
			errs = append(errs, fmt.Errorf("%s: %w", dir, err))
			continue
		}
		result.Removed++
	}
	if len(errs) > 0 {
		return result, errors.Join(errs...)
	}

	result.Reset, err = c.store.ResetAll(ctx)
	if err != nil {
		return result, err
	}

	util.SuccessLog("Rollback complete: %d directories removed, %d records reset", result.Removed, result.Reset)
	return result, nil
}

// TopLevelDirs maps every recorded destination path to the first path
// component under the run destination that contains it
func (c *Controller) TopLevelDirs(ctx context.Context) ([]string, error) {
	paths, err := c.store.GetDistinctDestPaths(ctx)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, nil
	}

	roots, err := c.store.GetDestinations(ctx)
	if err != nil {
		return nil, err
	}

	set := make(map[string]bool)
	for _, p := range paths {
		top, ok := topLevel(p, roots)
		if !ok {
			util.WarnLog("Destination %s is outside every recorded destination root, leaving it alone", p)
			continue
		}
		set[top] = true
	}

	dirs := make([]string, 0, len(set))
	for d := range set {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs, nil
}

func topLevel(path string, roots []string) (string, bool) {
	for _, root := range roots {
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		first, _, _ := strings.Cut(rel, string(filepath.Separator))
		return filepath.Join(root, first), true
	}
	return "", false
}

// PurgeResult summarizes a purge
type PurgeResult struct {
	Removed []string
}

// Purge permanently deletes the trash directory next to every recorded
// source root. It refuses with ErrForceRequired unless force is set.
func (c *Controller) Purge(ctx context.Context, force bool) (*PurgeResult, error) {
	if !force {
		return nil, ErrForceRequired
	}

	roots, err := c.store.GetSourceRoots(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	result := &PurgeResult{}
	var errs []error
	for _, root := range roots {
		dir := DirFor(root.Path)
		if seen[dir] {
			continue
		}
		seen[dir] = true

		exists, err := afero.DirExists(c.fs, dir)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !exists {
			util.DebugLog("No trash at %s", dir)
			continue
		}

		util.InfoLog("Purging trash directory %s", dir)
		err = util.Retry(ctx, c.retryConfig, func() error {
			return c.fs.RemoveAll(dir)
		}, fmt.Sprintf("remove(%s)", dir))
		c.logger.LogTrash(report.EventPurge, dir, "", err)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", dir, err))
			continue
		}
		result.Removed = append(result.Removed, dir)
	}

	if len(errs) == 0 {
		util.SuccessLog("Purge complete: %d trash directories removed", len(result.Removed))
	}
	return result, errors.Join(errs...)
}
