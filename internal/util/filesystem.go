package util

import (
	"os"
	"path/filepath"
	"syscall"

	"github.com/dustin/go-humanize"
)

// CanonicalPath returns the absolute, symlink-resolved form of path.
// When the path cannot be resolved (e.g. it no longer exists) the cleaned
// absolute path is returned instead.
func CanonicalPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return filepath.Clean(abs), nil
	}
	return resolved, nil
}

// IsSameFilesystem checks if two paths are on the same filesystem
// by comparing their device IDs (st_dev).
// Returns (false, err) if either path cannot be stat'd.
func IsSameFilesystem(path1, path2 string) (bool, error) {
	stat1, err := os.Stat(path1)
	if err != nil {
		return false, err
	}

	stat2, err := os.Stat(path2)
	if err != nil {
		return false, err
	}

	sysStat1, ok1 := stat1.Sys().(*syscall.Stat_t)
	sysStat2, ok2 := stat2.Sys().(*syscall.Stat_t)

	if !ok1 || !ok2 {
		// Unknown platform: assume different filesystems so callers expect the slow path
		return false, nil
	}

	return sysStat1.Dev == sysStat2.Dev, nil
}

// FormatBytes formats bytes in human-readable format
func FormatBytes(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	return humanize.IBytes(uint64(bytes))
}
