package util

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCanonicalPath_ResolvesSymlinks(t *testing.T) {
	tmpDir := t.TempDir()
	realDir := filepath.Join(tmpDir, "real")
	if err := os.MkdirAll(realDir, 0755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	link := filepath.Join(tmpDir, "link")
	if err := os.Symlink(realDir, link); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	got, err := CanonicalPath(link)
	if err != nil {
		t.Fatalf("CanonicalPath failed: %v", err)
	}

	want, _ := filepath.EvalSymlinks(realDir)
	if got != want {
		t.Errorf("CanonicalPath(%s) = %s, expected %s", link, got, want)
	}
}

func TestCanonicalPath_MissingPath(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "does", "not", "exist")

	got, err := CanonicalPath(missing)
	if err != nil {
		t.Fatalf("CanonicalPath failed: %v", err)
	}
	if got != filepath.Clean(missing) {
		t.Errorf("CanonicalPath(%s) = %s, expected cleaned input", missing, got)
	}
}

func TestIsSameFilesystem(t *testing.T) {
	tmpDir := t.TempDir()
	a := filepath.Join(tmpDir, "a")
	b := filepath.Join(tmpDir, "b")
	os.MkdirAll(a, 0755)
	os.MkdirAll(b, 0755)

	same, err := IsSameFilesystem(a, b)
	if err != nil {
		t.Fatalf("IsSameFilesystem failed: %v", err)
	}
	if !same {
		t.Error("Expected sibling directories to share a filesystem")
	}

	if _, err := IsSameFilesystem(a, filepath.Join(tmpDir, "missing")); err == nil {
		t.Error("Expected error for missing path")
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes    int64
		expected string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
		{-1, "0 B"},
	}

	for _, tt := range tests {
		if got := FormatBytes(tt.bytes); got != tt.expected {
			t.Errorf("FormatBytes(%d) = %s, expected %s", tt.bytes, got, tt.expected)
		}
	}
}
