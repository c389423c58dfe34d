package meta

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// buildTIFFWithDate returns a minimal little-endian TIFF whose Exif IFD
// carries DateTimeOriginal
func buildTIFFWithDate(date string) []byte {
	var b bytes.Buffer
	le := binary.LittleEndian
	w := func(v interface{}) { binary.Write(&b, le, v) }

	b.WriteString("II")
	w(uint16(42))
	w(uint32(8))

	// IFD0: one entry pointing at the Exif IFD
	w(uint16(1))
	w(uint16(0x8769))
	w(uint16(4)) // LONG
	w(uint32(1))
	w(uint32(26))
	w(uint32(0))

	// Exif IFD: DateTimeOriginal as ASCII
	value := append([]byte(date), 0)
	w(uint16(1))
	w(uint16(0x9003))
	w(uint16(2)) // ASCII
	w(uint32(len(value)))
	w(uint32(44))
	w(uint32(0))

	b.Write(value)
	return b.Bytes()
}

func createTestFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}
	return path
}

func TestExtractDate_Exif(t *testing.T) {
	dir := t.TempDir()
	e := New()

	tests := []struct {
		name           string
		date           string
		expectedSource string
		expectedValue  string
	}{
		{"original", "2019:06:15 14:30:00", DateExifOriginal, "2019-06-15T14:30:00Z"},
		{"suspicious", "1980:01:01 00:00:00", DateSuspicious, "1980-01-01T00:00:00Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := createTestFile(t, dir, tt.name+".tif", buildTIFFWithDate(tt.date))
			got := e.ExtractDate(path)
			if got.Source != tt.expectedSource {
				t.Errorf("ExtractDate source = %s, expected %s", got.Source, tt.expectedSource)
			}
			if got.Value != tt.expectedValue {
				t.Errorf("ExtractDate value = %s, expected %s", got.Value, tt.expectedValue)
			}
		})
	}
}

func TestExtractDate_FilesystemFallback(t *testing.T) {
	dir := t.TempDir()
	e := New()

	recent := createTestFile(t, dir, "recent.txt", []byte("hello"))
	mtime := time.Date(2021, time.May, 3, 10, 0, 0, 0, time.UTC)
	if err := os.Chtimes(recent, mtime, mtime); err != nil {
		t.Fatalf("Chtimes failed: %v", err)
	}

	got := e.ExtractDate(recent)
	if got.Source != DateFilesystem {
		t.Errorf("expected %s, got %s", DateFilesystem, got.Source)
	}
	parsed, err := time.Parse(time.RFC3339, got.Value)
	if err != nil {
		t.Fatalf("value %q is not RFC 3339: %v", got.Value, err)
	}
	if !parsed.Equal(mtime) {
		t.Errorf("expected %v, got %v", mtime, parsed)
	}

	old := createTestFile(t, dir, "old.txt", []byte("hello"))
	ancient := time.Date(1985, time.January, 1, 0, 0, 0, 0, time.UTC)
	os.Chtimes(old, ancient, ancient)
	if got := e.ExtractDate(old); got.Source != DateSuspicious {
		t.Errorf("expected %s for 1985 mtime, got %s", DateSuspicious, got.Source)
	}
}

func TestExtractDate_Missing(t *testing.T) {
	got := New().ExtractDate(filepath.Join(t.TempDir(), "gone.jpg"))
	if got.Source != DateNone || got.Value != "" {
		t.Errorf("expected NONE with no value, got %+v", got)
	}
}

func TestExtractMusicTags_Defaults(t *testing.T) {
	dir := t.TempDir()
	e := New()

	notAudio := createTestFile(t, dir, "song.mp3", []byte("not really an mp3"))
	got := e.ExtractMusicTags(notAudio)
	if got.Artist != UnknownTag || got.Album != UnknownTag {
		t.Errorf("expected Unknown tags, got %+v", got)
	}

	got = e.ExtractMusicTags(filepath.Join(dir, "missing.mp3"))
	if got.Artist != UnknownTag || got.Album != UnknownTag {
		t.Errorf("expected Unknown tags for missing file, got %+v", got)
	}
}

func TestDetectMime(t *testing.T) {
	dir := t.TempDir()

	png := createTestFile(t, dir, "noext", []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\x0dIHDR"))
	got, err := DetectMime(png)
	if err != nil {
		t.Fatalf("DetectMime failed: %v", err)
	}
	if got != "image/png" {
		t.Errorf("DetectMime(png) = %s, expected image/png", got)
	}

	txt := createTestFile(t, dir, "a.jpg", []byte("plain words, misleading extension\n"))
	got, _ = DetectMime(txt)
	if got != "text/plain" {
		t.Errorf("DetectMime(text) = %s, expected text/plain", got)
	}

	if _, err := DetectMime(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}
