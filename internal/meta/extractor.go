// Package meta extracts the date, music tags and MIME type of a file.
package meta

import (
	"os"
	"strings"
	"time"

	"github.com/dhowden/tag"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rwcarlsen/goexif/exif"
)

// Date sources, in order of preference
const (
	DateExifOriginal = "EXIF_ORIGINAL"
	DateSuspicious   = "SUSPICIOUS"
	DateFilesystem   = "FILESYSTEM"
	DateNone         = "NONE"
)

// UnknownTag is used for missing artist or album tags
const UnknownTag = "Unknown"

// DefaultSuspiciousBefore is the first year considered plausible for a capture date
const DefaultSuspiciousBefore = 1990

const exifTimeLayout = "2006:01:02 15:04:05"

// DateInfo is the best known capture date of a file
type DateInfo struct {
	Source string
	Value  string // RFC 3339, empty when Source is NONE
}

// MusicInfo holds the tags used to place audio files
type MusicInfo struct {
	Artist string
	Album  string
}

// Extractor reads metadata from files on disk
type Extractor struct {
	// SuspiciousBefore marks dates with an earlier year as SUSPICIOUS
	SuspiciousBefore int
}

// New creates an extractor with default settings
func New() *Extractor {
	return &Extractor{SuspiciousBefore: DefaultSuspiciousBefore}
}

// ExtractDate returns the EXIF original capture date when present, otherwise
// the file's modification time. Dates before SuspiciousBefore are reported
// as SUSPICIOUS whichever source they came from.
func (e *Extractor) ExtractDate(path string) DateInfo {
	if t, ok := exifDate(path); ok {
		return DateInfo{Source: e.classify(t, DateExifOriginal), Value: t.Format(time.RFC3339)}
	}

	info, err := os.Stat(path)
	if err != nil {
		return DateInfo{Source: DateNone}
	}
	t := info.ModTime()
	return DateInfo{Source: e.classify(t, DateFilesystem), Value: t.Format(time.RFC3339)}
}

func (e *Extractor) classify(t time.Time, source string) string {
	if t.Year() < e.SuspiciousBefore {
		return DateSuspicious
	}
	return source
}

func exifDate(path string) (time.Time, bool) {
	f, err := os.Open(path)
	if err != nil {
		return time.Time{}, false
	}
	defer f.Close()

	// Decode can return partial data alongside an error
	x, _ := exif.Decode(f)
	if x == nil {
		return time.Time{}, false
	}

	tg, err := x.Get(exif.DateTimeOriginal)
	if err != nil {
		return time.Time{}, false
	}
	raw, err := tg.StringVal()
	if err != nil {
		return time.Time{}, false
	}
	raw = strings.TrimSpace(strings.TrimRight(raw, "\x00"))

	// No timezone is recorded; treat as UTC
	t, err := time.ParseInLocation(exifTimeLayout, raw, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ExtractMusicTags reads artist and album tags. Missing tags and unreadable
// files yield UnknownTag.
func (e *Extractor) ExtractMusicTags(path string) MusicInfo {
	info := MusicInfo{Artist: UnknownTag, Album: UnknownTag}

	f, err := os.Open(path)
	if err != nil {
		return info
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return info
	}

	if artist := strings.TrimSpace(m.Artist()); artist != "" {
		info.Artist = artist
	}
	if album := strings.TrimSpace(m.Album()); album != "" {
		info.Album = album
	}
	return info
}

// DetectMime sniffs the MIME type from file content. Parameters such as
// charset are stripped.
func DetectMime(path string) (string, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", err
	}
	base, _, _ := strings.Cut(mt.String(), ";")
	return strings.TrimSpace(base), nil
}
