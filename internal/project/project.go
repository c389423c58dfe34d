// Package project maps file metadata to a destination path under the
// destination root, resolving name collisions between different contents.
package project

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/language"

	"github.com/franz/ordb/internal/hash"
	"github.com/franz/ordb/internal/meta"
)

// Top-level folders and fallback components of the destination tree
const (
	ImagesDir      = "Images"
	MusicDir       = "Music"
	OtherDir       = "Other"
	SuspiciousDate = "Suspicious_Date"
	NoDate         = "No_Date"
	NoExtension    = "No_Extension"
	UnknownArtist  = "Unknown"
	UnknownAlbum   = "Unknown"
	UnknownCat     = "unknown"
)

const collisionPrefixLen = 8

// Input is everything the projection depends on
type Input struct {
	Root        string
	SourcePath  string
	MimeType    string
	Category    string
	DateValue   string // RFC 3339
	DateSource  string
	Artist      string
	Album       string
	ContentHash string
	Language    language.Tag // month names; zero value means English
}

// Kind is the routing class derived from a MIME type
type Kind int

const (
	KindOther Kind = iota
	KindImage
	KindVideo
	KindAudio
)

// KindOf classifies a MIME type for routing
func KindOf(mimeType string) Kind {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return KindImage
	case strings.HasPrefix(mimeType, "video/"):
		return KindVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return KindAudio
	}
	return KindOther
}

// Naive returns the projected path before collision resolution
func Naive(in Input) string {
	name := filepath.Base(in.SourcePath)
	parts := []string{in.Root}

	switch KindOf(in.MimeType) {
	case KindImage, KindVideo:
		parts = append(parts, ImagesDir)
		parts = append(parts, dateBucket(in)...)
		category := SanitizeComponent(in.Category)
		if category == "" {
			category = UnknownCat
		}
		parts = append(parts, category)

	case KindAudio:
		parts = append(parts, MusicDir)
		artist := SanitizeComponent(in.Artist)
		if artist == "" {
			parts = append(parts, UnknownArtist)
		} else {
			album := SanitizeComponent(in.Album)
			if album == "" {
				album = UnknownAlbum
			}
			parts = append(parts, artist, album)
		}

	default:
		parts = append(parts, OtherDir)
		_, ext := splitExt(name)
		ext = strings.ToLower(strings.TrimPrefix(ext, "."))
		ext = SanitizeComponent(ext)
		if ext == "" {
			ext = NoExtension
		}
		parts = append(parts, ext)
	}

	parts = append(parts, name)
	return filepath.Join(parts...)
}

func dateBucket(in Input) []string {
	if in.DateSource == meta.DateSuspicious {
		return []string{SuspiciousDate}
	}
	if in.DateValue == "" {
		return []string{NoDate}
	}
	t, err := time.Parse(time.RFC3339, in.DateValue)
	if err != nil {
		return []string{NoDate}
	}
	return []string{
		fmt.Sprintf("%04d", t.Year()),
		fmt.Sprintf("%02d_%s", int(t.Month()), MonthName(in.Language, t.Month())),
	}
}

// Project computes the destination for in and claims it in table.
// A path already claimed by a different content hash gets the first eight
// hex characters of this hash appended to the file stem; a path claimed by
// the same hash is reused unchanged.
func Project(in Input, table *CollisionTable) string {
	naive := Naive(in)
	return table.resolve(naive, in.ContentHash, func(i int) string {
		return collisionCandidate(naive, in.ContentHash, i)
	})
}

// collisionCandidate returns the i-th alternative for path: the stem with 8,
// then 16, then all hash characters appended, followed by _<8>_2, _<8>_3 and
// so on without bound
func collisionCandidate(path, contentHash string, i int) string {
	dir, name := filepath.Split(path)
	stem, ext := splitExt(name)

	lengths := []int{collisionPrefixLen, 16, len(contentHash)}
	if i < len(lengths) {
		return filepath.Join(dir, fmt.Sprintf("%s_%s%s", stem, hash.Prefix(contentHash, lengths[i]), ext))
	}
	n := i - len(lengths) + 2
	return filepath.Join(dir, fmt.Sprintf("%s_%s_%d%s", stem, hash.Prefix(contentHash, collisionPrefixLen), n, ext))
}

// splitExt splits name into stem and extension. A leading dot alone is not
// an extension, so ".bashrc" has none.
func splitExt(name string) (string, string) {
	ext := filepath.Ext(name)
	if ext == name {
		return name, ""
	}
	return strings.TrimSuffix(name, ext), ext
}
