package project

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/franz/ordb/internal/meta"
)

const (
	h1 = "1111111111111111111111111111111111111111111111111111111111111111"
	h2 = "2222222222222222222222222222222222222222222222222222222222222222"
)

func imageInput(src, hash string) Input {
	return Input{
		Root:        "/dest",
		SourcePath:  src,
		MimeType:    "image/jpeg",
		Category:    "Persona_Sola",
		DateValue:   "2023-01-01T12:00:00Z",
		DateSource:  meta.DateExifOriginal,
		ContentHash: hash,
	}
}

func TestNaive_Routing(t *testing.T) {
	tests := []struct {
		name     string
		in       Input
		expected string
	}{
		{
			name:     "image with exif date",
			in:       imageInput("/a/IMG_1.jpg", h1),
			expected: "/dest/Images/2023/01_January/Persona_Sola/IMG_1.jpg",
		},
		{
			name: "video suspicious date",
			in: Input{Root: "/dest", SourcePath: "/a/clip.mp4", MimeType: "video/mp4",
				Category: "Videos", DateSource: meta.DateSuspicious, DateValue: "1980-01-01T00:00:00Z"},
			expected: "/dest/Images/Suspicious_Date/Videos/clip.mp4",
		},
		{
			name:     "image without date",
			in:       Input{Root: "/dest", SourcePath: "/a/x.png", MimeType: "image/png", Category: "cats", DateSource: meta.DateNone},
			expected: "/dest/Images/No_Date/cats/x.png",
		},
		{
			name:     "image with unparseable date",
			in:       Input{Root: "/dest", SourcePath: "/a/x.png", MimeType: "image/png", Category: "cats", DateValue: "yesterday"},
			expected: "/dest/Images/No_Date/cats/x.png",
		},
		{
			name:     "image without category",
			in:       Input{Root: "/dest", SourcePath: "/a/x.png", MimeType: "image/png"},
			expected: "/dest/Images/No_Date/unknown/x.png",
		},
		{
			name:     "audio with artist and album",
			in:       Input{Root: "/dest", SourcePath: "/m/song.mp3", MimeType: "audio/mpeg", Artist: "AC/DC", Album: "Back in Black"},
			expected: "/dest/Music/AC_DC/Back in Black/song.mp3",
		},
		{
			name:     "audio without artist",
			in:       Input{Root: "/dest", SourcePath: "/m/song.mp3", MimeType: "audio/mpeg", Album: "Ignored"},
			expected: "/dest/Music/Unknown/song.mp3",
		},
		{
			name:     "audio without album",
			in:       Input{Root: "/dest", SourcePath: "/m/song.mp3", MimeType: "audio/mpeg", Artist: "Solo"},
			expected: "/dest/Music/Solo/Unknown/song.mp3",
		},
		{
			name:     "other with extension",
			in:       Input{Root: "/dest", SourcePath: "/d/Report.PDF", MimeType: "application/pdf"},
			expected: "/dest/Other/pdf/Report.PDF",
		},
		{
			name:     "other without extension",
			in:       Input{Root: "/dest", SourcePath: "/d/Makefile", MimeType: "text/plain"},
			expected: "/dest/Other/No_Extension/Makefile",
		},
		{
			name:     "dotfile has no extension",
			in:       Input{Root: "/dest", SourcePath: "/home/.bashrc", MimeType: "text/plain"},
			expected: "/dest/Other/No_Extension/.bashrc",
		},
		{
			name:     "dotfile with extension",
			in:       Input{Root: "/dest", SourcePath: "/home/.config.yaml", MimeType: "text/plain"},
			expected: "/dest/Other/yaml/.config.yaml",
		},
		{
			name:     "unknown mime",
			in:       Input{Root: "/dest", SourcePath: "/d/blob.bin"},
			expected: "/dest/Other/bin/blob.bin",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, filepath.FromSlash(tt.expected), Naive(tt.in))
		})
	}
}

func TestProject_CollisionDifferentContent(t *testing.T) {
	table := NewCollisionTable()

	first := Project(imageInput("/a/IMG_1.jpg", h1), table)
	second := Project(imageInput("/b/IMG_1.jpg", h2), table)

	assert.Equal(t, "/dest/Images/2023/01_January/Persona_Sola/IMG_1.jpg", first)
	assert.Equal(t, "/dest/Images/2023/01_January/Persona_Sola/IMG_1_22222222.jpg", second)
	assert.NotEqual(t, first, second)
	assert.Equal(t, 2, table.Len())
}

func TestProject_SameContentIsStable(t *testing.T) {
	table := NewCollisionTable()
	in := imageInput("/a/IMG_1.jpg", h1)

	first := Project(in, table)
	second := Project(in, table)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, table.Len())
}

func TestProject_SeededTable(t *testing.T) {
	table := NewCollisionTable()
	table.Claim("/dest/Other/txt/notes.txt", h1)

	got := Project(Input{Root: "/dest", SourcePath: "/x/notes.txt", MimeType: "text/plain", ContentHash: h2}, table)
	assert.Equal(t, "/dest/Other/txt/notes_22222222.txt", got)

	owner, ok := table.Owner(got)
	require.True(t, ok)
	assert.Equal(t, h2, owner)
}

func TestProject_SuffixAlsoTaken(t *testing.T) {
	table := NewCollisionTable()
	h3 := "2222222233333333333333333333333333333333333333333333333333333333"

	a := Project(Input{Root: "/d", SourcePath: "/s/f.txt", MimeType: "text/plain", ContentHash: h1}, table)
	b := Project(Input{Root: "/d", SourcePath: "/t/f.txt", MimeType: "text/plain", ContentHash: h2}, table)
	c := Project(Input{Root: "/d", SourcePath: "/u/f.txt", MimeType: "text/plain", ContentHash: h3}, table)

	assert.Equal(t, "/d/Other/txt/f_22222222.txt", b)
	assert.Equal(t, "/d/Other/txt/f_2222222233333333.txt", c)
	assert.Len(t, map[string]bool{a: true, b: true, c: true}, 3)
}

func TestProject_DotfileCollisionKeepsName(t *testing.T) {
	table := NewCollisionTable()
	table.Claim("/d/Other/No_Extension/.bashrc", h1)

	got := Project(Input{Root: "/d", SourcePath: "/s/.bashrc", MimeType: "text/plain", ContentHash: h2}, table)
	assert.Equal(t, "/d/Other/No_Extension/.bashrc_22222222", got)
}

func TestProject_AllNumberedSuffixesTaken(t *testing.T) {
	table := NewCollisionTable()
	naive := "/d/Other/txt/f.txt"
	table.Claim(naive, h1)
	for i := 0; i < 200; i++ {
		table.Claim(collisionCandidate(naive, h2, i), fmt.Sprintf("other-%d", i))
	}

	got := Project(Input{Root: "/d", SourcePath: "/s/f.txt", MimeType: "text/plain", ContentHash: h2}, table)
	assert.Equal(t, "/d/Other/txt/f_22222222_199.txt", got)

	owner, ok := table.Owner(got)
	require.True(t, ok)
	assert.Equal(t, h2, owner)
	assert.Equal(t, 202, table.Len(), "no earlier claim may be overwritten")
}

func TestCollisionCandidate(t *testing.T) {
	path := "/d/Other/txt/f.txt"
	assert.Equal(t, "/d/Other/txt/f_22222222.txt", collisionCandidate(path, h2, 0))
	assert.Equal(t, "/d/Other/txt/f_2222222222222222.txt", collisionCandidate(path, h2, 1))
	assert.Equal(t, "/d/Other/txt/f_"+h2+".txt", collisionCandidate(path, h2, 2))
	assert.Equal(t, "/d/Other/txt/f_22222222_2.txt", collisionCandidate(path, h2, 3))
	assert.Equal(t, "/d/Other/txt/f_22222222_500.txt", collisionCandidate(path, h2, 501))
}

func TestProject_ConcurrentDistinctPaths(t *testing.T) {
	table := NewCollisionTable()

	const n = 50
	paths := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h := fmt.Sprintf("%08x%056d", i, 0)
			paths[i] = Project(Input{Root: "/d", SourcePath: fmt.Sprintf("/s%d/same.txt", i), MimeType: "text/plain", ContentHash: h}, table)
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, p := range paths {
		assert.False(t, seen[p], "duplicate destination %s", p)
		seen[p] = true
	}
}

func TestMonthName(t *testing.T) {
	assert.Equal(t, "March", MonthName(language.English, time.March))
	assert.Equal(t, "Marzo", MonthName(language.Spanish, time.March))
	assert.Equal(t, "Diciembre", MonthName(ParseLanguage("es-MX"), time.December))
	assert.Equal(t, "June", MonthName(language.Und, time.June))
	assert.Equal(t, "June", MonthName(ParseLanguage("not a tag!"), time.June))

	in := imageInput("/a/IMG_1.jpg", h1)
	in.Language = language.Spanish
	assert.True(t, strings.Contains(Naive(in), "01_Enero"))
}

func TestSanitizeComponent(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Beach", "Beach"},
		{"AC/DC", "AC_DC"},
		{"a:b*c?", "a_b_c_"},
		{"  ..hidden.. ", "hidden"},
		{"..", ""},
		{"", ""},
		{"Café", "Café"},
	}

	for _, tt := range tests {
		if got := SanitizeComponent(tt.input); got != tt.expected {
			t.Errorf("SanitizeComponent(%q) = %q, expected %q", tt.input, got, tt.expected)
		}
	}

	long := strings.Repeat("é", 150)
	got := SanitizeComponent(long)
	assert.LessOrEqual(t, len(got), 200)
	assert.True(t, strings.HasPrefix(long, got))
}
