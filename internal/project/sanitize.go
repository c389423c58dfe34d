package project

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// SanitizeComponent makes a metadata value safe to use as one path component.
// Returns "" when nothing usable remains.
func SanitizeComponent(s string) string {
	s = norm.NFC.String(strings.TrimSpace(s))
	if s == "" {
		return ""
	}

	// Replace illegal filesystem characters with underscores
	illegal := []string{"/", "\\", ":", "*", "?", "\"", "<", ">", "|", "\x00"}
	for _, char := range illegal {
		s = strings.ReplaceAll(s, char, "_")
	}

	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}

	// Trim spaces and dots (Windows issues, "." and "..")
	s = strings.TrimSpace(s)
	s = strings.Trim(s, ". ")

	// Limit length to 200 bytes (filesystem limits) without splitting a rune
	if len(s) > 200 {
		cut := 200
		for cut > 0 && !isRuneStart(s[cut]) {
			cut--
		}
		s = strings.TrimRight(s[:cut], " _.")
	}

	return s
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
