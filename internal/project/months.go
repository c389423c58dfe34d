package project

import (
	"time"

	"golang.org/x/text/language"
)

var supportedLanguages = []language.Tag{
	language.English, // default
	language.Spanish,
}

var languageMatcher = language.NewMatcher(supportedLanguages)

var monthNames = [][12]string{
	{"January", "February", "March", "April", "May", "June",
		"July", "August", "September", "October", "November", "December"},
	{"Enero", "Febrero", "Marzo", "Abril", "Mayo", "Junio",
		"Julio", "Agosto", "Septiembre", "Octubre", "Noviembre", "Diciembre"},
}

// ParseLanguage parses a BCP 47 tag such as "en" or "es-MX".
// Unparseable values fall back to English.
func ParseLanguage(s string) language.Tag {
	tag, err := language.Parse(s)
	if err != nil {
		return language.English
	}
	return tag
}

// MonthName returns the localized name of m for the closest supported language
func MonthName(tag language.Tag, m time.Month) string {
	if m < time.January || m > time.December {
		return "Unknown"
	}
	_, idx, _ := languageMatcher.Match(tag)
	return monthNames[idx][m-1]
}
