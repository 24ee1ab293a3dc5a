package utils

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	unsafeFilenameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F\s]+`)
	underscoreRuns      = regexp.MustCompile(`_{2,}`)
)

// maxFilenameRunes caps the stem of generated export and log file names.
const maxFilenameRunes = 100

// SanitizeFilename turns a site name into a file name stem that is safe on
// Windows and Unix. Whitespace and reserved characters become "_", and the
// result is cut to maxFilenameRunes runes. An empty result becomes "site".
func SanitizeFilename(name string) string {
	s := unsafeFilenameChars.ReplaceAllString(name, "_")
	s = underscoreRuns.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_.")

	if utf8.RuneCountInString(s) > maxFilenameRunes {
		s = strings.Trim(string([]rune(s)[:maxFilenameRunes]), "_.")
	}
	if s == "" {
		return "site"
	}
	return s
}
