package utils

import (
	"regexp"
	"strings"
)

var (
	tagPattern        = regexp.MustCompile(`<[^>]+>`)
	whitespacePattern = regexp.MustCompile(`[ \t]+`)
)

// StripMarkup removes HTML/XML tags from editor-sourced document text and
// collapses runs of horizontal whitespace. Documents arriving from the
// drafting editor carry light markup that would pollute section detection.
func StripMarkup(text string) string {
	out := tagPattern.ReplaceAllString(text, " ")
	out = whitespacePattern.ReplaceAllString(out, " ")

	lines := strings.Split(out, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
