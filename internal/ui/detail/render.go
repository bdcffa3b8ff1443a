package detail

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	stripPolicy = bluemonday.StrictPolicy()

	blockEnd   = regexp.MustCompile(`(?i)<br\s*/?>|</(p|div|tr|li|h[1-6]|blockquote|table)>`)
	blankLines = regexp.MustCompile(`\n[ \t]*\n([ \t]*\n)+`)
)

// PlainText renders an HTML or plain-text body for the terminal: tags,
// scripts and styles are dropped, block boundaries become line breaks and
// runs of blank lines collapse to one.
func PlainText(body string) string {
	if !strings.Contains(body, "<") {
		return strings.TrimSpace(body)
	}

	text := blockEnd.ReplaceAllStringFunc(body, func(tag string) string {
		return tag + "\n"
	})
	text = html.UnescapeString(stripPolicy.Sanitize(text))
	text = strings.ReplaceAll(text, "\u00a0", " ")
	text = blankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
