// Package clean normalises extracted text before chunking.
package clean

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/cloo-solutions/docpipe/internal/domain"
)

var (
	horizontalSpace = regexp.MustCompile(`[^\S\r\n]+`)
	urlPattern      = regexp.MustCompile(`(?i)(?:https?://|www\.)[^\s<>"']+`)
	emailPattern    = regexp.MustCompile(`[\p{L}\p{N}._%+-]+@[\p{L}\p{N}-]+(?:\.[\p{L}\p{N}-]+)+`)
	anySpace        = regexp.MustCompile(`\s+`)
	// Combining marks stay attached to their base letters.
	specialChars    = regexp.MustCompile(`[^\p{L}\p{M}\p{N}_\s]+`)
)

var errInvalidUTF8 = errors.New("text is not valid UTF-8")

type filter struct {
	enabled func(domain.CleanConfig) bool
	apply   func(string) string
}

// filters run in this order; each sees the previous filter's output.
var filters = []filter{
	{
		enabled: func(o domain.CleanConfig) bool { return o.CleanText },
		apply:   func(s string) string { return horizontalSpace.ReplaceAllString(s, " ") },
	},
	{
		enabled: func(o domain.CleanConfig) bool { return o.RemoveURLs },
		apply:   func(s string) string { return urlPattern.ReplaceAllString(s, "") },
	},
	{
		enabled: func(o domain.CleanConfig) bool { return o.RemoveEmails },
		apply:   func(s string) string { return emailPattern.ReplaceAllString(s, "") },
	},
	{
		enabled: func(o domain.CleanConfig) bool { return o.RemoveExtraWhitespace },
		apply: func(s string) string {
			return strings.TrimSpace(anySpace.ReplaceAllString(s, " "))
		},
	},
	{
		enabled: func(o domain.CleanConfig) bool { return o.RemoveSpecialChars },
		apply:   func(s string) string { return specialChars.ReplaceAllString(s, "") },
	},
}

// Clean applies the enabled filters to text. It fails only for input that is
// not valid UTF-8.
func Clean(text string, opts domain.CleanConfig) (string, error) {
	if !utf8.ValidString(text) {
		return "", domain.NewCleaningError(opts, errInvalidUTF8)
	}

	for _, f := range filters {
		if f.enabled(opts) {
			text = f.apply(text)
		}
	}
	return text, nil
}
