// Package sanitizer normalizes guest supplied text before validation and
// storage.
//
// Every function is idempotent: applying it twice gives the same result as
// applying it once. Invalid input is never rejected here; that is left to the
// validator.
package sanitizer

import (
	"strings"
	"unicode"
)

type Strategy func(string) string

type Pipeline []Strategy

func (p Pipeline) Apply(s string) string {
	for _, fn := range p {
		s = fn(s)
	}
	return s
}

// TrimAndNormalize trims s and collapses every run of whitespace into one
// space.
func TrimAndNormalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	var result strings.Builder
	var lastWasSpace bool
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !lastWasSpace {
				result.WriteRune(' ')
				lastWasSpace = true
			}
		} else {
			result.WriteRune(r)
			lastWasSpace = false
		}
	}
	return result.String()
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, s)
}

func SanitizeGuestName(input string) string {
	return Pipeline{stripControl, TrimAndNormalize}.Apply(input)
}

func SanitizeEmail(input string) string {
	return Pipeline{strings.TrimSpace, strings.ToLower}.Apply(input)
}

// SanitizeNote keeps line breaks but drops other control characters and
// surrounding whitespace.
func SanitizeNote(input string) string {
	return Pipeline{stripControl, strings.TrimSpace}.Apply(input)
}
