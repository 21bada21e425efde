package prompt

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

// Matcher decides whether an entity name is mentioned in a shot description.
type Matcher interface {
	Match(name, text string) bool
}

// SubstringMatcher matches case-insensitively anywhere in the text, so "Ann"
// also matches "Anna".
type SubstringMatcher struct{}

func (SubstringMatcher) Match(name, text string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	fold := cases.Fold()
	return strings.Contains(fold.String(text), fold.String(name))
}

// WordMatcher only matches whole words: the characters around the match must
// not be letters or digits.
type WordMatcher struct{}

func (WordMatcher) Match(name, text string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	fold := cases.Fold()
	needle, hay := fold.String(name), fold.String(text)
	for from := 0; from <= len(hay)-len(needle); {
		i := strings.Index(hay[from:], needle)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(needle)
		if boundaryBefore(hay, start) && boundaryAfter(hay, end) {
			return true
		}
		_, size := utf8.DecodeRuneInString(hay[start:])
		from = start + size
	}
	return false
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
