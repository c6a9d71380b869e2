package moderation

import (
	"regexp"
	"slices"
	"strings"
	"sync"
	"unicode"
	"unicode/utf16"

	"github.com/cloudflare/ahocorasick"
)

// jsSpaceClass is the ECMAScript WhiteSpace and LineTerminator set used for
// trimming, tokenising and bounding links. It excludes U+0085, which Go's
// unicode.IsSpace includes.
const jsSpaceClass = `\t\n\v\f\r \p{Zs}\x{FEFF}\x{2028}\x{2029}`

var linkPattern = regexp.MustCompile(`(?i)(https?://|www\.)[^` + jsSpaceClass + `]+`)

func isSpace(r rune) bool {
	switch r {
	case '\t', '\n', '\v', '\f', '\r', ' ', '\uFEFF', '\u2028', '\u2029':
		return true
	}
	return unicode.Is(unicode.Zs, r)
}

// Trim strips leading and trailing whitespace as the classifier sees it.
func Trim(s string) string {
	return strings.TrimFunc(s, isSpace)
}

// phraseMatcher finds the earliest table entry contained in a text using one
// Aho-Corasick pass. A Matcher keeps per-call state, so concurrent callers
// borrow their own from the pool.
type phraseMatcher struct {
	phrases []string
	pool    *sync.Pool
}

func newPhraseMatcher(t KeywordTable) phraseMatcher {
	if t.Len() == 0 {
		return phraseMatcher{}
	}
	phrases := t.Phrases()
	return phraseMatcher{
		phrases: phrases,
		pool: &sync.Pool{New: func() any {
			return ahocorasick.NewStringMatcher(phrases)
		}},
	}
}

// first returns the matching phrase with the lowest table index.
func (m phraseMatcher) first(lowered string) (string, bool) {
	if m.pool == nil {
		return "", false
	}
	matcher := m.pool.Get().(*ahocorasick.Matcher)
	hits := matcher.Match([]byte(lowered))
	m.pool.Put(matcher)

	if len(hits) == 0 {
		return "", false
	}
	return m.phrases[slices.Min(hits)], true
}

func countLinks(text string) int {
	return len(linkPattern.FindAllStringIndex(text, -1))
}

func tokens(lowered string) []string {
	return strings.FieldsFunc(lowered, isSpace)
}

// hasRepeatedToken reports whether any token occurs at least minCount times.
func hasRepeatedToken(lowered string, minCount int) bool {
	toks := tokens(lowered)
	if len(toks) < minCount {
		return false
	}
	counts := make(map[string]int, len(toks))
	for _, tok := range toks {
		counts[tok]++
		if counts[tok] >= minCount {
			return true
		}
	}
	return false
}

// Length counts UTF-16 code units, so characters outside the Basic
// Multilingual Plane count twice. Post and comment limits use the same unit.
func Length(text string) int {
	n := 0
	for _, r := range text {
		n += utf16.RuneLen(r)
	}
	return n
}
