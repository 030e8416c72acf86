package monitor

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ExcludeScope selects where exclusion words are looked for.
type ExcludeScope string

const (
	// ExcludeAfter rejects text when an exclusion word follows the last keyword occurrence.
	ExcludeAfter ExcludeScope = "after"
	// ExcludeAnywhere rejects text containing an exclusion word at any position.
	ExcludeAnywhere ExcludeScope = "anywhere"
)

// ParseExcludeScope maps a config value to a scope. Empty means ExcludeAfter.
func ParseExcludeScope(raw string) (ExcludeScope, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(ExcludeAfter):
		return ExcludeAfter, nil
	case string(ExcludeAnywhere):
		return ExcludeAnywhere, nil
	}
	return "", fmt.Errorf("%w: unknown exclude scope %q", ErrConfiguration, raw)
}

// Matcher is a compiled keyword policy. It is immutable and safe for concurrent use.
type Matcher struct {
	keys     []*regexp.Regexp
	excludes []*regexp.Regexp
	scope    ExcludeScope
}

// Compile builds a Matcher. Keywords and exclusion words are literal,
// matched case-insensitively on whole words. Blank entries are ignored; a
// policy without any keyword fails with ErrConfiguration.
func Compile(keyWords, unkeyWords []string, scope ExcludeScope) (*Matcher, error) {
	if scope == "" {
		scope = ExcludeAfter
	}
	if scope != ExcludeAfter && scope != ExcludeAnywhere {
		return nil, fmt.Errorf("%w: unknown exclude scope %q", ErrConfiguration, scope)
	}
	m := &Matcher{scope: scope, keys: compileWords(keyWords), excludes: compileWords(unkeyWords)}
	if len(m.keys) == 0 {
		return nil, fmt.Errorf("%w: keyword list is empty", ErrConfiguration)
	}
	return m, nil
}

func compileWords(words []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(words))
	seen := map[string]struct{}{}
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		k := strings.ToLower(w)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, regexp.MustCompile(`(?i)`+regexp.QuoteMeta(w)))
	}
	return out
}

// Match reports whether text passes the policy.
func (m *Matcher) Match(text string) bool {
	if m == nil || text == "" {
		return false
	}
	end := -1
	for _, re := range m.keys {
		if e := lastWordEnd(re, text); e > end {
			end = e
		}
	}
	if end < 0 {
		return false
	}
	from := end
	if m.scope == ExcludeAnywhere {
		from = 0
	}
	for _, re := range m.excludes {
		if hasWordFrom(re, text, from) {
			return false
		}
	}
	return true
}

// lastWordEnd returns the end offset of the last whole-word match of re in
// text, or -1.
func lastWordEnd(re *regexp.Regexp, text string) int {
	last := -1
	forEachWord(re, text, 0, func(_, end int) bool {
		last = end
		return true
	})
	return last
}

func hasWordFrom(re *regexp.Regexp, text string, from int) bool {
	found := false
	forEachWord(re, text, from, func(int, int) bool {
		found = true
		return false
	})
	return found
}

// forEachWord calls fn for every whole-word match of re starting at or after
// from. A match that fails the boundary check is retried one rune later so
// overlapping candidates are not missed.
func forEachWord(re *regexp.Regexp, text string, from int, fn func(start, end int) bool) {
	for pos := from; pos <= len(text); {
		loc := re.FindStringIndex(text[pos:])
		if loc == nil {
			return
		}
		start, end := pos+loc[0], pos+loc[1]
		if end > start && wordStart(text, start) && wordEnd(text, end) {
			if !fn(start, end) {
				return
			}
			pos = end
			continue
		}
		_, size := utf8.DecodeRuneInString(text[start:])
		if size == 0 {
			return
		}
		pos = start + size
	}
}

// wordStart reports whether a match beginning at offset i is not glued to a
// preceding word character. Keywords that begin with punctuation ("c++",
// "#go") are not constrained on that side.
func wordStart(text string, i int) bool {
	if i == 0 {
		return true
	}
	first, _ := utf8.DecodeRuneInString(text[i:])
	if !isWordRune(first) {
		return true
	}
	prev, _ := utf8.DecodeLastRuneInString(text[:i])
	return !isWordRune(prev)
}

func wordEnd(text string, i int) bool {
	if i == len(text) {
		return true
	}
	last, _ := utf8.DecodeLastRuneInString(text[:i])
	if !isWordRune(last) {
		return true
	}
	next, _ := utf8.DecodeRuneInString(text[i:])
	return !isWordRune(next)
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
