package rag

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	minTokenRunes  = 2
	maxNGramRunes  = 4
	maxTokens      = 60
	minPhraseRunes = 3
	maxPhraseRunes = 12
	maxFullPhrase  = 48
)

var stopwords = map[string]struct{}{
	"什么": {}, "哪个": {}, "哪一": {}, "一个": {}, "这个": {}, "那个": {}, "是什": {}, "么是": {},
	"是哪": {}, "请问": {}, "介绍": {}, "一下": {}, "可以": {}, "我们": {}, "你们": {}, "他们": {},
	"这些": {}, "那些": {}, "怎么": {}, "为什么": {}, "有没有": {}, "的是": {}, "是不是": {}, "一些": {},
	"展品": {}, "文物": {}, "这件": {}, "那件": {}, "告诉": {}, "知道": {}, "吗": {}, "呢": {},
	"the": {}, "and": {}, "what": {}, "which": {}, "is": {}, "are": {}, "of": {}, "an": {},
	"this": {}, "that": {}, "one": {}, "it": {}, "to": {}, "in": {}, "on": {}, "for": {},
	"with": {}, "about": {}, "tell": {}, "me": {}, "please": {},
}

// quotedPattern captures text between paired CJK or ASCII quotes.
var quotedPattern = regexp.MustCompile(`[“"「『《‘']([^”"」』》’']{2,40})[”"」』》’']`)

type scriptClass int

const (
	scriptOther scriptClass = iota
	scriptHan
	scriptAlnum
)

func classify(r rune) scriptClass {
	switch {
	case unicode.Is(unicode.Han, r):
		return scriptHan
	case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsMark(r):
		return scriptAlnum
	default:
		return scriptOther
	}
}

type scriptRun struct {
	class scriptClass
	runes []rune
}

// scriptRuns splits a space-free piece into maximal same-script runs.
func scriptRuns(piece string) []scriptRun {
	var runs []scriptRun
	for _, r := range piece {
		c := classify(r)
		if n := len(runs); n > 0 && runs[n-1].class == c {
			runs[n-1].runes = append(runs[n-1].runes, r)
			continue
		}
		runs = append(runs, scriptRun{class: c, runes: []rune{r}})
	}
	return runs
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

func acceptableToken(tok string) bool {
	if utf8.RuneCountInString(tok) < minTokenRunes || isNumeric(tok) {
		return false
	}
	_, stop := stopwords[tok]
	return !stop
}

// orderedSet keeps first-insertion order and an optional size cap.
type orderedSet struct {
	items []string
	seen  map[string]struct{}
	limit int
}

func newOrderedSet(limit int) *orderedSet {
	return &orderedSet{seen: make(map[string]struct{}), limit: limit}
}

func (s *orderedSet) add(v string) {
	if s.full() {
		return
	}
	if _, ok := s.seen[v]; ok {
		return
	}
	s.seen[v] = struct{}{}
	s.items = append(s.items, v)
}

func (s *orderedSet) full() bool {
	return s.limit > 0 && len(s.items) >= s.limit
}

// Tokenize returns the ordered, capped token set of text: whitespace words
// plus every 2..4 rune window over Han runs, minus stopwords, numerals and
// single characters.
func Tokenize(text string) []string {
	norm := Normalize(text)
	if norm == "" {
		return nil
	}
	set := newOrderedSet(maxTokens)
	offer := func(tok string) {
		if acceptableToken(tok) {
			set.add(tok)
		}
	}

	for _, piece := range strings.Fields(norm) {
		if set.full() {
			break
		}
		offer(piece)
		runs := scriptRuns(piece)
		for _, run := range runs {
			if run.class != scriptHan {
				if len(runs) > 1 {
					offer(string(run.runes))
				}
				continue
			}
			for i := range run.runes {
				for n := minTokenRunes; n <= maxNGramRunes && i+n <= len(run.runes); n++ {
					offer(string(run.runes[i : i+n]))
				}
			}
		}
	}
	return set.items
}

// BuildPhrases collects longer match units: the whole normalized text,
// quoted fragments of the raw text, long Han runs (truncated), and the
// longest tokens.
func BuildPhrases(text string, tokens []string) []string {
	set := newOrderedSet(0)
	offer := func(p string) {
		if utf8.RuneCountInString(p) >= minPhraseRunes {
			set.add(p)
		}
	}

	norm := Normalize(text)
	if utf8.RuneCountInString(norm) <= maxFullPhrase {
		offer(norm)
	}

	for _, m := range quotedPattern.FindAllStringSubmatch(text, -1) {
		offer(Normalize(m[1]))
	}

	for _, piece := range strings.Fields(norm) {
		for _, run := range scriptRuns(piece) {
			if run.class != scriptHan || len(run.runes) < minPhraseRunes {
				continue
			}
			r := run.runes
			if len(r) > maxPhraseRunes {
				r = r[:maxPhraseRunes]
			}
			offer(string(r))
		}
	}

	for _, tok := range tokens {
		if utf8.RuneCountInString(tok) >= maxNGramRunes {
			offer(tok)
		}
	}
	return set.items
}
