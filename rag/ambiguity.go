package rag

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	maxAmbiguityTokens  = 10
	maxAmbiguityLines   = 3
	maxAmbiguityMatches = 3
)

// lookupIntentPhrases are removed before probing for ambiguous terms;
// longest first so "哪一件" goes before "哪件".
var lookupIntentPhrases = []string{
	"which is it", "which artifact", "which exhibit", "which one",
	"是哪一件", "是哪一个", "是哪一块", "是哪一幅", "是哪一石",
	"哪一件", "哪一个", "哪一块", "哪一幅", "哪一石", "哪一面",
	"哪件", "哪个", "哪块", "哪幅", "是哪",
}

// DetectAmbiguity reports question terms that match two or more candidates
// by name, topic or tag. The result is empty when nothing is ambiguous.
func DetectAmbiguity(question string, candidates []Candidate) string {
	if len(candidates) < 2 {
		return ""
	}
	stripped := Normalize(question)
	for _, phrase := range lookupIntentPhrases {
		stripped = strings.ReplaceAll(stripped, phrase, " ")
	}

	haystacks := make([]string, len(candidates))
	for i, c := range candidates {
		haystacks[i] = Normalize(c.Name + " " + c.PDFTopic + " " + strings.Join(c.Tags, " "))
	}

	var lines []string
	seenSets := make(map[string]struct{})
	checked := 0
	for _, tok := range Tokenize(stripped) {
		if checked >= maxAmbiguityTokens || len(lines) >= maxAmbiguityLines {
			break
		}
		if utf8.RuneCountInString(tok) < minTokenRunes {
			continue
		}
		checked++

		var matched []int
		for i, h := range haystacks {
			if strings.Contains(h, tok) {
				matched = append(matched, i)
			}
		}
		if len(matched) < 2 {
			continue
		}
		key := matchKey(candidates, matched)
		if _, dup := seenSets[key]; dup {
			continue
		}
		seenSets[key] = struct{}{}

		names := make([]string, 0, maxAmbiguityMatches)
		for _, i := range matched[:min(len(matched), maxAmbiguityMatches)] {
			names = append(names, fmt.Sprintf("%s（%s）", candidates[i].Name, candidates[i].ID))
		}
		lines = append(lines, fmt.Sprintf("「%s」可能指向 %d 件展品：%s", tok, len(matched), strings.Join(names, "、")))
	}
	return strings.Join(lines, "\n")
}

func matchKey(candidates []Candidate, idx []int) string {
	ids := make([]string, len(idx))
	for i, j := range idx {
		ids[i] = candidates[j].ID
	}
	sort.Strings(ids)
	return strings.Join(ids, ",")
}
