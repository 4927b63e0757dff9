package rag

import "strings"

type SentenceSplitter interface {
	Split(text string) []string
}

// PunctuationSplitter breaks on ASCII and CJK sentence terminators. CJK
// text has no space after a terminator, so any non-terminator rune starts a
// new sentence.
type PunctuationSplitter struct{}

func NewPunctuationSplitter() PunctuationSplitter {
	return PunctuationSplitter{}
}

func isSentenceBoundary(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？', '；', '…':
		return true
	default:
		return false
	}
}

func (PunctuationSplitter) Split(text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	runes := []rune(trimmed)
	var sentences []string
	var builder strings.Builder

	flush := func() {
		if builder.Len() == 0 {
			return
		}
		sentence := strings.TrimSpace(builder.String())
		if sentence != "" {
			sentences = append(sentences, sentence)
		}
		builder.Reset()
	}

	for idx, r := range runes {
		builder.WriteRune(r)
		if !isSentenceBoundary(r) {
			continue
		}
		// Look ahead: runs of terminators ("！？", "……") stay together
		next := idx + 1
		for next < len(runes) && (runes[next] == ' ' || runes[next] == '\n' || runes[next] == '\t') {
			next++
		}
		if next >= len(runes) || isSentenceBoundary(runes[next]) {
			continue
		}
		// "3.5" is not a boundary
		if r == '.' && idx > 0 && next == idx+1 && isDigit(runes[idx-1]) && isDigit(runes[next]) {
			continue
		}
		flush()
	}

	flush()

	if len(sentences) == 0 {
		return []string{trimmed}
	}
	return sentences
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

// ClipSentences keeps whole sentences while they fit in max runes. When the
// first sentence alone is too long it is cut at max. Sentences ending in an
// ASCII terminator are followed by a space.
func ClipSentences(splitter SentenceSplitter, text string, max int) string {
	text = strings.TrimSpace(text)
	if max <= 0 || len([]rune(text)) <= max {
		return text
	}
	var b strings.Builder
	used := 0
	sep := ""
	for _, s := range splitter.Split(text) {
		n := len([]rune(sep)) + len([]rune(s))
		if used+n > max {
			break
		}
		b.WriteString(sep)
		b.WriteString(s)
		used += n
		sep = ""
		if last := s[len(s)-1]; last == '.' || last == '!' || last == '?' {
			sep = " "
		}
	}
	if b.Len() == 0 {
		return string([]rune(text)[:max])
	}
	return b.String()
}
