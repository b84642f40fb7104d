// Package textutil holds the sentence and token helpers shared by the
// extractive summary and answer paths.
package textutil

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	spaceRun     = regexp.MustCompile(`\s+`)
	paragraphGap = regexp.MustCompile(`\n\s*\n`)
	tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)
)

// NormalizeSpace collapses every whitespace run to one space and trims.
func NormalizeSpace(s string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}

// abbreviations never end a sentence when followed by a period.
var abbreviations = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "dr": true, "prof": true, "jr": true, "sr": true, "st": true,
	"inc": true, "ltd": true, "co": true, "corp": true, "no": true, "vs": true, "approx": true,
	"art": true, "sec": true, "fig": true, "e.g": true, "i.e": true,
	"jan": true, "feb": true, "mar": true, "apr": true, "jun": true, "jul": true, "aug": true,
	"sep": true, "sept": true, "oct": true, "nov": true, "dec": true,
}

// SplitSentences breaks text into sentences. Blank lines always end a
// sentence; inside a paragraph a sentence ends at . ! or ? followed by
// whitespace, so decimals survive. Known abbreviations and single-letter
// initials do not end a sentence.
func SplitSentences(text string) []string {
	var out []string
	for _, para := range paragraphGap.Split(text, -1) {
		line := NormalizeSpace(para)
		start := 0
		for i := 0; i < len(line); i++ {
			if !isTerminal(line[i]) {
				continue
			}
			j := i + 1
			for j < len(line) && (isTerminal(line[j]) || isCloser(line[j])) {
				j++
			}
			if (j < len(line) && line[j] != ' ') || (j == i+1 && line[i] == '.' && isAbbreviation(line[:i])) {
				i = j - 1
				continue
			}
			if s := strings.TrimSpace(line[start:j]); s != "" {
				out = append(out, s)
			}
			start = j
			i = j - 1
		}
		if s := strings.TrimSpace(line[start:]); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Tokens returns the lower-cased letter/digit runs of s.
func Tokens(s string) []string {
	return tokenPattern.FindAllString(strings.ToLower(s), -1)
}

// TokenSet is Tokens as a set.
func TokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range Tokens(s) {
		set[tok] = struct{}{}
	}
	return set
}

// TruncateRunes cuts s to at most max runes.
func TruncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

// LimitWords keeps at most max whitespace-separated words of s.
func LimitWords(s string, max int) (string, bool) {
	words := strings.Fields(s)
	if max <= 0 || len(words) <= max {
		return strings.Join(words, " "), false
	}
	return strings.Join(words[:max], " "), true
}

// EnsureTerminal trims trailing separators and guarantees the text ends with
// sentence punctuation.
func EnsureTerminal(s string) string {
	s = strings.TrimRightFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == ';' || r == ':' || r == '-'
	})
	if s == "" {
		return s
	}
	last, _ := utf8.DecodeLastRuneInString(s)
	switch last {
	case '.', '!', '?', '"', '\'', ')':
		return s
	}
	return s + "."
}

// isAbbreviation reports whether the word at the end of prefix is an
// abbreviation or an initial.
func isAbbreviation(prefix string) bool {
	word := prefix[strings.LastIndexAny(prefix, " (\"")+1:]
	if len(word) == 1 && word[0] >= 'A' && word[0] <= 'Z' {
		return true
	}
	return abbreviations[strings.ToLower(word)]
}

func isTerminal(b byte) bool {
	return b == '.' || b == '!' || b == '?'
}

func isCloser(b byte) bool {
	return b == '"' || b == '\'' || b == ')' || b == ']'
}
