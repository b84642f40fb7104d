package answer

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"gopherai-docqa/internal/pkg/textutil"
)

const (
	NotAvailable   = "The answer is not available in the document."
	answerMaxWords = 100
)

var (
	monthName   = `(?:jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)\.?`
	datePattern = regexp.MustCompile(`(?i)\b(?:` +
		monthName + `\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4}` +
		`|\d{1,2}(?:st|nd|rd|th)?\s+(?:of\s+)?` + monthName + `,?\s+\d{4}` +
		`|\d{4}-\d{1,2}-\d{1,2}` +
		`|\d{1,2}[/-]\d{1,2}[/-]\d{2,4}` +
		`)\b`)
	amountPattern = regexp.MustCompile(`(?i)(?:[$€£¥]\s?\d[\d,]*(?:\.\d+)?(?:\s?(?:million|billion|thousand|[km]\b|bn\b))?` +
		`|\b\d[\d,]*(?:\.\d+)?\s?(?:usd|eur|gbp|dollars|euros|pounds)\b)`)
	listMarker = regexp.MustCompile(`^(?:[-*•]|\(?\d{1,2}[.)]|\(?[a-z][.)])\s`)
)

var (
	deadlineWords = wordSet("deadline", "deadlines", "due", "when", "date", "dates", "expire", "expires",
		"expiry", "expiration", "until", "valid", "validity", "end", "ends", "last", "latest")
	// deadlineAnchors mark sentences whose neighborhood is searched for dates.
	deadlineAnchors = wordSet("deadline", "due", "expire", "expires", "expired", "expiry", "expiration",
		"valid", "until", "before", "by", "end", "ends")
	amountWords = wordSet("amount", "cost", "costs", "price", "fee", "fees", "pay", "payment", "paid",
		"much", "total", "salary", "rent", "charge", "charges", "budget", "sum", "penalty")
	whoWords  = wordSet("who", "whom", "whose", "party", "parties", "signed", "signatory", "company")
	whatWords = wordSet("what", "which", "describe", "explain", "purpose", "about", "define", "meaning")
	stopWords = wordSet("a", "an", "the", "is", "are", "was", "were", "be", "of", "to", "in", "on", "at",
		"for", "and", "or", "do", "does", "did", "i", "you", "it", "this", "that", "with", "what", "which",
		"who", "whom", "when", "how", "there", "any", "my", "me", "can", "should", "will", "s")
)

type intent struct {
	deadline, amount, who, what bool
}

func classify(tokens []string) intent {
	var in intent
	for _, tok := range tokens {
		if _, ok := deadlineWords[tok]; ok {
			in.deadline = true
		}
		if _, ok := amountWords[tok]; ok {
			in.amount = true
		}
		if _, ok := whoWords[tok]; ok {
			in.who = true
		}
		if _, ok := whatWords[tok]; ok {
			in.what = true
		}
	}
	return in
}

// Extractive answers question from context by pattern search and sentence
// scoring. It returns NotAvailable when nothing in context relates to the
// question.
func Extractive(question, context string) (answer string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Default().Error("extractive answer panicked", "panic", r)
			answer = NotAvailable
		}
	}()

	sentences := textutil.SplitSentences(context)
	if len(sentences) == 0 {
		return NotAvailable
	}
	qTokens := textutil.Tokens(question)
	in := classify(qTokens)
	terms := contentTerms(qTokens)

	if in.deadline {
		if date, source, ok := findDeadline(sentences); ok {
			return fmt.Sprintf("According to the document, the date is %s. The document states: \"%s\"", date, source)
		}
	}
	if in.amount {
		if amount, source, ok := findAmount(sentences, terms); ok {
			return fmt.Sprintf("According to the document, the amount is %s. The document states: \"%s\"", amount, source)
		}
	}
	return bestSentences(sentences, terms, in)
}

func findDeadline(sentences []string) (date, source string, ok bool) {
	for i, s := range sentences {
		if !hasAny(textutil.TokenSet(s), deadlineAnchors) {
			continue
		}
		for _, j := range []int{i, i - 1, i + 1} {
			if j < 0 || j >= len(sentences) {
				continue
			}
			if m := datePattern.FindString(sentences[j]); m != "" {
				return m, sentences[j], true
			}
		}
	}
	return "", "", false
}

// findAmount prefers the first amount in a sentence sharing a question term.
func findAmount(sentences []string, terms []string) (amount, source string, ok bool) {
	var firstAmount, firstSource string
	for _, s := range sentences {
		m := amountPattern.FindString(s)
		if m == "" {
			continue
		}
		m = strings.TrimSpace(m)
		if overlap(textutil.TokenSet(s), terms) > 0 {
			return m, s, true
		}
		if firstAmount == "" {
			firstAmount, firstSource = m, s
		}
	}
	if firstAmount == "" {
		return "", "", false
	}
	return firstAmount, firstSource, true
}

type candidate struct {
	index int
	text  string
	score float64
}

func bestSentences(sentences []string, terms []string, in intent) string {
	if len(terms) == 0 {
		return NotAvailable
	}
	var candidates []candidate
	for i, s := range sentences {
		lower := strings.ToLower(s)
		tokens := textutil.TokenSet(s)
		var score float64
		for _, term := range terms {
			if _, exact := tokens[term]; exact {
				score += 2
			} else if strings.Contains(lower, term) {
				score += 1
			}
		}
		if score == 0 {
			continue
		}
		if i < len(sentences)/5+1 {
			score += 0.3
		}
		if listMarker.MatchString(lower) || strings.Contains(s, ":") {
			score += 0.3
		}
		if in.who && (strings.Contains(lower, "between") || hasAny(tokens, whoWords)) {
			score += 1
		}
		if in.what && (strings.Contains(lower, " means ") || strings.Contains(lower, "purpose")) {
			score += 0.5
		}
		words := len(strings.Fields(s))
		if words > 40 {
			score -= float64(words-40) * 0.02
		}
		score /= 1 + float64(words)/100
		if score <= 0 {
			continue
		}
		candidates = append(candidates, candidate{index: i, text: s, score: score})
	}
	if len(candidates) == 0 {
		return NotAvailable
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	picked := candidates[:1]
	if len(candidates) > 1 && candidates[1].score >= candidates[0].score*0.6 {
		picked = candidates[:2]
		if picked[1].index < picked[0].index {
			picked = []candidate{picked[1], picked[0]}
		}
	}
	parts := make([]string, len(picked))
	for i, c := range picked {
		parts[i] = c.text
	}
	out, _ := textutil.LimitWords(strings.Join(parts, " "), answerMaxWords)
	return textutil.EnsureTerminal(out)
}

func contentTerms(tokens []string) []string {
	seen := make(map[string]bool)
	var terms []string
	for _, tok := range tokens {
		if _, stop := stopWords[tok]; stop || len(tok) < 2 || seen[tok] {
			continue
		}
		seen[tok] = true
		terms = append(terms, tok)
	}
	return terms
}

func overlap(tokens map[string]struct{}, terms []string) int {
	n := 0
	for _, t := range terms {
		if _, ok := tokens[t]; ok {
			n++
		}
	}
	return n
}

func hasAny(tokens, set map[string]struct{}) bool {
	for t := range tokens {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}

func wordSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}
