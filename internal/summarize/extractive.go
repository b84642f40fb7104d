package summarize

import (
	"log/slog"
	"sort"
	"strings"

	"gopherai-docqa/internal/pkg/textutil"
)

const (
	summaryBuckets      = 6
	summaryMaxSentences = 8
	summaryWordBudget   = 180

	neutralSummary = "A summary is not available for this document right now. Please try again later."
	emptySummary   = "This document does not contain readable text to summarize."
)

var priorityKeywords = []string{
	"obligation", "obligations", "shall", "must", "required",
	"payment", "payments", "pay", "fee", "fees", "price", "amount", "due",
	"deadline", "date", "expire", "expires", "expiration",
	"termination", "terminate", "renewal", "term",
	"liability", "liable", "indemnify", "indemnification", "warranty", "penalty", "breach",
	"confidentiality", "confidential", "notice", "governing", "agreement", "party", "parties",
}

var keywordSet = func() map[string]struct{} {
	set := make(map[string]struct{}, len(priorityKeywords))
	for _, k := range priorityKeywords {
		set[k] = struct{}{}
	}
	return set
}()

type scoredSentence struct {
	index int
	text  string
	score float64
}

// Extractive builds a summary from the document's own sentences. It picks the
// best sentence from each of six positional buckets so every part of the
// document is represented, tops up with the best remaining sentences, and
// keeps whole sentences by priority until the word budget is spent. It never
// fails.
func Extractive(text string) (summary string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Default().Error("extractive summary panicked", "panic", r)
			summary = neutralSummary
		}
	}()

	sentences := textutil.SplitSentences(text)
	if len(sentences) == 0 {
		return emptySummary
	}

	scored := make([]scoredSentence, len(sentences))
	for i, s := range sentences {
		scored[i] = scoredSentence{index: i, text: s, score: scoreSentence(s, i, len(sentences))}
	}

	// Bucket winners come first, best first, so the word budget never starves
	// a later part of the document in favour of top-ups.
	var picks []scoredSentence
	chosen := make(map[int]bool)
	n := len(scored)
	for b := 0; b < summaryBuckets; b++ {
		lo, hi := b*n/summaryBuckets, (b+1)*n/summaryBuckets
		if lo >= hi {
			continue
		}
		best := lo
		for i := lo + 1; i < hi; i++ {
			if scored[i].score > scored[best].score {
				best = i
			}
		}
		chosen[best] = true
		picks = append(picks, scored[best])
	}
	sort.SliceStable(picks, func(i, j int) bool { return picks[i].score > picks[j].score })

	ranked := append([]scoredSentence(nil), scored...)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	for _, s := range ranked {
		if len(picks) >= summaryMaxSentences {
			break
		}
		if !chosen[s.index] {
			chosen[s.index] = true
			picks = append(picks, s)
		}
	}

	kept := make([]scoredSentence, 0, len(picks))
	budget := summaryWordBudget
	for _, s := range picks {
		if words := len(strings.Fields(s.text)); words <= budget {
			kept = append(kept, s)
			budget -= words
		}
	}
	if len(kept) == 0 {
		words := strings.Fields(picks[0].text)
		kept = append(kept, scoredSentence{index: picks[0].index, text: strings.Join(words[:summaryWordBudget], " ")})
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].index < kept[j].index })

	parts := make([]string, len(kept))
	for i, s := range kept {
		parts[i] = s.text
	}
	out := textutil.EnsureTerminal(strings.Join(parts, " "))
	if out == "" {
		return emptySummary
	}
	return out
}

func scoreSentence(sentence string, index, total int) float64 {
	tokens := textutil.Tokens(sentence)
	var score float64
	for _, tok := range tokens {
		if _, ok := keywordSet[tok]; ok {
			score += 2
		}
	}

	switch n := len(tokens); {
	case n >= 12 && n <= 35:
		score += 1.5
	case (n >= 8 && n < 12) || (n > 35 && n <= 50):
		score += 0.75
	}

	if index == 0 || index == total-1 {
		score += 0.5
	}
	return score
}
