package answer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractive_Deadline(t *testing.T) {
	ctx := "This report covers the third quarter. The report is due by April 5, 2024. Late reports are not accepted."
	out := Extractive("What is the deadline?", ctx)
	assert.Contains(t, out, "April 5, 2024")
	assert.Contains(t, out, `"The report is due by April 5, 2024."`)
}

func TestExtractive_DeadlineInNeighborSentence(t *testing.T) {
	ctx := "The offer remains valid for a limited time. Final date: 31/12/2025. Contact sales for details."
	out := Extractive("Until when is the offer valid?", ctx)
	assert.Contains(t, out, "31/12/2025")
}

func TestExtractive_DateFormats(t *testing.T) {
	tests := []struct {
		sentence string
		want     string
	}{
		{"The lease expires on 2026-06-30 at noon.", "2026-06-30"},
		{"Payment is due Sept. 15, 2025 without exception.", "Sept. 15, 2025"},
		{"The license ends 1st of March 2027 for all users.", "1st of March 2027"},
		{"Submissions close before 03-14-2025 in every region.", "03-14-2025"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Contains(t, Extractive("When is it due?", tt.sentence), tt.want)
		})
	}
}

func TestExtractive_Amount(t *testing.T) {
	ctx := "The office is located downtown. Monthly rent is $2,450.00 payable in advance. A deposit of 500 EUR is held."
	out := Extractive("How much is the rent?", ctx)
	assert.Contains(t, out, "$2,450.00")
	assert.Contains(t, out, "Monthly rent is $2,450.00 payable in advance.")
}

func TestExtractive_TermOverlap(t *testing.T) {
	ctx := "Acme Corp supplies widgets. The agreement is governed by the laws of Ontario. " +
		"Either party may terminate with thirty days notice."
	out := Extractive("Which laws govern the agreement?", ctx)
	assert.Contains(t, out, "laws of Ontario")
}

func TestExtractive_Who(t *testing.T) {
	ctx := "This agreement is made between Acme Corp and Beta LLC. Deliveries happen weekly. The agreement renews yearly."
	out := Extractive("Who are the parties to the agreement?", ctx)
	assert.Contains(t, out, "between Acme Corp and Beta LLC")
}

func TestExtractive_NotAvailable(t *testing.T) {
	assert.Equal(t, NotAvailable, Extractive("What colour is the sky?", "Invoices are paid monthly."))
	assert.Equal(t, NotAvailable, Extractive("Anything?", ""))
}

func TestExtractive_WordCap(t *testing.T) {
	long := "Warranty "
	for i := 0; i < 150; i++ {
		long += "word "
	}
	out := Extractive("warranty", long+".")
	assert.LessOrEqual(t, len(splitWords(out)), answerMaxWords)
}

func splitWords(s string) []string {
	var words []string
	word := ""
	for _, r := range s {
		if r == ' ' {
			if word != "" {
				words = append(words, word)
			}
			word = ""
			continue
		}
		word += string(r)
	}
	if word != "" {
		words = append(words, word)
	}
	return words
}
