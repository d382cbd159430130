// Package dialogue decides what a user's reply means for the action they
// were asked to confirm.
package dialogue

import (
	"strings"
	"unicode"
)

// Verdict is the classification of one reply.
type Verdict int

const (
	Unrecognized Verdict = iota
	Affirm
	Cancel
	Select
)

func (v Verdict) String() string {
	switch v {
	case Affirm:
		return "affirm"
	case Cancel:
		return "cancel"
	case Select:
		return "select"
	default:
		return "unrecognized"
	}
}

// Reply is a classified reply. Index is the 1-based selection for Select.
type Reply struct {
	Verdict Verdict
	Index   int
}

// Classify maps text to a verdict using only vocab. When candidates > 0 a
// single digit between 1 and candidates selects that candidate.
func Classify(vocab Vocabulary, text string, candidates int) Reply {
	t := normalize(text)
	if t == "" {
		return Reply{Verdict: Unrecognized}
	}

	if candidates > 0 && len(t) == 1 && t[0] >= '1' && t[0] <= '9' {
		if n := int(t[0] - '0'); n <= candidates {
			return Reply{Verdict: Select, Index: n}
		}
	}

	if n, ok := vocab.Options[t]; ok {
		return Reply{Verdict: Select, Index: n}
	}
	if n, ok := phraseOption(vocab, t); ok {
		return Reply{Verdict: Select, Index: n}
	}

	if matches(t, vocab.Affirm, vocab.AffirmPhrases) {
		return Reply{Verdict: Affirm}
	}
	if matches(t, vocab.Cancel, vocab.CancelPhrases) {
		return Reply{Verdict: Cancel}
	}
	return Reply{Verdict: Unrecognized}
}

func phraseOption(vocab Vocabulary, t string) (int, bool) {
	if len(vocab.OptionPhrases) == 0 || hasWord(t, vocab.Negations) {
		return 0, false
	}
	found := 0
	for _, p := range vocab.OptionPhrases {
		if !strings.Contains(t, p.Phrase) {
			continue
		}
		if found != 0 && found != p.Index {
			return 0, false
		}
		found = p.Index
	}
	return found, found != 0
}

func hasWord(t string, words []string) bool {
	fields := strings.FieldsFunc(t, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
	for _, f := range fields {
		for _, w := range words {
			if f == w {
				return true
			}
		}
	}
	return false
}

func matches(t string, exact, phrases []string) bool {
	for _, tok := range exact {
		if t == tok {
			return true
		}
	}
	for _, p := range phrases {
		if strings.Contains(t, p) {
			return true
		}
	}
	return false
}

// normalize lowercases, trims and strips button decorations and trailing
// punctuation.
func normalize(text string) string {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.TrimLeft(t, "✅❌ ")
	return strings.TrimRight(t, ".!? ")
}
