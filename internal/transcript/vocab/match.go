// Package vocab corrects misheard domain terms in transcripts.
//
// A [Corrector] holds a list of terms (product names, people, places) that
// speech recognisers tend to get wrong. Candidate spans of the transcript are
// compared against every term in two stages:
//
//  1. Phonetic filtering: Double Metaphone codes of the span and of the term
//     must share at least one code, and the Jaro-Winkler similarity of the
//     two strings must reach the phonetic threshold.
//
//  2. Fuzzy fallback: without a phonetic overlap the span is still accepted
//     when its Jaro-Winkler similarity reaches the higher fuzzy threshold.
//
// Spans of up to one word more than the longest term are scored and the best
// one wins, so "tower of wispers" is replaced as a whole by "Tower of
// Whispers" and "elder nacks" collapses into "Eldrinax".
package vocab

import (
	"strings"
	"sync"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85

	// minSpanLen is the shortest span (in letters) considered for
	// replacement. Shorter words are too ambiguous to correct.
	minSpanLen = 3
)

// Correction records one replacement.
type Correction struct {
	Original   string  `json:"original"`
	Corrected  string  `json:"corrected"`
	Confidence float64 `json:"confidence"`

	// Phonetic is true when the match passed the phonetic stage.
	Phonetic bool `json:"phonetic"`
}

// Option is a functional option for configuring a [Corrector].
type Option func(*Corrector)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched term to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(c *Corrector) {
		c.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(c *Corrector) {
		c.fuzzyThreshold = threshold
	}
}

type term struct {
	text   string
	lower  string
	tokens []string
	codes  map[string]struct{}
}

// Corrector replaces misheard spans with known terms. It is safe for
// concurrent use; [Corrector.SetTerms] may be called while other goroutines
// correct text.
type Corrector struct {
	phoneticThreshold float64
	fuzzyThreshold    float64

	mu       sync.RWMutex
	terms    []term
	maxWords int
}

// New returns a [Corrector] for terms.
func New(terms []string, opts ...Option) *Corrector {
	c := &Corrector{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(c)
	}
	c.SetTerms(terms)
	return c
}

// SetTerms replaces the vocabulary. Blank entries are ignored.
func (c *Corrector) SetTerms(terms []string) {
	compiled := make([]term, 0, len(terms))
	maxWords := 0
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		lower := strings.ToLower(t)
		tokens := strings.Fields(lower)
		compiled = append(compiled, term{
			text:   t,
			lower:  lower,
			tokens: tokens,
			codes:  codesForTokens(tokens),
		})
		maxWords = max(maxWords, len(tokens))
	}
	c.mu.Lock()
	c.terms = compiled
	c.maxWords = maxWords
	c.mu.Unlock()
}

// Terms returns the current vocabulary.
func (c *Corrector) Terms() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.terms))
	for i, t := range c.terms {
		out[i] = t.text
	}
	return out
}

// Correct returns text with matched spans replaced, and the replacements in
// order of appearance. Punctuation trailing a replaced span is kept. Spans
// that already read exactly like a term are left alone and not reported.
func (c *Corrector) Correct(text string) (string, []Correction) {
	c.mu.RLock()
	terms, maxWords := c.terms, c.maxWords
	c.mu.RUnlock()

	words := strings.Fields(text)
	if len(terms) == 0 || len(words) == 0 {
		return text, nil
	}

	var (
		out         []string
		corrections []Correction
	)
	for i := 0; i < len(words); {
		n, match, ok := c.longestMatch(words[i:], terms, maxWords)
		if !ok {
			out = append(out, words[i])
			i++
			continue
		}
		span := words[i : i+n]
		original := strings.Join(span, " ")
		_, trailing := splitPunct(span[len(span)-1])
		out = append(out, match.Corrected+trailing)
		if match.Corrected != stripPunct(original) {
			match.Original = original
			corrections = append(corrections, match)
		}
		i += n
	}
	if len(corrections) == 0 {
		return text, nil
	}
	return strings.Join(out, " "), corrections
}

// longestMatch returns the best-scoring span at the head of words. Spans run
// up to one word past the longest term, so a term may absorb a word the
// recogniser split in two. Phonetic matches beat fuzzy ones and, between equal
// scores, the longer span wins.
func (c *Corrector) longestMatch(words []string, terms []term, maxWords int) (int, Correction, bool) {
	var (
		best  Correction
		bestN int
	)
	for n := min(maxWords+1, len(words)); n >= 1; n-- {
		tokens := make([]string, n)
		for i, w := range words[:n] {
			tokens[i] = strings.ToLower(stripPunct(w))
		}
		span := strings.Join(tokens, " ")
		if letterCount(span) < minSpanLen {
			continue
		}
		m, ok := c.match(span, tokens, terms)
		if !ok {
			continue
		}
		if bestN == 0 || better(m, best) {
			best, bestN = m, n
		}
	}
	return bestN, best, bestN > 0
}

func better(a, b Correction) bool {
	if a.Phonetic != b.Phonetic {
		return a.Phonetic
	}
	return a.Confidence > b.Confidence
}

// match finds the best term for a lower-cased span.
func (c *Corrector) match(span string, tokens []string, terms []term) (Correction, bool) {
	codes := codesForTokens(tokens)

	var best Correction
	found := false
	for _, t := range terms {
		// Spans never grow past the term they replace by more than a word.
		if len(tokens) > len(t.tokens)+1 || len(t.tokens) > len(tokens)+1 {
			continue
		}
		if !c.leadingAgrees(tokens[0], t.tokens[0]) {
			continue
		}
		phonetic := codesOverlap(codes, t.codes)
		score := bestJWScore(tokens, t.tokens, span, t.lower)

		switch {
		case phonetic && score >= c.phoneticThreshold:
			if !best.Phonetic || score > best.Confidence {
				best = Correction{Corrected: t.text, Confidence: score, Phonetic: true}
				found = true
			}
		case !best.Phonetic && score >= c.fuzzyThreshold && score > best.Confidence:
			best = Correction{Corrected: t.text, Confidence: score}
			found = true
		}
	}
	return best, found
}

// leadingAgrees reports whether the first words of a span and a term sound
// alike or are spelled nearly alike.
func (c *Corrector) leadingAgrees(span, term string) bool {
	if codesOverlap(codesForTokens([]string{span}), codesForTokens([]string{term})) {
		return true
	}
	return matchr.JaroWinkler(span, term, false) >= c.fuzzyThreshold
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore is the highest Jaro-Winkler similarity over the full strings,
// the space-stripped strings and, for equal word counts, the weakest aligned
// word pair.
func bestJWScore(spanTokens, termTokens []string, spanFull, termFull string) float64 {
	score := matchr.JaroWinkler(spanFull, termFull, false)

	if len(spanTokens) > 1 || len(termTokens) > 1 {
		joined := matchr.JaroWinkler(strings.Join(spanTokens, ""), strings.Join(termTokens, ""), false)
		score = max(score, joined)
	}

	if len(spanTokens) == len(termTokens) && len(spanTokens) > 1 {
		worst := 1.0
		for i := range spanTokens {
			worst = min(worst, matchr.JaroWinkler(spanTokens[i], termTokens[i], false))
		}
		score = max(score, worst)
	}
	return score
}

// splitPunct separates trailing punctuation from w.
func splitPunct(w string) (word, trailing string) {
	end := len(w)
	for end > 0 {
		r := rune(w[end-1])
		if r >= 0x80 || !unicode.IsPunct(r) {
			break
		}
		end--
	}
	return w[:end], w[end:]
}

func stripPunct(w string) string {
	return strings.TrimFunc(w, unicode.IsPunct)
}

func letterCount(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			n++
		}
	}
	return n
}
