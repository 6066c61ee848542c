package reconcile

import (
	"strings"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"
	"golang.org/x/text/unicode/norm"
)

// NormalizeKey folds a header or canonical name to the key used for fuzzy
// matching: compatibility-normalized, lower-cased, letters and digits only.
func NormalizeKey(s string) string {
	s = strings.ToLower(norm.NFKC.String(s))
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Similarity returns the Ratcliff/Obershelp ratio 2*M/T of two strings,
// where M counts matched characters and T is the combined length. Two empty
// strings are identical.
func Similarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	m := difflib.NewMatcher(runes(a), runes(b))
	return m.Ratio()
}

func runes(s string) []string {
	out := make([]string, 0, utf8.RuneCountInString(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

// Candidate is a canonical name with its precomputed key.
type Candidate struct {
	Index   int
	Display string
	Key     string
}

// Matcher finds the best canonical candidate for a normalized key.
type Matcher struct {
	candidates []Candidate
	cutoff     float64
}

// NewMatcher precomputes candidate keys for the canonical display names.
func NewMatcher(canonical []string, cutoff float64) *Matcher {
	candidates := make([]Candidate, len(canonical))
	for i, name := range canonical {
		candidates[i] = Candidate{Index: i, Display: name, Key: NormalizeKey(name)}
	}
	return &Matcher{candidates: candidates, cutoff: cutoff}
}

// Candidates returns the canonical candidates in schema order.
func (m *Matcher) Candidates() []Candidate {
	return m.candidates
}

// Cutoff returns the minimum accepted similarity.
func (m *Matcher) Cutoff() float64 {
	return m.cutoff
}

// BestMatch returns the candidate with the highest similarity to key that
// clears the cutoff. Equal scores keep the earliest candidate in schema
// order. ok is false when nothing clears the cutoff.
func (m *Matcher) BestMatch(key string) (best Candidate, score float64, ok bool) {
	score = -1
	for _, c := range m.candidates {
		s := Similarity(c.Key, key)
		if s < m.cutoff {
			continue
		}
		if s > score {
			best, score, ok = c, s, true
		}
	}
	if !ok {
		return Candidate{}, 0, false
	}
	return best, score, true
}
