// Package dedup groups near-duplicate candidate texts.
package dedup

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	DefaultThreshold = 0.82
	DefaultMinLength = 20
)

// Item is the minimal view of a candidate the engine needs.
type Item struct {
	ID   uuid.UUID
	Text string
}

// Group is one representative and the candidates judged duplicates of it.
type Group struct {
	RepresentativeID uuid.UUID   `json:"representative_id"`
	DuplicateIDs     []uuid.UUID `json:"duplicate_ids"`
}

type Options struct {
	Threshold float64
	MinLength int
}

func DefaultOptions() Options {
	return Options{Threshold: DefaultThreshold, MinLength: DefaultMinLength}
}

func (o Options) withDefaults() Options {
	if o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}
	if o.MinLength <= 0 {
		o.MinLength = DefaultMinLength
	}
	return o
}

type prepared struct {
	norm   string
	tokens map[string]struct{}
	skip   bool
}

// GroupDuplicates compares every unvisited candidate with all later
// unvisited ones. Matching is greedy and single-pass: a candidate that joins
// a group is never a representative and never joins a second group.
func GroupDuplicates(items []Item, opts Options) []Group {
	opts = opts.withDefaults()
	lower := cases.Lower(language.Und)

	prep := make([]prepared, len(items))
	for i, it := range items {
		norm := Normalize(lower.String(it.Text))
		toks := Tokens(norm)
		prep[i] = prepared{
			norm:   norm,
			tokens: toks,
			skip:   utf8.RuneCountInString(norm) < opts.MinLength || len(toks) == 0,
		}
	}

	visited := make([]bool, len(items))
	var groups []Group
	for i := range items {
		if visited[i] || prep[i].skip {
			continue
		}
		var dups []uuid.UUID
		for j := i + 1; j < len(items); j++ {
			if visited[j] || prep[j].skip {
				continue
			}
			if isDuplicate(prep[i], prep[j], opts.Threshold) {
				visited[j] = true
				dups = append(dups, items[j].ID)
			}
		}
		if len(dups) > 0 {
			visited[i] = true
			groups = append(groups, Group{RepresentativeID: items[i].ID, DuplicateIDs: dups})
		}
	}
	return groups
}

func isDuplicate(a, b prepared, threshold float64) bool {
	if a.norm == b.norm {
		return true
	}
	return Similarity(a.tokens, b.tokens) >= threshold
}

// Normalize strips punctuation and quotes and collapses whitespace. Callers
// lowercase first.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			continue
		case unicode.IsSpace(r):
			space = b.Len() > 0
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Tokens returns the set of words longer than two runes.
func Tokens(norm string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, w := range strings.Fields(norm) {
		if utf8.RuneCountInString(w) > 2 {
			out[w] = struct{}{}
		}
	}
	return out
}

// Similarity is the mean of the Jaccard index and the Dice coefficient.
func Similarity(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	jaccard := float64(inter) / float64(union)
	dice := 2 * float64(inter) / float64(len(a)+len(b))
	return (jaccard + dice) / 2
}

// Summary counts groups and the candidates placed in them as duplicates.
type Summary struct {
	Groups     int `json:"groups"`
	Duplicates int `json:"duplicates"`
}

func Summarize(groups []Group) Summary {
	s := Summary{Groups: len(groups)}
	for _, g := range groups {
		s.Duplicates += len(g.DuplicateIDs)
	}
	return s
}
