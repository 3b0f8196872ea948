package dedup

import (
	"testing"

	"github.com/google/uuid"
)

var corpus = []string{
	"User can reset password via email",
	"user can reset password via email link",
	"The user can reset the password via an email link.",
	"Reports can be exported to CSV and PDF formats.",
	"Reports can be exported to CSV, PDF and XLSX formats.",
	"The system shall lock the account after five failed logins.",
	"Admins can export audit reports as CSV files.",
	"OK",
	"Login page loads in under two seconds.",
}

func items(texts ...string) []Item {
	out := make([]Item, len(texts))
	for i, t := range texts {
		out[i] = Item{ID: uuid.New(), Text: t}
	}
	return out
}

func TestGroupDuplicatesNearIdentical(t *testing.T) {
	in := items("User can reset password via email", "user can reset password via email link")
	groups := GroupDuplicates(in, DefaultOptions())
	if len(groups) != 1 {
		t.Fatalf("expected one group, got %d", len(groups))
	}
	if groups[0].RepresentativeID != in[0].ID || len(groups[0].DuplicateIDs) != 1 || groups[0].DuplicateIDs[0] != in[1].ID {
		t.Fatalf("unexpected group %+v", groups[0])
	}
}

func TestGroupDuplicatesCorpus(t *testing.T) {
	in := items(corpus...)
	groups := GroupDuplicates(in, DefaultOptions())
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d: %+v", len(groups), groups)
	}
	if groups[0].RepresentativeID != in[0].ID || groups[1].RepresentativeID != in[3].ID {
		t.Fatalf("unexpected representatives %+v", groups)
	}
	if s := Summarize(groups); s.Groups != 2 || s.Duplicates != 2 {
		t.Fatalf("unexpected summary %+v", s)
	}
}

func TestGroupDuplicatesNoOverlap(t *testing.T) {
	in := items(corpus...)
	for _, th := range []float64{0.3, 0.5, 0.82, 0.9} {
		seen := map[uuid.UUID]bool{}
		reps := map[uuid.UUID]bool{}
		for _, g := range GroupDuplicates(in, Options{Threshold: th}) {
			reps[g.RepresentativeID] = true
			for _, id := range g.DuplicateIDs {
				if seen[id] {
					t.Fatalf("threshold %v: %s appears in two groups", th, id)
				}
				seen[id] = true
			}
		}
		for id := range reps {
			if seen[id] {
				t.Fatalf("threshold %v: representative %s also listed as duplicate", th, id)
			}
		}
	}
}

// Greedy grouping is only monotonic in the threshold when no item bridges two
// tighter pairs; this corpus has no such chain.
func TestGroupDuplicatesThresholdMonotonicOnCorpus(t *testing.T) {
	in := items(corpus...)
	prev := -1
	for _, th := range []float64{0.3, 0.5, 0.6, 0.7, 0.82, 0.9, 0.95, 1.0} {
		n := Summarize(GroupDuplicates(in, Options{Threshold: th})).Duplicates
		if prev >= 0 && n > prev {
			t.Fatalf("threshold %v grouped %d duplicates, more than %d at a lower threshold", th, n, prev)
		}
		prev = n
	}
	if prev != 0 {
		t.Fatalf("expected no groups at threshold 1.0, got %d", prev)
	}
}

func TestGroupDuplicatesSkipsShortText(t *testing.T) {
	in := items("OK", "OK", "Yes!!", "yes")
	if groups := GroupDuplicates(in, DefaultOptions()); len(groups) != 0 {
		t.Fatalf("expected short texts to be skipped, got %+v", groups)
	}
}

func TestGroupDuplicatesIdenticalAfterNormalization(t *testing.T) {
	in := items(
		`"The SYSTEM shall   support single sign-on."`,
		"the system shall support single signon",
	)
	groups := GroupDuplicates(in, Options{Threshold: 1.0})
	if len(groups) != 1 {
		t.Fatalf("expected identical normalized texts to group, got %+v", groups)
	}
}

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"  hello,   world!  ":       "hello world",
		`«quoted» "text" 'here'`:    "quoted text here",
		"tabs\tand\nnewlines":       "tabs and newlines",
		"café — naïve":              "café naïve",
		"":                          "",
	}
	for in, want := range tests {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSimilarity(t *testing.T) {
	a := Tokens("user can reset password via email")
	b := Tokens("user can reset password via email link")
	got := Similarity(a, b)
	if got < 0.88 || got > 0.90 {
		t.Fatalf("expected ~0.89, got %v", got)
	}
	if Similarity(a, map[string]struct{}{}) != 0 {
		t.Fatal("expected zero similarity against empty set")
	}
}
