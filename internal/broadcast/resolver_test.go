package broadcast

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		name      string
		prev, cur slideIdentity
		rule      string
		duplicate bool
	}{
		{
			name:      "normalized filenames and page",
			prev:      slideIdentity{filename: "Deck_notes.pptx", normalized: "deck", page: "3", fingerprint: "aaaaaaaaaaaa"},
			cur:       slideIdentity{filename: "deck.pptx", normalized: "deck", page: "3", fingerprint: "bbbbbbbbbbbb"},
			rule:      RuleFilenamePage,
			duplicate: true,
		},
		{
			name:      "raw filenames when one side lacks a normalized name",
			prev:      slideIdentity{filename: "deck.pptx", page: "3"},
			cur:       slideIdentity{filename: "deck.pptx", normalized: "deck", page: "3"},
			rule:      RuleFilenamePage,
			duplicate: true,
		},
		{
			name:      "different page falls through to fingerprint",
			prev:      slideIdentity{normalized: "deck", page: "3", fingerprint: "aaaaaaaaaaaa"},
			cur:       slideIdentity{normalized: "deck", page: "4", fingerprint: "aaaaaaaaaaaa"},
			rule:      RuleFingerprint,
			duplicate: true,
		},
		{
			name:      "missing page uses fingerprint",
			prev:      slideIdentity{normalized: "deck", fingerprint: "aaaaaaaaaaaa"},
			cur:       slideIdentity{normalized: "deck", fingerprint: "aaaaaaaaaaaa"},
			rule:      RuleFingerprint,
			duplicate: true,
		},
		{
			name: "empty notes sentinel is not an identity",
			prev: slideIdentity{fingerprint: "default"},
			cur:  slideIdentity{fingerprint: "default"},
			rule: RuleNewSlide,
		},
		{
			name: "different everything",
			prev: slideIdentity{normalized: "deck", page: "1", fingerprint: "aaaaaaaaaaaa"},
			cur:  slideIdentity{normalized: "deck", page: "2", fingerprint: "bbbbbbbbbbbb"},
			rule: RuleNewSlide,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rule, dup := classify(tc.prev, tc.cur)
			if rule != tc.rule || dup != tc.duplicate {
				t.Fatalf("got (%s, %v), want (%s, %v)", rule, dup, tc.rule, tc.duplicate)
			}
		})
	}
}

func TestDeterministicID(t *testing.T) {
	if got := deterministicID(slideIdentity{fingerprint: "0123456789ab", normalized: "deck", page: "1"}); got != "ctx-0123456789ab" {
		t.Fatalf("fingerprint should win, got %q", got)
	}
	if got := deterministicID(slideIdentity{fingerprint: "default", normalized: "intro deck", page: "1/2"}); got != "slide-intro_deck-1_2" {
		t.Fatalf("unexpected filename id %q", got)
	}
	if got := deterministicID(slideIdentity{fingerprint: "default", normalized: "deck"}); got != "" {
		t.Fatalf("expected no id without page, got %q", got)
	}
}

func TestPoolSize(t *testing.T) {
	cases := []struct{ n, limit, want int }{
		{n: 2, limit: 5, want: 2},
		{n: 9, limit: 5, want: 5},
		{n: 0, limit: 5, want: 1},
		{n: 3, limit: 0, want: 1},
	}
	for _, tc := range cases {
		if got := poolSize(tc.n, tc.limit); got != tc.want {
			t.Fatalf("poolSize(%d, %d) = %d, want %d", tc.n, tc.limit, got, tc.want)
		}
	}
}

func TestResolveLanguages(t *testing.T) {
	got := resolveLanguages(nil, []string{" ", "EN", "en", "fr"}, []string{"de"})
	if len(got) != 2 || got[0] != "EN" || got[1] != "fr" {
		t.Fatalf("unexpected languages %v", got)
	}
	if resolveLanguages(nil, []string{""}) != nil {
		t.Fatal("expected nil for empty sources")
	}
}
