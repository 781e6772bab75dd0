package textnorm

import (
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"":                          "",
		"   ":                       "",
		"hello":                     "hello",
		"  hello   world \n":        "hello world",
		"line one\n\tline\r\n two ": "line one line two",
		"\xff\xfe broken":           "",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFingerprintWhitespaceInsensitive(t *testing.T) {
	variants := []string{
		"Photosynthesis converts light into chemical energy.",
		"  Photosynthesis converts light   into chemical energy.  ",
		"Photosynthesis\nconverts\tlight into\r\nchemical energy.",
	}
	want := Fingerprint(Normalize(variants[0]))
	for _, v := range variants[1:] {
		if got := Fingerprint(Normalize(v)); got != want {
			t.Fatalf("fingerprint mismatch for %q: %s != %s", v, got, want)
		}
	}
}

func TestFingerprintShape(t *testing.T) {
	fp := Fingerprint("hello world")
	if len(fp) != 12 {
		t.Fatalf("expected 12 chars, got %d", len(fp))
	}
	if strings.ToLower(fp) != fp {
		t.Fatalf("expected lowercase hex, got %s", fp)
	}
	// sha256("hello world") = b94d27b9934d3e08...
	if fp != "b94d27b9934d" {
		t.Fatalf("unexpected digest prefix %s", fp)
	}
	if Fingerprint("") != DefaultFingerprint {
		t.Fatalf("expected sentinel for empty context")
	}
	if IsContentFingerprint(DefaultFingerprint) || !IsContentFingerprint(fp) {
		t.Fatal("content fingerprint classification wrong")
	}
}

func TestFilenameNormalizer(t *testing.T) {
	n := NewFilenameNormalizer([]string{"with_notes", "notes", "visual", "enhanced", "zh-cn", "en"})
	cases := map[string]string{
		"Deck_v1_with_notes.pptx":       "deck_v1",
		"deck_v1.pptx":                  "deck_v1",
		"DECK_V1_visual_zh-CN.PPTX":     "deck_v1",
		"lecture-03-enhanced.pptx":      "lecture-03",
		"uploads/Week 2 Notes.pdf":      "week 2",
		"notes.pptx":                    "notes",
		"garden.pptx":                   "garden",
		"":                              "",
		"slides.with.dots_en.pptx":      "slides.with.dots",
		"presentation_visual_notes.key": "presentation",
	}
	for in, want := range cases {
		if got := n.Normalize(in); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFilenameNormalizerRequiresSeparator(t *testing.T) {
	n := NewFilenameNormalizer([]string{"en"})
	if got := n.Normalize("garden.pptx"); got != "garden" {
		t.Fatalf("suffix without separator must stay, got %q", got)
	}
}
