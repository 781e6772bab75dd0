package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeSlideChangeEvent(t *testing.T) {
	evt, err := DecodeSlideChangeEvent([]byte(`{
		"course_id": " bio101 ",
		"context": "Cells divide.",
		"ppt_filename": "Deck_v1_with_notes.pptx",
		"page_number": 3,
		"languages": ["en", " zh-CN ", "", "EN", "fr"],
		"language_slide_links": {"en": "https://slides.example.com/en/3"}
	}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if evt.CourseID != "bio101" || evt.PageNumber != "3" {
		t.Fatalf("unexpected event %+v", evt)
	}
	want := []string{"en", "zh-CN", "fr"}
	if len(evt.Languages) != len(want) {
		t.Fatalf("expected %v, got %v", want, evt.Languages)
	}
	for i := range want {
		if evt.Languages[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, evt.Languages)
		}
	}
}

func TestDecodeSlideChangeEventRejects(t *testing.T) {
	cases := map[string]string{
		"malformed json":  `{"context": `,
		"bad page type":   `{"page_number": true}`,
		"bad slide link":  `{"language_slide_links": {"en": "javascript:alert(1)"}}`,
		"empty link lang": `{"language_slide_links": {" ": "https://x.example.com"}}`,
		"course path":     `{"course_id": "a/b"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodeSlideChangeEvent([]byte(body)); !errors.Is(err, ErrInvalidEvent) {
				t.Fatalf("expected ErrInvalidEvent, got %v", err)
			}
		})
	}
}

func TestFlexString(t *testing.T) {
	cases := map[string]FlexString{
		`"12"`:    "12",
		`" 7 "`:   "7",
		`12`:      "12",
		`12.5`:    "12.5",
		`null`:    "",
		`"cover"`: "cover",
	}
	for in, want := range cases {
		var got FlexString
		if err := json.Unmarshal([]byte(in), &got); err != nil {
			t.Fatalf("unmarshal %s: %v", in, err)
		}
		if got != want {
			t.Fatalf("unmarshal %s = %q, want %q", in, got, want)
		}
	}
}

func TestLanguageMessageUnion(t *testing.T) {
	var msgs map[string]LanguageMessage
	err := json.Unmarshal([]byte(`{
		"en": "Hello class",
		"zh": {"text": "同学们好", "audio_url": "https://cdn/zh.mp3"}
	}`), &msgs)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msgs["en"].Text != "Hello class" || msgs["en"].AudioURL != "" {
		t.Fatalf("unexpected string form %+v", msgs["en"])
	}
	if msgs["zh"].AudioURL != "https://cdn/zh.mp3" {
		t.Fatalf("unexpected object form %+v", msgs["zh"])
	}

	out, err := json.Marshal(msgs["en"])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"text":"Hello class"}` {
		t.Fatalf("expected object without audio key, got %s", out)
	}

	var bad LanguageMessage
	if err := json.Unmarshal([]byte(`42`), &bad); err == nil {
		t.Fatal("expected error for numeric message")
	}
}

func TestBroadcastSubject(t *testing.T) {
	if got := BroadcastSubject("bio101"); got != "slidecast.broadcast.bio101" {
		t.Fatalf("unexpected subject %q", got)
	}
	if got := BroadcastSubject("a.b *>"); got != "slidecast.broadcast.a_b___" {
		t.Fatalf("unexpected sanitized subject %q", got)
	}
}
