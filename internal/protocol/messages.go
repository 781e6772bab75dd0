package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidEvent marks a slide change event rejected at the boundary.
var ErrInvalidEvent = errors.New("invalid slide change event")

const maxContextBytes = 64 * 1024

// FlexString accepts a JSON string, number or null. Upstream exporters send
// page numbers either way.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*f = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(strings.TrimSpace(s))
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("expected string or number: %w", err)
		}
		if i, err := n.Int64(); err == nil {
			*f = FlexString(strconv.FormatInt(i, 10))
			return nil
		}
		*f = FlexString(n.String())
		return nil
	}
}

func (f FlexString) String() string { return string(f) }

// LanguageMessage is the per-language payload. On the wire it may be a plain
// string (text only) or an object; it is always written as an object.
type LanguageMessage struct {
	Text      string `json:"text"`
	AudioURL  string `json:"audio_url,omitempty"`
	SlideLink string `json:"slide_link,omitempty"`
}

func (m *LanguageMessage) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*m = LanguageMessage{Text: text}
		return nil
	}
	type plain LanguageMessage
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("expected string or message object: %w", err)
	}
	*m = LanguageMessage(p)
	return nil
}

// SlideChangeEvent is the inbound request to broadcast the current slide.
type SlideChangeEvent struct {
	CourseID           string            `json:"course_id,omitempty"`
	Context            string            `json:"context"`
	PPTFilename        string            `json:"ppt_filename,omitempty"`
	PageNumber         FlexString        `json:"page_number,omitempty"`
	Languages          []string          `json:"languages,omitempty"`
	LanguageSlideLinks map[string]string `json:"language_slide_links,omitempty"`
	TraceID            string            `json:"trace_id,omitempty"`
}

// DecodeSlideChangeEvent parses and validates a wire event.
func DecodeSlideChangeEvent(data []byte) (SlideChangeEvent, error) {
	var evt SlideChangeEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return SlideChangeEvent{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if err := evt.Validate(); err != nil {
		return SlideChangeEvent{}, err
	}
	return evt, nil
}

// Validate trims identifiers, drops blank and repeated languages, and rejects
// malformed slide links.
func (e *SlideChangeEvent) Validate() error {
	e.CourseID = strings.TrimSpace(e.CourseID)
	e.PPTFilename = strings.TrimSpace(e.PPTFilename)
	e.PageNumber = FlexString(strings.TrimSpace(string(e.PageNumber)))
	if len(e.Context) > maxContextBytes {
		return fmt.Errorf("%w: context exceeds %d bytes", ErrInvalidEvent, maxContextBytes)
	}
	if strings.ContainsAny(e.CourseID, "/.") {
		return fmt.Errorf("%w: course_id must not contain '/' or '.'", ErrInvalidEvent)
	}

	seen := make(map[string]bool, len(e.Languages))
	langs := e.Languages[:0]
	for _, lang := range e.Languages {
		lang = strings.TrimSpace(lang)
		if lang == "" || seen[strings.ToLower(lang)] {
			continue
		}
		seen[strings.ToLower(lang)] = true
		langs = append(langs, lang)
	}
	e.Languages = langs

	for lang, link := range e.LanguageSlideLinks {
		if strings.TrimSpace(lang) == "" {
			return fmt.Errorf("%w: slide link with empty language", ErrInvalidEvent)
		}
		u, err := url.Parse(link)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: slide link for %s is not an http(s) URL", ErrInvalidEvent, lang)
		}
	}
	return nil
}

// LanguageFailure reports one language that failed a stage.
type LanguageFailure struct {
	Language string `json:"language"`
	Stage    string `json:"stage"`
	Error    string `json:"error"`
}

// BroadcastAck answers an ingest request.
type BroadcastAck struct {
	OK         bool              `json:"ok"`
	CourseSlot string            `json:"course_slot,omitempty"`
	MessageID  string            `json:"message_id,omitempty"`
	Rule       string            `json:"rule,omitempty"`
	Languages  []string          `json:"languages,omitempty"`
	Failures   []LanguageFailure `json:"failures,omitempty"`
	Error      string            `json:"error,omitempty"`
	TraceID    string            `json:"trace_id,omitempty"`
}

// BroadcastNotice is published after the current state changes.
type BroadcastNotice struct {
	CourseSlot  string                     `json:"course_slot"`
	CourseID    string                     `json:"course_id,omitempty"`
	MessageID   string                     `json:"message_id"`
	Rule        string                     `json:"rule"`
	PPTFilename string                     `json:"ppt_filename,omitempty"`
	PageNumber  string                     `json:"page_number,omitempty"`
	ContextHash string                     `json:"context_hash"`
	Languages   map[string]LanguageMessage `json:"languages"`
	Timestamp   time.Time                  `json:"timestamp"`
}
