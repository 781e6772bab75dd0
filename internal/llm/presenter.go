package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/loqalabs/loqa-slidecast/internal/config"
	"github.com/loqalabs/loqa-slidecast/internal/textnorm"
)

const presenterSystem = "You are a creative assistant that generates warm, friendly, and appropriate " +
	"messages for classroom settings. Generate messages that are welcoming, encouraging, " +
	"and culturally sensitive."

// PresenterInput is one per-language generation request for a slide.
type PresenterInput struct {
	Language    string
	Context     string
	Fingerprint string
	// Theme is the course description or name, empty when no course is known.
	Theme string
}

// Presenter turns speaker notes into a short localized introduction line.
type Presenter struct {
	gen      Generator
	defaults Request
}

func NewPresenter(gen Generator, cfg config.LLMConfig) *Presenter {
	return &Presenter{gen: gen, defaults: OptionsFromConfig(cfg)}
}

// Message generates the presenter text for in. Empty completions are errors.
func (p *Presenter) Message(ctx context.Context, in PresenterInput) (string, error) {
	req := p.defaults
	req.SessionID = SessionID(in.Language, in.Fingerprint)
	req.System = presenterSystem
	req.Prompt = PresenterPrompt(in)
	text, err := Complete(ctx, p.gen, req)
	if err != nil {
		return "", fmt.Errorf("generate %s message: %w", in.Language, err)
	}
	return text, nil
}

// PresenterPrompt renders the user prompt for in.
func PresenterPrompt(in PresenterInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate a presentation introduction message for a classroom presentation in %s. ", in.Language)
	if in.Theme != "" {
		fmt.Fprintf(&b, "Presentation theme: %s. ", in.Theme)
	}
	if in.Context != "" {
		fmt.Fprintf(&b, "Context: %s. ", in.Context)
	}
	b.WriteString("Keep it brief (1-2 sentences), professional, and engaging. ")
	b.WriteString("Return ONLY the message text, no explanations.")
	return b.String()
}

// SessionID keys model conversations per language and notes content so
// different slides never share history.
func SessionID(language, fingerprint string) string {
	lang := strings.ToLower(strings.TrimSpace(language))
	if lang == "" {
		lang = "unknown"
	}
	if fingerprint == "" {
		fingerprint = textnorm.DefaultFingerprint
	}
	return "presentation_gen_" + lang + "_" + fingerprint
}
