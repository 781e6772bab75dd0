package broadcast

import (
	"context"
	"log/slog"
	"strings"

	"github.com/loqalabs/loqa-slidecast/internal/docstore"
)

// CoursesCollection holds per-course settings managed by the admin tooling.
const CoursesCollection = "courses"

// course is the part of a course document the broadcaster reads.
type course struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Languages   []string          `json:"languages"`
	Voices      map[string]string `json:"voices"`
}

func (c course) theme() string {
	if c.Description != "" {
		return c.Description
	}
	return c.Name
}

// loadCourse returns the zero course when id is empty, the document is
// missing, or the lookup fails; the broadcast then falls back to config.
func (b *Broadcaster) loadCourse(ctx context.Context, id string) course {
	if id == "" {
		return course{}
	}
	fields, ok, err := b.docs.Get(ctx, CoursesCollection, id)
	if err != nil {
		b.logger.Warn("course lookup failed", slog.String("course_id", id), slogError(err))
		return course{}
	}
	if !ok {
		return course{}
	}
	var c course
	if err := docstore.Decode(fields, &c); err != nil {
		b.logger.Warn("course document malformed", slog.String("course_id", id), slogError(err))
		return course{}
	}
	return c
}

// resolveLanguages picks the first non-empty source and drops blanks and
// case-insensitive repeats while keeping order.
func resolveLanguages(sources ...[]string) []string {
	for _, src := range sources {
		seen := make(map[string]bool, len(src))
		var out []string
		for _, lang := range src {
			lang = strings.TrimSpace(lang)
			key := strings.ToLower(lang)
			if lang == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, lang)
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}
