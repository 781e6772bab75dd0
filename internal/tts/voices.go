package tts

import (
	"strings"

	"github.com/loqalabs/loqa-slidecast/internal/config"
)

// VoiceParams is the per-language voice selection handed to a synthesizer.
type VoiceParams struct {
	Voice string
	Model string
}

// VoiceSelector resolves voices from course overrides, then configured
// per-language voices, then the default voice.
type VoiceSelector struct {
	model        string
	defaultVoice string
	voices       map[string]string
}

func NewVoiceSelector(cfg config.TTSConfig) VoiceSelector {
	voices := make(map[string]string, len(cfg.Voices))
	for lang, voice := range cfg.Voices {
		voices[strings.ToLower(lang)] = voice
	}
	return VoiceSelector{model: cfg.Model, defaultVoice: cfg.DefaultVoice, voices: voices}
}

// Select picks voice parameters for language. courseVoices may be nil.
func (v VoiceSelector) Select(courseVoices map[string]string, language string) VoiceParams {
	lang := strings.ToLower(strings.TrimSpace(language))
	if voice := lookupVoice(courseVoices, lang); voice != "" {
		return VoiceParams{Voice: voice, Model: v.model}
	}
	if voice := lookupVoice(v.voices, lang); voice != "" {
		return VoiceParams{Voice: voice, Model: v.model}
	}
	return VoiceParams{Voice: v.defaultVoice, Model: v.model}
}

// lookupVoice tries the full tag, then the base language ("zh" for "zh-cn").
func lookupVoice(voices map[string]string, lang string) string {
	if len(voices) == 0 || lang == "" {
		return ""
	}
	for key, voice := range voices {
		if strings.EqualFold(key, lang) {
			return voice
		}
	}
	if base, _, ok := strings.Cut(lang, "-"); ok {
		for key, voice := range voices {
			if strings.EqualFold(key, base) {
				return voice
			}
		}
	}
	return ""
}
