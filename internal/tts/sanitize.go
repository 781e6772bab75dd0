package tts

import (
	"strings"
	"unicode"
)

var markdownSymbols = strings.NewReplacer(
	"**", "", "__", "", "##", "", "`", "", "~~", "",
	"*", "", "#", "", ">", "", "|", "",
)

// Sanitize strips markup, emoji and control characters that speech engines
// either read aloud or reject, then collapses whitespace.
func Sanitize(text string) string {
	text = markdownSymbols.Replace(text)
	text = strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t' || r == '\r':
			return ' '
		case unicode.IsControl(r):
			return -1
		case unicode.Is(unicode.So, r), unicode.Is(unicode.Cs, r), unicode.Is(unicode.Co, r):
			return -1
		case r == '\u200d' || r == '\ufe0f' || r == '\ufffd':
			return -1
		}
		return r
	}, text)
	return strings.Join(strings.Fields(text), " ")
}
