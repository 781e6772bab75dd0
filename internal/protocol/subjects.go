package protocol

import "strings"

const (
	SubjectSlideChanged    = "slidecast.slides.changed"
	SubjectBroadcastPrefix = "slidecast.broadcast"
)

// BroadcastSubject returns the notice subject for a course slot. Characters
// with meaning in NATS subjects are replaced so a slot is always one token.
func BroadcastSubject(courseSlot string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, courseSlot)
	if token == "" {
		token = "_"
	}
	return SubjectBroadcastPrefix + "." + token
}
