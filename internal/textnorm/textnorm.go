// Package textnorm canonicalizes speaker notes and deck filenames into the
// stable identity signals used for caching and duplicate detection.
package textnorm

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"sort"
	"strings"
	"unicode/utf8"
)

// DefaultFingerprint is returned for empty notes. It cannot collide with a
// real digest because digests are hex.
const DefaultFingerprint = "default"

const fingerprintLen = 12

// Normalize collapses every whitespace run to a single space and trims the ends.
// Input that is not valid UTF-8 is treated as empty.
func Normalize(context string) string {
	if context == "" || !utf8.ValidString(context) {
		return ""
	}
	return strings.Join(strings.Fields(context), " ")
}

// Fingerprint returns the first 12 hex characters of SHA-256(normalized), or
// DefaultFingerprint when normalized is empty.
func Fingerprint(normalized string) string {
	if normalized == "" {
		return DefaultFingerprint
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}

// IsContentFingerprint reports whether fp was derived from real notes text.
func IsContentFingerprint(fp string) bool {
	return fp != "" && fp != DefaultFingerprint
}

// FilenameNormalizer strips extensions and export suffixes from deck filenames.
type FilenameNormalizer struct {
	suffixes []string
}

func NewFilenameNormalizer(suffixes []string) FilenameNormalizer {
	cleaned := make([]string, 0, len(suffixes))
	for _, s := range suffixes {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			cleaned = append(cleaned, s)
		}
	}
	// Longer tokens first so "with_notes" wins over "notes".
	sort.SliceStable(cleaned, func(i, j int) bool { return len(cleaned[i]) > len(cleaned[j]) })
	return FilenameNormalizer{suffixes: cleaned}
}

// Normalize lowercases name, drops any directory and extension, then repeatedly
// removes a trailing "<sep><suffix>" for each known suffix token.
func (n FilenameNormalizer) Normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ""
	}
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if ext := path.Ext(name); ext != "" && ext != name {
		name = strings.TrimSuffix(name, ext)
	}

	for {
		stripped := false
		for _, suffix := range n.suffixes {
			if trimmed, ok := trimSuffixToken(name, suffix); ok {
				name = trimmed
				stripped = true
			}
		}
		if !stripped {
			break
		}
	}
	return strings.Trim(name, " _-.")
}

func trimSuffixToken(name, token string) (string, bool) {
	if len(name) <= len(token) || !strings.HasSuffix(name, token) {
		return name, false
	}
	rest := name[:len(name)-len(token)]
	switch rest[len(rest)-1] {
	case '_', '-', ' ', '.':
		rest = rest[:len(rest)-1]
	default:
		return name, false
	}
	if rest == "" {
		return name, false
	}
	return rest, true
}
