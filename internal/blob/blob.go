// Package blob stores generated audio and resolves the public URL subscribers
// fetch it from.
package blob

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/loqalabs/loqa-slidecast/internal/config"
)

// Store is an object store keyed by object name.
type Store interface {
	Exists(ctx context.Context, name string) (bool, error)
	Upload(ctx context.Context, name string, data []byte, contentType string) error
	PublicURL(name string) string
}

// New builds the store selected by cfg.Mode. Mode "none" returns a nil Store,
// which callers treat as "no audio backend configured".
func New(cfg config.BlobConfig) (Store, error) {
	switch cfg.Mode {
	case "", "none":
		return nil, nil
	case "local":
		return NewLocalStore(cfg.LocalDir, cfg.PublicBaseURL)
	case "s3":
		return NewS3Store(cfg)
	default:
		return nil, fmt.Errorf("unknown blob mode %q", cfg.Mode)
	}
}

// NormalizeName cleans an object name into slash separated form without a leading slash.
func NormalizeName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	name = strings.TrimPrefix(name, "/")
	for strings.Contains(name, "//") {
		name = strings.ReplaceAll(name, "//", "/")
	}
	return name
}

func escapeName(name string) string {
	parts := strings.Split(NormalizeName(name), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func joinBase(base, name string) string {
	return strings.TrimRight(base, "/") + "/" + escapeName(name)
}
