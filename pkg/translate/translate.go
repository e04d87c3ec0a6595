// Package translate puts translation providers behind the request scheduler
// and the result cache.
package translate

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shaneisley/patience-gate/pkg/cache"
)

// ErrEmptyText is returned for requests with nothing to translate
var ErrEmptyText = errors.New("text must not be empty")

// ErrMissingTarget is returned for requests without a target language
var ErrMissingTarget = errors.New("target language must be set")

// Request describes one translation
type Request struct {
	Text     string `json:"text" yaml:"text"`
	Source   string `json:"source,omitempty" yaml:"source,omitempty"` // empty means auto-detect
	Target   string `json:"target" yaml:"target"`
	Provider string `json:"provider,omitempty" yaml:"provider,omitempty"`

	// NotBefore defers dispatch; zero means as soon as a token allows
	NotBefore time.Time `json:"not_before,omitempty" yaml:"not_before,omitempty"`
}

// Validate checks the request is translatable
func (r Request) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return ErrEmptyText
	}
	if strings.TrimSpace(r.Target) == "" {
		return ErrMissingTarget
	}
	return nil
}

// Key identifies identical requests for caching and dedup
func (r Request) Key() string {
	source := r.Source
	if source == "" {
		source = "auto"
	}
	return cache.Fingerprint(r.Provider, source, r.Target, r.Text)
}

// Response is a completed translation
type Response struct {
	Text       string        `json:"text"`
	Translated string        `json:"translated"`
	Source     string        `json:"source,omitempty"`
	Target     string        `json:"target"`
	Provider   string        `json:"provider"`
	Cached     bool          `json:"cached"`
	Duration   time.Duration `json:"duration"`
}

// Provider is a translation backend
type Provider interface {
	Name() string
	Translate(ctx context.Context, req Request) (string, error)
}
