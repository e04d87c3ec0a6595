package translate

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// StaticProvider answers from a fixed dictionary, keyed by target language
// and then by source text. It serves tests and offline demos.
type StaticProvider struct {
	name         string
	translations map[string]map[string]string
}

// NewStaticProvider creates a dictionary-backed provider
func NewStaticProvider(name string, translations map[string]map[string]string) *StaticProvider {
	if translations == nil {
		translations = make(map[string]map[string]string)
	}
	return &StaticProvider{name: name, translations: translations}
}

// Name returns the provider name
func (p *StaticProvider) Name() string {
	return p.name
}

// Translate looks the text up for the requested target
func (p *StaticProvider) Translate(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	byText, ok := p.translations[strings.ToLower(req.Target)]
	if !ok {
		return "", fmt.Errorf("provider %s does not support target %q", p.name, req.Target)
	}
	translated, ok := byText[req.Text]
	if !ok {
		return "", fmt.Errorf("provider %s has no translation for %q", p.name, req.Text)
	}
	return translated, nil
}

// LoadDictionaryFile reads a YAML dictionary of the form
//
//	fr:
//	  hello: bonjour
func LoadDictionaryFile(path string) (map[string]map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dictionary: %w", err)
	}
	var dict map[string]map[string]string
	if err := yaml.Unmarshal(data, &dict); err != nil {
		return nil, fmt.Errorf("failed to parse dictionary: %w", err)
	}
	normalised := make(map[string]map[string]string, len(dict))
	for target, entries := range dict {
		normalised[strings.ToLower(target)] = entries
	}
	return normalised, nil
}
