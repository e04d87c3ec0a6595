package translate

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// BatchFile is the YAML layout accepted by LoadBatch. Fields left empty on a
// request are taken from Defaults.
type BatchFile struct {
	Defaults Request   `yaml:"defaults"`
	Requests []Request `yaml:"requests"`
}

// LoadBatch decodes a YAML batch and applies its defaults
func LoadBatch(r io.Reader) ([]Request, error) {
	return LoadBatchWithFallback(r, Request{})
}

// LoadBatchWithFallback is LoadBatch with a second layer of defaults consulted
// after the file's own, used for command-line flags
func LoadBatchWithFallback(r io.Reader, fallback Request) ([]Request, error) {
	var file BatchFile
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse batch: %w", err)
	}

	requests := make([]Request, 0, len(file.Requests))
	for i, req := range file.Requests {
		req = req.withDefaults(file.Defaults).withDefaults(fallback)
		if err := req.Validate(); err != nil {
			return nil, fmt.Errorf("request %d: %w", i, err)
		}
		requests = append(requests, req)
	}
	return requests, nil
}

// LoadBatchFile reads a batch from path; fallback fills fields the file leaves empty
func LoadBatchFile(path string, fallback Request) ([]Request, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open batch file: %w", err)
	}
	defer f.Close()
	return LoadBatchWithFallback(f, fallback)
}

func (r Request) withDefaults(d Request) Request {
	if r.Source == "" {
		r.Source = d.Source
	}
	if r.Target == "" {
		r.Target = d.Target
	}
	if r.Provider == "" {
		r.Provider = d.Provider
	}
	if r.NotBefore.IsZero() {
		r.NotBefore = d.NotBefore
	}
	return r
}
