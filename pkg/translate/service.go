package translate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shaneisley/patience-gate/pkg/cache"
	"github.com/shaneisley/patience-gate/pkg/logging"
	"github.com/shaneisley/patience-gate/pkg/scheduler"
)

// Service checks the cache, schedules provider calls and stores their results
type Service struct {
	scheduler       *scheduler.Scheduler[string]
	store           cache.Store
	cacheTTL        time.Duration
	providers       map[string]Provider
	defaultProvider string
	logger          *logging.Logger
	now             func() time.Time
}

// ServiceOption customises a Service
type ServiceOption func(*Service)

// WithCache enables result caching with the given ttl (zero keeps entries forever)
func WithCache(store cache.Store, ttl time.Duration) ServiceOption {
	return func(s *Service) {
		s.store = store
		s.cacheTTL = ttl
	}
}

// WithLogger sets the service logger
func WithLogger(logger *logging.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// NewService wires providers to sched. The first provider is the default.
func NewService(sched *scheduler.Scheduler[string], providers []Provider, opts ...ServiceOption) (*Service, error) {
	if sched == nil {
		return nil, errors.New("scheduler is required")
	}
	if len(providers) == 0 {
		return nil, errors.New("at least one provider is required")
	}

	s := &Service{
		scheduler:       sched,
		providers:       make(map[string]Provider, len(providers)),
		defaultProvider: providers[0].Name(),
		logger:          logging.Nop(),
		now:             time.Now,
	}
	for _, p := range providers {
		if _, exists := s.providers[p.Name()]; exists {
			return nil, fmt.Errorf("duplicate provider %q", p.Name())
		}
		s.providers[p.Name()] = p
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Providers lists provider names in sorted order
func (s *Service) Providers() []string {
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Translate returns a cached translation or schedules one. Identical
// concurrent requests share a single provider call.
func (s *Service) Translate(ctx context.Context, req Request) (*Response, error) {
	start := s.now()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	provider, err := s.provider(req.Provider)
	if err != nil {
		return nil, err
	}
	req.Provider = provider.Name()
	key := req.Key()

	resp := &Response{
		Text:     req.Text,
		Source:   req.Source,
		Target:   req.Target,
		Provider: req.Provider,
	}

	if s.store != nil {
		cached, err := s.store.Get(ctx, key)
		switch {
		case err == nil:
			resp.Translated = cached
			resp.Cached = true
			resp.Duration = s.now().Sub(start)
			s.logger.Debug("cache hit", "key", key, "provider", req.Provider)
			return resp, nil
		case !errors.Is(err, cache.ErrNotFound):
			s.logger.Warn("cache read failed", "key", key, "error", err)
		}
	}

	scheduleAt := req.NotBefore
	if scheduleAt.IsZero() {
		scheduleAt = s.now()
	}
	future := s.scheduler.Enqueue(func(ctx context.Context) (string, error) {
		return provider.Translate(ctx, req)
	}, scheduleAt, key)

	translated, err := future.Wait(ctx)
	if err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.RetryAfter > 0 {
			s.logger.Warn("provider asked to back off", "provider", req.Provider, "retry_after", httpErr.RetryAfter)
		}
		return nil, fmt.Errorf("translate into %s via %s: %w", req.Target, req.Provider, err)
	}

	if s.store != nil {
		if err := s.store.Set(ctx, key, translated, s.cacheTTL); err != nil {
			s.logger.Warn("cache write failed", "key", key, "error", err)
		}
	}

	resp.Translated = translated
	resp.Duration = s.now().Sub(start)
	return resp, nil
}

// BatchResult pairs a batch entry with its outcome
type BatchResult struct {
	Index    int       `json:"index"`
	Response *Response `json:"response,omitempty"`
	Error    string    `json:"error,omitempty"`
	Err      error     `json:"-"`
}

// TranslateBatch translates every request concurrently; results keep input order
func (s *Service) TranslateBatch(ctx context.Context, reqs []Request) []BatchResult {
	results := make([]BatchResult, len(reqs))

	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req Request) {
			defer wg.Done()
			resp, err := s.Translate(ctx, req)
			results[i] = BatchResult{Index: i, Response: resp, Err: err}
			if err != nil {
				results[i].Error = err.Error()
			}
		}(i, req)
	}
	wg.Wait()

	return results
}

func (s *Service) provider(name string) (Provider, error) {
	if name == "" {
		name = s.defaultProvider
	}
	p, ok := s.providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	return p, nil
}
