package translate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaneisley/patience-gate/pkg/cache"
	"github.com/shaneisley/patience-gate/pkg/scheduler"
)

// countingProvider wraps a StaticProvider and counts calls
type countingProvider struct {
	*StaticProvider
	calls atomic.Int32
	delay time.Duration
	fail  error
}

func (p *countingProvider) Translate(ctx context.Context, req Request) (string, error) {
	p.calls.Add(1)
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if p.fail != nil {
		return "", p.fail
	}
	return p.StaticProvider.Translate(ctx, req)
}

func newCounting(name string) *countingProvider {
	return &countingProvider{StaticProvider: NewStaticProvider(name, map[string]map[string]string{
		"fr": {"hello": "bonjour", "cat": "chat"},
		"es": {"hello": "hola"},
	})}
}

func newScheduler(t *testing.T) *scheduler.Scheduler[string] {
	t.Helper()
	s, err := scheduler.New[string](scheduler.Config{
		Rate:           100,
		Capacity:       10,
		Timeout:        time.Second,
		MaxRetries:     1,
		BaseRetryDelay: time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestNewService_Validation(t *testing.T) {
	_, err := NewService(nil, []Provider{newCounting("a")})
	assert.EqualError(t, err, "scheduler is required")

	_, err = NewService(newScheduler(t), nil)
	assert.EqualError(t, err, "at least one provider is required")

	_, err = NewService(newScheduler(t), []Provider{newCounting("a"), newCounting("a")})
	assert.EqualError(t, err, `duplicate provider "a"`)

	svc, err := NewService(newScheduler(t), []Provider{newCounting("b"), newCounting("a")})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, svc.Providers())
}

func TestService_CachesResults(t *testing.T) {
	// Given a service with a memory cache
	provider := newCounting("static")
	store := cache.NewMemoryStore()
	svc, err := NewService(newScheduler(t), []Provider{provider}, WithCache(store, time.Hour))
	require.NoError(t, err)
	ctx := context.Background()

	// When the same request is made twice
	first, err := svc.Translate(ctx, Request{Text: "hello", Target: "fr"})
	require.NoError(t, err)
	second, err := svc.Translate(ctx, Request{Text: "hello", Target: "fr"})
	require.NoError(t, err)

	// Then the provider is called once and the second answer is cached
	assert.Equal(t, "bonjour", first.Translated)
	assert.False(t, first.Cached)
	assert.Equal(t, "static", first.Provider)
	assert.Equal(t, "bonjour", second.Translated)
	assert.True(t, second.Cached)
	assert.Equal(t, int32(1), provider.calls.Load())

	n, _ := store.Len(ctx)
	assert.Equal(t, 1, n)
}

func TestService_DedupsConcurrentRequests(t *testing.T) {
	// Given a slow provider and no cache
	provider := newCounting("static")
	provider.delay = 50 * time.Millisecond
	svc, err := NewService(newScheduler(t), []Provider{provider})
	require.NoError(t, err)

	// When ten callers ask for the same translation at once
	var wg sync.WaitGroup
	results := make([]string, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := svc.Translate(context.Background(), Request{Text: "cat", Target: "fr"})
			if assert.NoError(t, err) {
				results[i] = resp.Translated
			}
		}(i)
	}
	wg.Wait()

	// Then they all share one provider call
	for _, r := range results {
		assert.Equal(t, "chat", r)
	}
	assert.Equal(t, int32(1), provider.calls.Load())
}

func TestService_RoutesByProvider(t *testing.T) {
	a := newCounting("a")
	b := NewStaticProvider("b", map[string]map[string]string{"fr": {"hello": "salut"}})
	svc, err := NewService(newScheduler(t), []Provider{a, b})
	require.NoError(t, err)

	resp, err := svc.Translate(context.Background(), Request{Text: "hello", Target: "fr", Provider: "b"})
	require.NoError(t, err)
	assert.Equal(t, "salut", resp.Translated)
	assert.Equal(t, int32(0), a.calls.Load())

	_, err = svc.Translate(context.Background(), Request{Text: "hello", Target: "fr", Provider: "zzz"})
	assert.EqualError(t, err, `unknown provider "zzz"`)
}

func TestService_PropagatesFailureAfterRetries(t *testing.T) {
	provider := newCounting("static")
	provider.fail = &HTTPError{Provider: "static", StatusCode: 503, RetryAfter: time.Second}
	store := cache.NewMemoryStore()
	svc, err := NewService(newScheduler(t), []Provider{provider}, WithCache(store, 0))
	require.NoError(t, err)

	_, err = svc.Translate(context.Background(), Request{Text: "hello", Target: "fr"})

	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, 503, httpErr.StatusCode)
	assert.True(t, strings.HasPrefix(err.Error(), "translate into fr via static: "))
	assert.Equal(t, int32(2), provider.calls.Load())

	n, _ := store.Len(context.Background())
	assert.Equal(t, 0, n)
}

func TestService_RejectsInvalidRequests(t *testing.T) {
	svc, err := NewService(newScheduler(t), []Provider{newCounting("static")})
	require.NoError(t, err)

	_, err = svc.Translate(context.Background(), Request{Text: "  ", Target: "fr"})
	assert.ErrorIs(t, err, ErrEmptyText)
	_, err = svc.Translate(context.Background(), Request{Text: "hello"})
	assert.ErrorIs(t, err, ErrMissingTarget)
}

func TestService_TranslateBatchKeepsOrder(t *testing.T) {
	svc, err := NewService(newScheduler(t), []Provider{newCounting("static")})
	require.NoError(t, err)

	results := svc.TranslateBatch(context.Background(), []Request{
		{Text: "hello", Target: "fr"},
		{Text: "hello", Target: "es"},
		{Text: "dog", Target: "fr"},
	})

	require.Len(t, results, 3)
	assert.Equal(t, "bonjour", results[0].Response.Translated)
	assert.Equal(t, "hola", results[1].Response.Translated)
	assert.Nil(t, results[2].Response)
	assert.Error(t, results[2].Err)
	assert.Contains(t, results[2].Error, `no translation for "dog"`)
	for i, r := range results {
		assert.Equal(t, i, r.Index)
	}
}

func TestRequest_Key(t *testing.T) {
	base := Request{Text: "hello", Target: "fr", Provider: "p"}

	assert.Equal(t, base.Key(), Request{Text: "hello", Source: "auto", Target: "fr", Provider: "p"}.Key())
	assert.NotEqual(t, base.Key(), Request{Text: "hello", Target: "de", Provider: "p"}.Key())
	assert.NotEqual(t, base.Key(), Request{Text: "hello", Target: "fr", Provider: "q"}.Key())
}
