package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shaneisley/patience-gate/pkg/cache"
	"github.com/shaneisley/patience-gate/pkg/config"
	"github.com/shaneisley/patience-gate/pkg/logging"
	"github.com/shaneisley/patience-gate/pkg/metrics"
	"github.com/shaneisley/patience-gate/pkg/scheduler"
	"github.com/shaneisley/patience-gate/pkg/storage"
	"github.com/shaneisley/patience-gate/pkg/translate"
)

// resultsCache is the registry name of the translation cache
const resultsCache = "results"

// Retention of settled task records kept for the stats endpoints
const (
	maxStoredMetrics = 10000
	metricsMaxAge    = 24 * time.Hour
)

// Runtime is the in-process translation stack: one scheduler, its cache and
// its metrics, shared by the daemon and by the CLI when no daemon runs.
type Runtime struct {
	Config    *config.Config
	Logger    *logging.Logger
	Scheduler *scheduler.Scheduler[string]
	Service   *translate.Service
	Caches    *cache.Registry
	Collector *metrics.Collector
	Storage   *storage.MetricsStorage
}

// NewRuntime builds the stack described by cfg
func NewRuntime(cfg *config.Config, logger *logging.Logger) (*Runtime, error) {
	provider, err := NewProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}

	store, err := cache.Open(cfg.Cache.Backend, cfg.Cache.Location())
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	caches := cache.NewRegistry()
	if err := caches.Register(resultsCache, store); err != nil {
		store.Close()
		return nil, err
	}

	metricsStorage := storage.NewMetricsStorage(maxStoredMetrics, metricsMaxAge)
	collector := metrics.NewCollector(metricsStorage)

	sched, err := scheduler.New[string](cfg.Scheduler,
		scheduler.WithLogger(logger.WithComponent("scheduler")),
		scheduler.WithMetrics(collector),
	)
	if err != nil {
		caches.Close()
		return nil, err
	}

	service, err := translate.NewService(sched, []translate.Provider{provider},
		translate.WithCache(store, cfg.Cache.TTL),
		translate.WithLogger(logger.WithComponent("translate")),
	)
	if err != nil {
		sched.Close()
		caches.Close()
		return nil, err
	}

	return &Runtime{
		Config:    cfg,
		Logger:    logger,
		Scheduler: sched,
		Service:   service,
		Caches:    caches,
		Collector: collector,
		Storage:   metricsStorage,
	}, nil
}

// NewProvider builds the configured translation provider
func NewProvider(cfg config.ProviderConfig) (translate.Provider, error) {
	switch cfg.Type {
	case config.ProviderHTTP:
		return translate.NewHTTPProvider(cfg.Name, cfg.Endpoint, cfg.APIKey, cfg.HTTPTimeout), nil
	case config.ProviderStatic:
		var dict map[string]map[string]string
		if cfg.Dictionary != "" {
			loaded, err := translate.LoadDictionaryFile(cfg.Dictionary)
			if err != nil {
				return nil, err
			}
			dict = loaded
		}
		return translate.NewStaticProvider(cfg.Name, dict), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
}

// Cache returns the translation result store
func (r *Runtime) Cache() cache.Store {
	store, _ := r.Caches.Get(resultsCache)
	return store
}

// Translate runs req through the cache and scheduler
func (r *Runtime) Translate(ctx context.Context, req translate.Request) (*translate.Response, error) {
	return r.Service.Translate(ctx, req)
}

// PruneCache drops expired translations
func (r *Runtime) PruneCache(ctx context.Context) (int, error) {
	store := r.Cache()
	if store == nil {
		return 0, errors.New("cache is closed")
	}
	return store.Prune(ctx)
}

// Close rejects pending work and releases the caches
func (r *Runtime) Close() error {
	r.Scheduler.Close()
	return r.Caches.Close()
}
