package source

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/therealutkarshpriyadarshi/nodewatch/internal/config"
	"github.com/therealutkarshpriyadarshi/nodewatch/internal/logging"
	"github.com/therealutkarshpriyadarshi/nodewatch/internal/reliability"
)

// NewBackend builds the backend a service config selects
func NewBackend(svc config.ServiceConfig) (Backend, error) {
	src := svc.Source

	switch src.Type {
	case config.SourceJournald:
		j := src.Journald
		if j == nil {
			j = &config.JournaldConfig{}
		}
		unit := j.Unit
		if unit == "" {
			unit = svc.Name
		}
		return NewJournald(j.Command, unit, nil), nil
	case config.SourceFile:
		if src.File == nil {
			return nil, fmt.Errorf("file source for %s has no path", svc.Name)
		}
		return NewFile(src.File.Path), nil
	case config.SourceKubernetes:
		if src.Kubernetes == nil {
			return nil, fmt.Errorf("kubernetes source for %s has no settings", svc.Name)
		}
		return NewKubernetes(src.Kubernetes)
	case config.SourceElasticsearch:
		if src.Elasticsearch == nil {
			return nil, fmt.Errorf("elasticsearch source for %s has no settings", svc.Name)
		}
		return NewElasticsearch(src.Elasticsearch, svc.Name)
	case config.SourceKafka:
		if src.Kafka == nil {
			return nil, fmt.Errorf("kafka source for %s has no settings", svc.Name)
		}
		return NewKafka(src.Kafka, svc.Name)
	default:
		return nil, fmt.Errorf("unknown source type: %s", src.Type)
	}
}

// BreakerObserver receives circuit state changes of every registered source
type BreakerObserver interface {
	ObserveBreakerState(name string, state reliability.State)
}

// RegistryOptions holds what every registered source shares
type RegistryOptions struct {
	Breaker        config.CircuitBreakerConfig
	Observer       Observer
	BreakerWatcher BreakerObserver
	Logger         *logging.Logger
}

// Registry maps service names to guarded sources
type Registry struct {
	sources map[string]*Guarded
	opts    RegistryOptions
}

// NewRegistry creates an empty registry
func NewRegistry(opts RegistryOptions) *Registry {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Registry{
		sources: make(map[string]*Guarded),
		opts:    opts,
	}
}

// NewRegistryFromConfig registers a source for both configured services
func NewRegistryFromConfig(cfg *config.Config, opts RegistryOptions) (*Registry, error) {
	r := NewRegistry(opts)

	for _, svc := range []config.ServiceConfig{cfg.Services.Chain, cfg.Services.Consensus} {
		backend, err := NewBackend(svc)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s source: %w", svc.Name, err)
		}
		r.Register(svc.Name, backend, svc.Source.Timeout)
	}

	return r, nil
}

// Register guards a backend and makes it the source of a service
func (r *Registry) Register(service string, backend Backend, timeout time.Duration) *Guarded {
	guard := GuardConfig{
		Timeout:  timeout,
		Observer: r.opts.Observer,
		Logger:   r.opts.Logger,
	}

	if cb := r.opts.Breaker; cb.Enabled {
		name := service + "/" + backend.Name()
		watcher := r.opts.BreakerWatcher
		logger := r.opts.Logger

		guard.Breaker = reliability.NewCircuitBreaker(reliability.Config{
			FailureThreshold: cb.FailureThreshold,
			Interval:         cb.Interval,
			Timeout:          cb.Timeout,
			OnStateChange: func(from, to reliability.State) {
				logger.Info().
					Str("source", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("Circuit breaker state changed")
				if watcher != nil {
					watcher.ObserveBreakerState(name, to)
				}
			},
		})
		if watcher != nil {
			watcher.ObserveBreakerState(name, reliability.StateClosed)
		}
	}

	g := NewGuarded(service, backend, guard)
	r.sources[service] = g
	return g
}

// Fetch retrieves up to maxLines of a service's most recent lines. An
// unknown service is reported as unavailable like any other failure
func (r *Registry) Fetch(ctx context.Context, service string, maxLines int) Result {
	g, ok := r.sources[service]
	if !ok {
		return Unavailable(fmt.Errorf("%w: %s", ErrUnknownService, service))
	}
	return g.Fetch(ctx, maxLines)
}

// Sources returns the registered sources ordered by service name
func (r *Registry) Sources() []*Guarded {
	out := make([]*Guarded, 0, len(r.sources))
	for _, g := range r.sources {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Service() < out[j].Service()
	})
	return out
}

// Name implements shutdown.Component
func (r *Registry) Name() string {
	return "sources"
}

// Stop releases backends that hold connections
func (r *Registry) Stop(ctx context.Context) error {
	var firstErr error
	for _, g := range r.sources {
		if c, ok := g.backend.(io.Closer); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
