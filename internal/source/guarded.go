package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/therealutkarshpriyadarshi/nodewatch/internal/logging"
	"github.com/therealutkarshpriyadarshi/nodewatch/internal/reliability"
	"github.com/therealutkarshpriyadarshi/nodewatch/internal/tracing"
)

// GuardConfig holds the hardening applied around a backend
type GuardConfig struct {
	Timeout  time.Duration
	Breaker  *reliability.CircuitBreaker
	Observer Observer
	Logger   *logging.Logger
}

// Guarded bounds a backend with a timeout and a circuit breaker and never
// lets a failure escape as anything but an Unavailable Result
type Guarded struct {
	service  string
	backend  Backend
	timeout  time.Duration
	breaker  *reliability.CircuitBreaker
	observer Observer
	logger   *logging.Logger

	mu      sync.RWMutex
	lastErr error
	lastAt  time.Time
}

// NewGuarded wraps a backend for one service
func NewGuarded(service string, backend Backend, cfg GuardConfig) *Guarded {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	return &Guarded{
		service:  service,
		backend:  backend,
		timeout:  cfg.Timeout,
		breaker:  cfg.Breaker,
		observer: cfg.Observer,
		logger:   logger.WithComponent("source").WithService(service),
	}
}

// Fetch retrieves up to maxLines of the most recent lines
func (g *Guarded) Fetch(ctx context.Context, maxLines int) (res Result) {
	ctx, span := tracing.Start(ctx, "source.fetch",
		attribute.String("service", g.service),
		attribute.String("backend", g.backend.Name()),
		attribute.Int("max_lines", maxLines),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = Unavailable(fmt.Errorf("backend panic: %v", r))
		}
		g.record(res, time.Since(start))
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, "unavailable")
		}
		span.SetAttributes(attribute.Int("lines", len(res.Lines)))
	}()

	var lines []string
	call := func() error {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		var err error
		lines, err = g.backend.Tail(callCtx, maxLines)
		if err == nil && len(lines) == 0 {
			err = ErrNoLines
		}
		return err
	}

	var err error
	if g.breaker != nil {
		err = g.breaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		return Unavailable(err)
	}

	return Result{Lines: Last(lines, maxLines)}
}

func (g *Guarded) record(res Result, d time.Duration) {
	g.mu.Lock()
	g.lastErr = res.Err
	g.lastAt = time.Now()
	g.mu.Unlock()

	if g.observer != nil {
		g.observer.ObserveFetch(g.service, g.backend.Name(), d, len(res.Lines), res.Err)
	}

	if res.Err != nil {
		g.logger.Warn().
			Err(res.Err).
			Str("backend", g.backend.Name()).
			Dur("duration", d).
			Msg("Log source unavailable, using fallbacks")
		return
	}

	g.logger.Debug().
		Str("backend", g.backend.Name()).
		Int("lines", len(res.Lines)).
		Dur("duration", d).
		Msg("Fetched log lines")
}

// Service returns the monitored service name
func (g *Guarded) Service() string {
	return g.service
}

// Backend returns the backend type
func (g *Guarded) Backend() string {
	return g.backend.Name()
}

// LastOutcome returns when the previous retrieval ran and its error. A zero
// time means no retrieval has happened yet
func (g *Guarded) LastOutcome() (time.Time, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.lastAt, g.lastErr
}

// BreakerState returns the circuit state, closed when no breaker is set
func (g *Guarded) BreakerState() reliability.State {
	if g.breaker == nil {
		return reliability.StateClosed
	}
	return g.breaker.State()
}
