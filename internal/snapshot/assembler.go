// Package snapshot assembles the NodeStats payload for one request
package snapshot

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/therealutkarshpriyadarshi/nodewatch/internal/aggregate"
	"github.com/therealutkarshpriyadarshi/nodewatch/internal/config"
	"github.com/therealutkarshpriyadarshi/nodewatch/internal/errorfeed"
	"github.com/therealutkarshpriyadarshi/nodewatch/internal/logging"
	"github.com/therealutkarshpriyadarshi/nodewatch/internal/source"
	"github.com/therealutkarshpriyadarshi/nodewatch/internal/tracing"
	"github.com/therealutkarshpriyadarshi/nodewatch/pkg/types"
)

// Fetcher retrieves a service's most recent log lines
type Fetcher interface {
	Fetch(ctx context.Context, service string, maxLines int) source.Result
}

// SystemSampler reads host health
type SystemSampler interface {
	Sample(ctx context.Context) types.SystemSnapshot
}

// Recorder receives what every build produced
type Recorder interface {
	ObserveBuild(duration time.Duration, err error)
	ObserveSnapshot(stats *types.NodeStats)
	ObserveDefaulted(service string, names []string)
}

// Options holds the assembler's collaborators. ChainService and
// ConsensusService are the names the sources were registered under; when
// empty the names in the current configuration are used
type Options struct {
	Config           config.Provider
	Sources          Fetcher
	ChainService     string
	ConsensusService string
	System           SystemSampler
	Recorder         Recorder
	Logger           *logging.Logger
}

// Assembler builds snapshots. It holds no state between builds
type Assembler struct {
	cfg      config.Provider
	sources  Fetcher
	names    [2]string
	system   SystemSampler
	recorder Recorder
	logger   *logging.Logger
	now      func() time.Time
}

// New creates an assembler
func New(opts Options) *Assembler {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	return &Assembler{
		cfg:      opts.Config,
		sources:  opts.Sources,
		names:    [2]string{opts.ChainService, opts.ConsensusService},
		system:   opts.System,
		recorder: opts.Recorder,
		logger:   logger.WithComponent("snapshot"),
		now:      time.Now,
	}
}

// Build assembles a snapshot. Unavailable sources and unreadable host
// figures never fail a build; only an unexpected panic does
func (a *Assembler) Build(ctx context.Context) (stats *types.NodeStats, err error) {
	ctx, span := tracing.Start(ctx, "snapshot.build")
	defer span.End()

	start := a.now()
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Snapshot build panicked")
			stats = nil
			err = fmt.Errorf("snapshot build failed: %v", r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "build failed")
		}
		if a.recorder != nil {
			a.recorder.ObserveBuild(a.now().Sub(start), err)
			if stats != nil {
				a.recorder.ObserveSnapshot(stats)
			}
		}
	}()

	cfg := a.cfg.Current()
	chainSvc := cfg.Services.Chain
	consensusSvc := cfg.Services.Consensus
	if a.names[0] != "" {
		chainSvc.Name = a.names[0]
	}
	if a.names[1] != "" {
		consensusSvc.Name = a.names[1]
	}

	// One retrieval per service serves both the metric and error windows
	var chainRes, consensusRes source.Result
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		chainRes = a.fetch(ctx, chainSvc)
	}()
	go func() {
		defer wg.Done()
		consensusRes = a.fetch(ctx, consensusSvc)
	}()
	wg.Wait()
	tracing.AddEvent(ctx, "sources.fetched",
		attribute.Int("chain.lines", len(chainRes.Lines)),
		attribute.Int("consensus.lines", len(consensusRes.Lines)),
	)

	chain := aggregate.Chain(source.Last(chainRes.Lines, chainSvc.MetricLines), cfg.Defaults, cfg.Sync)
	consensus := aggregate.Consensus(source.Last(consensusRes.Lines, consensusSvc.MetricLines), cfg.Defaults, cfg.Sync)
	a.noteDefaulted(chainSvc.Name, chain.Defaulted)
	a.noteDefaulted(consensusSvc.Name, consensus.Defaulted)

	entries := errorfeed.NewCollector(cfg.Errors).Collect(
		errorfeed.Stream{
			Service:     types.ServiceChain,
			Grammar:     errorfeed.GethGrammar{},
			Lines:       source.Last(chainRes.Lines, chainSvc.ErrorLines),
			Unavailable: !chainRes.Available(),
		},
		errorfeed.Stream{
			Service:     types.ServiceConsensus,
			Grammar:     errorfeed.PrysmGrammar{},
			Lines:       source.Last(consensusRes.Lines, consensusSvc.ErrorLines),
			Unavailable: !consensusRes.Available(),
		},
	)

	system := a.system.Sample(ctx)

	span.SetAttributes(
		attribute.Bool("chain.available", chainRes.Available()),
		attribute.Bool("consensus.available", consensusRes.Available()),
		attribute.Int("errors", len(entries)),
	)

	return &types.NodeStats{
		Geth:      chain.Snapshot,
		Prysm:     consensus.Snapshot,
		System:    system,
		Errors:    entries,
		Timestamp: a.now().UTC(),
	}, nil
}

// fetch runs on its own goroutine, so a panicking fetcher is turned into an
// unavailable source here rather than by Build
func (a *Assembler) fetch(ctx context.Context, svc config.ServiceConfig) (res source.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = source.Unavailable(fmt.Errorf("fetch panicked: %v", r))
		}
	}()
	return a.sources.Fetch(ctx, svc.Name, svc.Window())
}

func (a *Assembler) noteDefaulted(service string, names []string) {
	if len(names) == 0 {
		return
	}
	a.logger.Debug().
		Str("service", service).
		Strs("metrics", names).
		Msg("Metrics fell back to defaults")
	if a.recorder != nil {
		a.recorder.ObserveDefaulted(service, names)
	}
}
