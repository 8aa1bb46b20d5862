package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/therealutkarshpriyadarshi/nodewatch/internal/config"
	"github.com/therealutkarshpriyadarshi/nodewatch/internal/errorfeed"
	"github.com/therealutkarshpriyadarshi/nodewatch/internal/source"
	"github.com/therealutkarshpriyadarshi/nodewatch/pkg/types"
)

type fakeFetcher struct {
	mu      sync.Mutex
	results map[string]source.Result
	asked   map[string]int
	panics  bool
}

func (f *fakeFetcher) Fetch(ctx context.Context, service string, maxLines int) source.Result {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.asked == nil {
		f.asked = make(map[string]int)
	}
	f.asked[service] = maxLines

	if f.panics {
		panic("fetcher exploded")
	}
	res, ok := f.results[service]
	if !ok {
		return source.Unavailable(errors.New("not configured"))
	}
	res.Lines = source.Last(res.Lines, maxLines)
	return res
}

type fakeSampler struct {
	snapshot types.SystemSnapshot
	panics   bool
}

func (f fakeSampler) Sample(ctx context.Context) types.SystemSnapshot {
	if f.panics {
		panic("sampler exploded")
	}
	return f.snapshot
}

type fakeRecorder struct {
	builds    []error
	snapshots int
	defaulted map[string][]string
}

func (r *fakeRecorder) ObserveBuild(d time.Duration, err error) {
	r.builds = append(r.builds, err)
}

func (r *fakeRecorder) ObserveSnapshot(stats *types.NodeStats) {
	r.snapshots++
}

func (r *fakeRecorder) ObserveDefaulted(service string, names []string) {
	if r.defaulted == nil {
		r.defaulted = make(map[string][]string)
	}
	r.defaulted[service] = names
}

var testSystem = types.SystemSnapshot{Memory: 63, Disk: 47, Uptime: "3 days, 4 hours", CPULoad: 0.42}

func newTestAssembler(fetcher Fetcher, sampler SystemSampler, recorder Recorder) *Assembler {
	opts := Options{
		Config:  config.NewStatic(config.DefaultConfig()),
		Sources: fetcher,
		System:  sampler,
	}
	if recorder != nil {
		opts.Recorder = recorder
	}
	a := New(opts)
	a.now = func() time.Time { return time.Date(2024, 10, 19, 12, 0, 0, 0, time.UTC) }
	return a
}

func filler(n int) []string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("INFO [10-19|11:59:%02d.000] Imported new potential chain segment number=%d", i%60, i)
	}
	return lines
}

func TestBuildAllSourcesUnavailable(t *testing.T) {
	rec := &fakeRecorder{}
	a := newTestAssembler(&fakeFetcher{}, fakeSampler{snapshot: testSystem}, rec)

	stats, err := a.Build(context.Background())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	d := config.DefaultDefaults()
	if stats.Geth.ChainSynced != d.ChainSynced || stats.Geth.Blocks != d.Blocks || stats.Geth.Peers != d.Peers {
		t.Errorf("Geth = %+v, want defaults", stats.Geth)
	}
	if stats.Geth.Status != types.StatusSyncing {
		t.Errorf("Status = %s, want SYNCING", stats.Geth.Status)
	}
	if stats.Prysm.Slot != 13347610 || stats.Prysm.Epoch != 417112 || stats.Prysm.Peers != 37 {
		t.Errorf("Prysm = %+v, want defaults", stats.Prysm)
	}

	if len(stats.Errors) != 1 {
		t.Fatalf("len(Errors) = %d, want 1", len(stats.Errors))
	}
	if e := stats.Errors[0]; e.Message != errorfeed.UnavailableMessage || e.Service != types.ServiceSystem {
		t.Errorf("Errors[0] = %+v, want the unavailable entry", e)
	}

	if stats.System != testSystem {
		t.Errorf("System = %+v, want %+v", stats.System, testSystem)
	}
	if !stats.Timestamp.Equal(time.Date(2024, 10, 19, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("Timestamp = %v", stats.Timestamp)
	}

	if len(rec.builds) != 1 || rec.builds[0] != nil || rec.snapshots != 1 {
		t.Errorf("recorder saw builds=%v snapshots=%d", rec.builds, rec.snapshots)
	}
	if len(rec.defaulted["geth"]) != 6 || len(rec.defaulted["prysm"]) != 5 {
		t.Errorf("defaulted = %v", rec.defaulted)
	}
}

func TestBuildUsesSeparateWindows(t *testing.T) {
	// The error line and the peers line sit outside the 150-line metric
	// window but inside the 300-line error window
	geth := append([]string{
		"ERROR[10-19|11:58:00.000] Database compaction failed err=\"disk full\"",
		"INFO [10-19|11:58:01.000] Looking for peers peers=99",
	}, filler(200)...)
	geth = append(geth, "INFO [10-19|11:59:59.000] Syncing: chain download in progress synced=97.50% chain=1.2TiB headers=21,000,000@1TiB eta=1h3m")

	prysm := []string{
		`time="2024-10-19 11:59:00" level=info msg="Synced new block" currentSlot=9000000`,
		`time="2024-10-19 11:59:30" level=info msg="Connected peers" inboundQUIC=3 inboundTCP=4 outboundQUIC=5 outboundTCP=6 prefix=p2p`,
		`time="2024-10-19 11:59:40" level=error msg="Could not request blobs" prefix=sync`,
	}

	fetcher := &fakeFetcher{results: map[string]source.Result{
		"geth":  {Lines: geth},
		"prysm": {Lines: prysm},
	}}
	a := newTestAssembler(fetcher, fakeSampler{snapshot: testSystem}, nil)

	stats, err := a.Build(context.Background())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	// One retrieval per service, sized for the larger window
	if fetcher.asked["geth"] != 300 || fetcher.asked["prysm"] != 300 {
		t.Errorf("asked = %v, want 300 lines each", fetcher.asked)
	}

	if stats.Geth.ChainSynced != 97.5 || stats.Geth.Blocks != 21000000 || stats.Geth.ChainETA != "1h3m" {
		t.Errorf("Geth = %+v, want the latest chain download line", stats.Geth)
	}
	if stats.Geth.Peers != config.DefaultDefaults().Peers {
		t.Errorf("Peers = %d, want the default since peers=99 is outside the metric window", stats.Geth.Peers)
	}

	if stats.Prysm.Slot != 9000000 || stats.Prysm.Epoch != 281250 {
		t.Errorf("Prysm slot/epoch = %d/%d, want 9000000/281250", stats.Prysm.Slot, stats.Prysm.Epoch)
	}
	if stats.Prysm.QUIC != "3↓ / 5↑" || stats.Prysm.TCP != "4↓ / 6↑" || stats.Prysm.Peers != 18 {
		t.Errorf("Prysm transport = %+v", stats.Prysm)
	}

	messages := make(map[string]types.Service)
	for _, e := range stats.Errors {
		messages[e.Message] = e.Service
	}
	if messages[`Database compaction failed err="disk full"`] != types.ServiceChain {
		t.Errorf("Errors = %+v, want the geth compaction error", stats.Errors)
	}
	if messages["Could not request blobs"] != types.ServiceConsensus {
		t.Errorf("Errors = %+v, want the prysm blob error", stats.Errors)
	}
	if _, ok := messages[errorfeed.UnavailableMessage]; ok {
		t.Error("unavailable entry reported while sources were readable")
	}
}

func TestBuildOneSourceUnavailable(t *testing.T) {
	fetcher := &fakeFetcher{results: map[string]source.Result{
		"prysm": {Lines: []string{`time="2024-10-19 11:59:40" level=error msg="Beacon node is unreachable"`}},
	}}
	a := newTestAssembler(fetcher, fakeSampler{snapshot: testSystem}, nil)

	stats, err := a.Build(context.Background())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if len(stats.Errors) != 1 || stats.Errors[0].Message != "Beacon node is unreachable" {
		t.Errorf("Errors = %+v, want only the prysm entry", stats.Errors)
	}
	if stats.Geth.Blocks != config.DefaultDefaults().Blocks {
		t.Errorf("Blocks = %d, want the default", stats.Geth.Blocks)
	}
}

func TestBuildFetcherPanic(t *testing.T) {
	a := newTestAssembler(&fakeFetcher{panics: true}, fakeSampler{snapshot: testSystem}, nil)

	stats, err := a.Build(context.Background())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(stats.Errors) != 1 || stats.Errors[0].Message != errorfeed.UnavailableMessage {
		t.Errorf("Errors = %+v, want the unavailable entry", stats.Errors)
	}
}

func TestBuildPanicFails(t *testing.T) {
	rec := &fakeRecorder{}
	a := newTestAssembler(&fakeFetcher{}, fakeSampler{panics: true}, rec)

	stats, err := a.Build(context.Background())
	if err == nil {
		t.Fatal("expected an error from a panicking build")
	}
	if stats != nil {
		t.Errorf("stats = %+v, want nil", stats)
	}
	if len(rec.builds) != 1 || rec.builds[0] == nil || rec.snapshots != 0 {
		t.Errorf("recorder saw builds=%v snapshots=%d", rec.builds, rec.snapshots)
	}
}

func TestBuildKeepsRegisteredServiceNames(t *testing.T) {
	// A reload renamed both services; the sources are still registered
	// under the startup names
	cfg := config.DefaultConfig()
	cfg.Services.Chain.Name = "execution"
	cfg.Services.Consensus.Name = "beacon"

	fetcher := &fakeFetcher{results: map[string]source.Result{
		"geth": {Lines: []string{"INFO [10-19|11:59:59.000] Looking for peers peers=12"}},
	}}
	a := New(Options{
		Config:           config.NewStatic(cfg),
		Sources:          fetcher,
		ChainService:     "geth",
		ConsensusService: "prysm",
		System:           fakeSampler{snapshot: testSystem},
	})

	stats, err := a.Build(context.Background())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if _, ok := fetcher.asked["execution"]; ok {
		t.Errorf("asked = %v, fetched the reloaded name", fetcher.asked)
	}
	if fetcher.asked["geth"] != 300 || fetcher.asked["prysm"] != 300 {
		t.Errorf("asked = %v, want geth and prysm", fetcher.asked)
	}
	if stats.Geth.Peers != 12 {
		t.Errorf("Peers = %d, want 12", stats.Geth.Peers)
	}
}
