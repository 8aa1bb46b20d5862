package metrics

import (
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/therealutkarshpriyadarshi/nodewatch/internal/reliability"
	"github.com/therealutkarshpriyadarshi/nodewatch/pkg/types"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := c.Write(metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	return metric.Counter.GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := g.Write(metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	return metric.Gauge.GetValue()
}

func TestNewCollector(t *testing.T) {
	c := NewCollector()
	if c == nil {
		t.Fatal("NewCollector returned nil")
	}

	if c.registry == nil {
		t.Error("registry is nil")
	}

	if c.SourceFetches == nil {
		t.Error("SourceFetches is nil")
	}

	if c.SnapshotBuildDuration == nil {
		t.Error("SnapshotBuildDuration is nil")
	}

	if c.HTTPRequests == nil {
		t.Error("HTTPRequests is nil")
	}

	// Each collector owns its registry, so two can coexist
	if NewCollector().Registry() == c.Registry() {
		t.Error("collectors share a registry")
	}
}

func TestObserveFetch(t *testing.T) {
	c := NewCollector()

	c.ObserveFetch("geth", "journald", 10*time.Millisecond, 150, nil)
	c.ObserveFetch("geth", "journald", 10*time.Millisecond, 0, errors.New("exit status 1"))
	c.ObserveFetch("geth", "journald", time.Millisecond, 0, fmt.Errorf("wrapped: %w", reliability.ErrCircuitOpen))

	tests := []struct {
		outcome string
		want    float64
	}{
		{"ok", 1},
		{"unavailable", 1},
		{"circuit_open", 1},
	}

	for _, tt := range tests {
		got := counterValue(t, c.SourceFetches.WithLabelValues("geth", "journald", tt.outcome))
		if got != tt.want {
			t.Errorf("fetches{outcome=%s} = %v, want %v", tt.outcome, got, tt.want)
		}
	}

	if got := gaugeValue(t, c.SourceLines.WithLabelValues("geth")); got != 0 {
		t.Errorf("lines = %v, want 0 after the last failed fetch", got)
	}
}

func TestObserveBreakerState(t *testing.T) {
	c := NewCollector()

	c.ObserveBreakerState("geth/journald", reliability.StateOpen)
	if got := gaugeValue(t, c.CircuitBreakerState.WithLabelValues("geth/journald")); got != 1 {
		t.Errorf("state = %v, want 1", got)
	}

	c.ObserveBreakerState("geth/journald", reliability.StateHalfOpen)
	if got := gaugeValue(t, c.CircuitBreakerState.WithLabelValues("geth/journald")); got != 2 {
		t.Errorf("state = %v, want 2", got)
	}
}

func TestObserveBuildAndDefaults(t *testing.T) {
	c := NewCollector()

	c.ObserveBuild(5*time.Millisecond, nil)
	c.ObserveBuild(5*time.Millisecond, nil)
	c.ObserveBuild(time.Millisecond, errors.New("boom"))
	c.ObserveDefaulted("prysm", []string{"slot", "peers"})
	c.ObserveDefaulted("prysm", []string{"slot"})

	if got := counterValue(t, c.SnapshotBuilds.WithLabelValues("ok")); got != 2 {
		t.Errorf("builds{ok} = %v, want 2", got)
	}
	if got := counterValue(t, c.SnapshotBuilds.WithLabelValues("failed")); got != 1 {
		t.Errorf("builds{failed} = %v, want 1", got)
	}
	if got := counterValue(t, c.MetricDefaulted.WithLabelValues("prysm", "slot")); got != 2 {
		t.Errorf("defaulted{slot} = %v, want 2", got)
	}
}

func TestObserveSnapshot(t *testing.T) {
	c := NewCollector()

	c.ObserveSnapshot(nil)

	stats := &types.NodeStats{
		Geth: types.SyncSnapshot{
			ChainSynced:   99.5,
			StateSynced:   97,
			OverallSynced: 98.25,
			Peers:         50,
			Blocks:        21000000,
			Status:        types.StatusSynced,
		},
		Prysm: types.ConsensusSnapshot{Slot: 13347610, Epoch: 417112, Peers: 37},
		System: types.SystemSnapshot{
			Memory:  63,
			Disk:    47,
			CPULoad: 1.23,
		},
		Errors: []types.ErrorEntry{
			{Service: types.ServiceChain, Level: types.LevelError},
			{Service: types.ServiceChain, Level: types.LevelWarn},
			{Service: types.ServiceConsensus, Level: types.LevelError},
		},
	}
	c.ObserveSnapshot(stats)

	tests := []struct {
		name string
		g    prometheus.Gauge
		want float64
	}{
		{"overall sync", c.NodeSyncPercent.WithLabelValues("overall"), 98.25},
		{"synced", c.NodeSynced, 1},
		{"geth peers", c.NodePeers.WithLabelValues("geth"), 50},
		{"prysm peers", c.NodePeers.WithLabelValues("prysm"), 37},
		{"blocks", c.NodeBlocks, 21000000},
		{"epoch", c.NodeEpoch, 417112},
		{"geth errors", c.NodeErrorEntries.WithLabelValues("geth"), 2},
		{"system errors", c.NodeErrorEntries.WithLabelValues("system"), 0},
		{"memory", c.HostMemoryPercent, 63},
		{"cpu load", c.HostCPULoad, 1.23},
	}

	for _, tt := range tests {
		if got := gaugeValue(t, tt.g); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
	}

	stats.Geth.Status = types.StatusSyncing
	c.ObserveSnapshot(stats)
	if got := gaugeValue(t, c.NodeSynced); got != 0 {
		t.Errorf("synced = %v, want 0", got)
	}
}

func TestHTTPMetrics(t *testing.T) {
	c := NewCollector()

	c.ObserveRequest("/api/eth-node-stats", "GET", "200", 20*time.Millisecond)
	c.ObserveRequest("/api/eth-node-stats", "GET", "200", 30*time.Millisecond)
	c.ObserveRateLimited()

	if got := counterValue(t, c.HTTPRequests.WithLabelValues("/api/eth-node-stats", "GET", "200")); got != 2 {
		t.Errorf("requests = %v, want 2", got)
	}
	if got := counterValue(t, c.HTTPRateLimited); got != 1 {
		t.Errorf("rate limited = %v, want 1", got)
	}
}

func TestCollectSystemMetrics(t *testing.T) {
	c := NewCollector()
	c.Start()
	defer c.Stop()

	// Start collects once before the first tick
	if got := gaugeValue(t, c.SystemGoroutines); got < 1 {
		t.Errorf("goroutines = %v", got)
	}
	if got := gaugeValue(t, c.SystemMemAlloc); got <= 0 {
		t.Errorf("memory allocated = %v, want > 0", got)
	}

	// A second Start and a double Stop are harmless
	c.Start()
	c.Stop()
	c.Stop()
}

func TestHandler(t *testing.T) {
	c := NewCollector()
	c.ObserveFetch("prysm", "file", time.Millisecond, 100, nil)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `nodewatch_source_fetches_total{backend="file",outcome="ok",service="prysm"} 1`) {
		t.Errorf("exposition missing fetch counter:\n%s", body)
	}
}

func BenchmarkObserveFetch(b *testing.B) {
	c := NewCollector()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.ObserveFetch("geth", "journald", time.Millisecond, 150, nil)
	}
}
