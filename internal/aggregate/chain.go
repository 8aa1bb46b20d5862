package aggregate

import (
	"math"

	"github.com/therealutkarshpriyadarshi/nodewatch/internal/config"
	"github.com/therealutkarshpriyadarshi/nodewatch/internal/extract"
	"github.com/therealutkarshpriyadarshi/nodewatch/pkg/types"
)

// ChainResult is the execution client snapshot plus the slots that fell back
// to defaults
type ChainResult struct {
	Snapshot  types.SyncSnapshot
	Defaulted []string
}

// Chain builds the execution client snapshot from its log window
func Chain(lines []string, defaults config.Defaults, syncCfg config.SyncConfig) ChainResult {
	chainSynced := newSlot(extract.ChainSynced, defaults.ChainSynced)
	chainETA := newSlot(extract.ChainETA, defaults.ChainETA)
	stateSynced := newSlot(extract.StateSynced, defaults.StateSynced)
	stateETA := newSlot(extract.StateETA, defaults.StateETA)
	peers := newSlot(extract.Peers, int64(defaults.Peers))
	blocks := newSlot(extract.BlockHeight, defaults.Blocks)

	defaulted := scan(lines, chainSynced, chainETA, stateSynced, stateETA, peers, blocks)

	overall := math.Min(chainSynced.value, stateSynced.value)

	return ChainResult{
		Snapshot: types.SyncSnapshot{
			ChainSynced:   chainSynced.value,
			StateSynced:   stateSynced.value,
			OverallSynced: overall,
			ChainETA:      chainETA.value,
			StateETA:      stateETA.value,
			Peers:         int(peers.value),
			Blocks:        blocks.value,
			Status:        SyncStatus(overall, syncCfg.SyncedThreshold),
		},
		Defaulted: defaulted,
	}
}

// SyncStatus labels a node SYNCED only when overall progress is strictly
// above the threshold
func SyncStatus(overall, threshold float64) types.SyncStatus {
	if overall > threshold {
		return types.StatusSynced
	}
	return types.StatusSyncing
}
