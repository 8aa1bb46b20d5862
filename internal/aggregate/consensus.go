package aggregate

import (
	"fmt"

	"github.com/therealutkarshpriyadarshi/nodewatch/internal/config"
	"github.com/therealutkarshpriyadarshi/nodewatch/internal/extract"
	"github.com/therealutkarshpriyadarshi/nodewatch/pkg/types"
)

// ConsensusResult is the consensus client snapshot plus the slots that fell
// back to defaults
type ConsensusResult struct {
	Snapshot  types.ConsensusSnapshot
	Defaulted []string
}

// Consensus builds the consensus client snapshot from its log window
func Consensus(lines []string, defaults config.Defaults, syncCfg config.SyncConfig) ConsensusResult {
	slotNum := newSlot(extract.CurrentSlot, defaults.Slot)
	inQUIC := newSlot(extract.InboundQUIC, int64(defaults.InboundQUIC))
	inTCP := newSlot(extract.InboundTCP, int64(defaults.InboundTCP))
	outQUIC := newSlot(extract.OutboundQUIC, int64(defaults.OutboundQUIC))
	outTCP := newSlot(extract.OutboundTCP, int64(defaults.OutboundTCP))

	defaulted := scan(lines, slotNum, inQUIC, inTCP, outQUIC, outTCP)

	return ConsensusResult{
		Snapshot: types.ConsensusSnapshot{
			Slot:  slotNum.value,
			Epoch: Epoch(slotNum.value, syncCfg.SlotsPerEpoch),
			Peers: int(inQUIC.value + inTCP.value + outQUIC.value + outTCP.value),
			QUIC:  transportSummary(inQUIC.value, outQUIC.value),
			TCP:   transportSummary(inTCP.value, outTCP.value),
		},
		Defaulted: defaulted,
	}
}

// Epoch returns the epoch a slot belongs to
func Epoch(slot, slotsPerEpoch int64) int64 {
	if slotsPerEpoch <= 0 {
		slotsPerEpoch = 32
	}
	return slot / slotsPerEpoch
}

func transportSummary(inbound, outbound int64) string {
	return fmt.Sprintf("%d↓ / %d↑", inbound, outbound)
}
