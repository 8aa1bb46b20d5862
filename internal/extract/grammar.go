package extract

// Markers identifying the lines each metric family is read from
const (
	MarkerChainDownload = "chain download in progress"
	MarkerStateDownload = "state download in progress"
	MarkerPeers         = "peers="
	MarkerHeaders       = "headers="
	MarkerCurrentSlot   = "currentSlot="
	MarkerConnected     = "Connected peers"
)

const (
	syncedPattern = `synced=(\d+\.?\d*)%`
	// Prefer the hours+minutes prefix geth prints for long downloads, fall
	// back to whatever duration text follows
	etaPattern = `eta=(\d+h\d+m|\d[\dhms.]*)`
)

// Execution client extractors
var (
	ChainSynced = Float("chain_synced", NewRule(MarkerChainDownload, syncedPattern))
	ChainETA    = Text("chain_eta", NewRule(MarkerChainDownload, etaPattern))
	StateSynced = Float("state_synced", NewRule(MarkerStateDownload, syncedPattern))
	StateETA    = Text("state_eta", NewRule(MarkerStateDownload, etaPattern))
	Peers       = Int("peers", NewRule(MarkerPeers, `peers=(\d+)`))
	BlockHeight = Int("blocks", NewRule(MarkerHeaders, `headers=(\d[\d,]*)`))
)

// Consensus client extractors
var (
	CurrentSlot  = Int("slot", NewRule(MarkerCurrentSlot, `currentSlot="?(\d+)`))
	InboundQUIC  = Int("inbound_quic", NewRule(MarkerConnected, `inboundQUIC=(\d+)`))
	InboundTCP   = Int("inbound_tcp", NewRule(MarkerConnected, `inboundTCP=(\d+)`))
	OutboundQUIC = Int("outbound_quic", NewRule(MarkerConnected, `outboundQUIC=(\d+)`))
	OutboundTCP  = Int("outbound_tcp", NewRule(MarkerConnected, `outboundTCP=(\d+)`))
)
