package types

import "time"

// SyncStatus is the binary sync label of the execution client
type SyncStatus string

const (
	StatusSynced  SyncStatus = "SYNCED"
	StatusSyncing SyncStatus = "SYNCING"
)

// Service identifies the origin of an error entry
type Service string

const (
	ServiceChain     Service = "geth"
	ServiceConsensus Service = "prysm"
	ServiceSystem    Service = "system"
)

// Level is the severity of an error entry
type Level string

const (
	LevelError Level = "ERROR"
	LevelWarn  Level = "WARN"
)

// SyncSnapshot is the execution client view built from its logs
type SyncSnapshot struct {
	ChainSynced   float64    `json:"chainSynced"`
	StateSynced   float64    `json:"stateSynced"`
	OverallSynced float64    `json:"overallSynced"`
	ChainETA      string     `json:"chainEta"`
	StateETA      string     `json:"stateEta"`
	Peers         int        `json:"peers"`
	Blocks        int64      `json:"blocks"`
	Status        SyncStatus `json:"status"`
}

// ConsensusSnapshot is the consensus client view built from its logs
type ConsensusSnapshot struct {
	Slot  int64  `json:"slot"`
	Epoch int64  `json:"epoch"`
	Peers int    `json:"peers"`
	QUIC  string `json:"quic"`
	TCP   string `json:"tcp"`
}

// SystemSnapshot holds host-level health readings
type SystemSnapshot struct {
	Memory    int       `json:"memory"`
	Disk      int       `json:"disk"`
	Uptime    string    `json:"uptime"`
	CPULoad   float64   `json:"cpuLoad"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorEntry is a deduplicated error or warning taken from a service log
// Timestamp keeps the text the service reported, or the capture time when
// the line carried none
type ErrorEntry struct {
	Timestamp string  `json:"timestamp"`
	Service   Service `json:"service"`
	Message   string  `json:"message"`
	Level     Level   `json:"level"`
}

// NodeStats is the payload of the stats endpoint
type NodeStats struct {
	Geth      SyncSnapshot      `json:"geth"`
	Prysm     ConsensusSnapshot `json:"prysm"`
	System    SystemSnapshot    `json:"system"`
	Errors    []ErrorEntry      `json:"errors"`
	Timestamp time.Time         `json:"timestamp"`
}
