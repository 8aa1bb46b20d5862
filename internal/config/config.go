package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the main configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Services    ServicesConfig    `yaml:"services"`
	Defaults    Defaults          `yaml:"defaults"`
	Sync        SyncConfig        `yaml:"sync"`
	Errors      ErrorsConfig      `yaml:"errors"`
	System      SystemConfig      `yaml:"system"`
	Reliability ReliabilityConfig `yaml:"reliability"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Tracing     TracingConfig     `yaml:"tracing"`
}

// ServerConfig defines the HTTP listener
type ServerConfig struct {
	Address      string        `yaml:"address"`
	StaticDir    string        `yaml:"static_dir,omitempty"`
	RateLimit    int           `yaml:"rate_limit,omitempty"` // requests per second per client, 0 disables
	Profiling    bool          `yaml:"profiling,omitempty"`
	ReadTimeout  time.Duration `yaml:"read_timeout,omitempty"`
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty"`
}

// LoggingConfig defines logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// ServicesConfig holds the two monitored node processes
type ServicesConfig struct {
	Chain     ServiceConfig `yaml:"chain"`
	Consensus ServiceConfig `yaml:"consensus"`
}

// ServiceConfig describes where a node process writes its logs and how many
// of its most recent lines each pipeline stage looks at
type ServiceConfig struct {
	Name        string       `yaml:"name"`
	MetricLines int          `yaml:"metric_lines"`
	ErrorLines  int          `yaml:"error_lines"`
	Source      SourceConfig `yaml:"source"`
}

// Window returns the number of lines to fetch so that both stages are served
// from a single retrieval
func (s ServiceConfig) Window() int {
	if s.ErrorLines > s.MetricLines {
		return s.ErrorLines
	}
	return s.MetricLines
}

// RestartRequired lists the services whose name or log source differ in
// next. Sources are built once at startup, so these changes are not applied
// by a reload
func (c *Config) RestartRequired(next *Config) []string {
	var changed []string
	if !sameSource(c.Services.Chain, next.Services.Chain) {
		changed = append(changed, "chain")
	}
	if !sameSource(c.Services.Consensus, next.Services.Consensus) {
		changed = append(changed, "consensus")
	}
	return changed
}

func sameSource(a, b ServiceConfig) bool {
	return a.Name == b.Name && reflect.DeepEqual(a.Source, b.Source)
}

// SourceConfig selects and configures a log source backend
type SourceConfig struct {
	Type          string               `yaml:"type"` // journald, file, kubernetes, elasticsearch, kafka
	Timeout       time.Duration        `yaml:"timeout,omitempty"`
	Journald      *JournaldConfig      `yaml:"journald,omitempty"`
	File          *FileConfig          `yaml:"file,omitempty"`
	Kubernetes    *KubernetesConfig    `yaml:"kubernetes,omitempty"`
	Elasticsearch *ElasticsearchConfig `yaml:"elasticsearch,omitempty"`
	Kafka         *KafkaConfig         `yaml:"kafka,omitempty"`
}

// JournaldConfig holds journalctl settings
type JournaldConfig struct {
	Command string `yaml:"command,omitempty"`
	Unit    string `yaml:"unit,omitempty"`
}

// FileConfig points at a plain-text log file
type FileConfig struct {
	Path string `yaml:"path"`
}

// KubernetesConfig locates the pod running a node process
type KubernetesConfig struct {
	Kubeconfig    string `yaml:"kubeconfig,omitempty"`
	Namespace     string `yaml:"namespace,omitempty"`
	Pod           string `yaml:"pod,omitempty"`
	LabelSelector string `yaml:"label_selector,omitempty"`
	Container     string `yaml:"container,omitempty"`
}

// ElasticsearchConfig describes an index that receives shipped log lines
type ElasticsearchConfig struct {
	Addresses      []string `yaml:"addresses"`
	Index          string   `yaml:"index"`
	ServiceField   string   `yaml:"service_field,omitempty"`
	MessageField   string   `yaml:"message_field,omitempty"`
	TimestampField string   `yaml:"timestamp_field,omitempty"`
	Username       string   `yaml:"username,omitempty"`
	Password       string   `yaml:"password,omitempty"`
	CloudID        string   `yaml:"cloud_id,omitempty"`
	APIKey         string   `yaml:"api_key,omitempty"`
}

// KafkaConfig describes a topic that receives shipped log lines keyed by service
type KafkaConfig struct {
	Brokers  []string `yaml:"brokers"`
	Topic    string   `yaml:"topic"`
	Version  string   `yaml:"version,omitempty"`
	ClientID string   `yaml:"client_id,omitempty"`
}

// Defaults are the last-known-good values reported for a metric when no line
// in the retrieved window mentions it
type Defaults struct {
	ChainSynced  float64 `yaml:"chain_synced"`
	StateSynced  float64 `yaml:"state_synced"`
	ChainETA     string  `yaml:"chain_eta"`
	StateETA     string  `yaml:"state_eta"`
	Peers        int     `yaml:"peers"`
	Blocks       int64   `yaml:"blocks"`
	Slot         int64   `yaml:"slot"`
	InboundQUIC  int     `yaml:"inbound_quic"`
	InboundTCP   int     `yaml:"inbound_tcp"`
	OutboundQUIC int     `yaml:"outbound_quic"`
	OutboundTCP  int     `yaml:"outbound_tcp"`
}

// SyncConfig holds the sync label threshold and the epoch length
type SyncConfig struct {
	SyncedThreshold float64 `yaml:"synced_threshold"`
	SlotsPerEpoch   int64   `yaml:"slots_per_epoch"`
}

// ErrorsConfig bounds the error feed
type ErrorsConfig struct {
	CollectCap   int `yaml:"collect_cap"`
	MaxEntries   int `yaml:"max_entries"`
	MessageLimit int `yaml:"message_limit"`
}

// SystemConfig configures the host sampler
type SystemConfig struct {
	Timeout            time.Duration `yaml:"timeout,omitempty"`
	ExcludeFilesystems []string      `yaml:"exclude_filesystems,omitempty"`
}

// ReliabilityConfig holds the circuit breaker guarding log sources
type ReliabilityConfig struct {
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold uint32        `yaml:"failure_threshold,omitempty"`
	Interval         time.Duration `yaml:"interval,omitempty"`
	Timeout          time.Duration `yaml:"timeout,omitempty"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path,omitempty"`
}

// TracingConfig holds tracing configuration
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint,omitempty"`
	SampleRate float64 `yaml:"sample_rate,omitempty"`
}

// Source backend types
const (
	SourceJournald      = "journald"
	SourceFile          = "file"
	SourceKubernetes    = "kubernetes"
	SourceElasticsearch = "elasticsearch"
	SourceKafka         = "kafka"
)

// Default values
const (
	DefaultAddress        = "0.0.0.0:3000"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "json"
	DefaultSourceTimeout  = 5 * time.Second
	DefaultSystemTimeout  = 2 * time.Second
	DefaultMetricsPath    = "/metrics"
	DefaultJournalCommand = "journalctl"
)

// Load reads a YAML configuration file, expanding environment variables
// A missing file yields DefaultConfig. The PORT variable overrides the
// listening port
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		data = nil
	}

	return parse(data)
}

// loadFile is Load for a file that must exist and have content
func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("config file %s is empty", path)
	}

	return parse(data)
}

func parse(data []byte) (*Config, error) {
	cfg := baseConfig()

	if len(data) > 0 {
		expandedData := []byte(os.ExpandEnv(string(data)))
		if err := yaml.Unmarshal(expandedData, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills fields left empty by the file
func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = DefaultAddress
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.System.Timeout == 0 {
		c.System.Timeout = DefaultSystemTimeout
	}
	if c.Sync.SlotsPerEpoch == 0 {
		c.Sync.SlotsPerEpoch = 32
	}
	if c.Errors.CollectCap == 0 {
		c.Errors.CollectCap = 10
	}
	if c.Errors.MaxEntries == 0 {
		c.Errors.MaxEntries = 10
	}
	if c.Errors.MessageLimit == 0 {
		c.Errors.MessageLimit = 100
	}

	cb := &c.Reliability.CircuitBreaker
	if cb.FailureThreshold == 0 {
		cb.FailureThreshold = 5
	}
	if cb.Interval == 0 {
		cb.Interval = 60 * time.Second
	}
	if cb.Timeout == 0 {
		cb.Timeout = 30 * time.Second
	}

	c.Services.Chain.applyDefaults("geth", 150, 300)
	c.Services.Consensus.applyDefaults("prysm", 100, 300)
}

func (s *ServiceConfig) applyDefaults(name string, metricLines, errorLines int) {
	if s.Name == "" {
		s.Name = name
	}
	if s.MetricLines == 0 {
		s.MetricLines = metricLines
	}
	if s.ErrorLines == 0 {
		s.ErrorLines = errorLines
	}
	if s.Source.Type == "" {
		s.Source.Type = SourceJournald
	}
	if s.Source.Timeout == 0 {
		s.Source.Timeout = DefaultSourceTimeout
	}

	switch s.Source.Type {
	case SourceJournald:
		if s.Source.Journald == nil {
			s.Source.Journald = &JournaldConfig{}
		}
		if s.Source.Journald.Command == "" {
			s.Source.Journald.Command = DefaultJournalCommand
		}
		if s.Source.Journald.Unit == "" {
			s.Source.Journald.Unit = s.Name
		}
	case SourceElasticsearch:
		if es := s.Source.Elasticsearch; es != nil {
			if es.ServiceField == "" {
				es.ServiceField = "service"
			}
			if es.MessageField == "" {
				es.MessageField = "message"
			}
			if es.TimestampField == "" {
				es.TimestampField = "@timestamp"
			}
		}
	case SourceKafka:
		if k := s.Source.Kafka; k != nil && k.ClientID == "" {
			k.ClientID = "nodewatch"
		}
	}
}

// applyEnv applies environment overrides that do not need a config file
func (c *Config) applyEnv() {
	if port := os.Getenv("PORT"); port != "" {
		c.Server.Address = "0.0.0.0:" + port
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true, "console": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if c.Sync.SlotsPerEpoch <= 0 {
		return fmt.Errorf("slots_per_epoch must be positive, got %d", c.Sync.SlotsPerEpoch)
	}
	if c.Errors.CollectCap < 0 || c.Errors.MaxEntries < 0 || c.Errors.MessageLimit < 0 {
		return fmt.Errorf("error feed limits must not be negative")
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing sample_rate must be within [0, 1], got %v", c.Tracing.SampleRate)
	}

	if err := c.Services.Chain.Validate(); err != nil {
		return fmt.Errorf("services.chain: %w", err)
	}
	if err := c.Services.Consensus.Validate(); err != nil {
		return fmt.Errorf("services.consensus: %w", err)
	}

	return nil
}

// Validate checks that the selected backend has what it needs
func (s ServiceConfig) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.MetricLines < 0 || s.ErrorLines < 0 {
		return fmt.Errorf("line windows must not be negative")
	}

	switch s.Source.Type {
	case SourceJournald:
	case SourceFile:
		if s.Source.File == nil || s.Source.File.Path == "" {
			return fmt.Errorf("file source requires a path")
		}
	case SourceKubernetes:
		k := s.Source.Kubernetes
		if k == nil || (k.Pod == "" && k.LabelSelector == "") {
			return fmt.Errorf("kubernetes source requires a pod or a label_selector")
		}
	case SourceElasticsearch:
		es := s.Source.Elasticsearch
		if es == nil || es.Index == "" {
			return fmt.Errorf("elasticsearch source requires an index")
		}
		if len(es.Addresses) == 0 && es.CloudID == "" {
			return fmt.Errorf("elasticsearch source requires addresses or cloud_id")
		}
	case SourceKafka:
		k := s.Source.Kafka
		if k == nil || len(k.Brokers) == 0 || k.Topic == "" {
			return fmt.Errorf("kafka source requires brokers and a topic")
		}
	default:
		return fmt.Errorf("unknown source type: %s", s.Source.Type)
	}

	return nil
}

// DefaultConfig returns a configuration that reads both services from
// journald and carries the built-in metric defaults
func DefaultConfig() *Config {
	cfg := baseConfig()
	cfg.applyDefaults()
	return cfg
}

// baseConfig holds the values a file may override but that cannot be told
// apart from an unset zero value after decoding
func baseConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Defaults: DefaultDefaults(),
		Sync: SyncConfig{
			SyncedThreshold: 95,
			SlotsPerEpoch:   32,
		},
		Reliability: ReliabilityConfig{
			CircuitBreaker: CircuitBreakerConfig{Enabled: true},
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// DefaultDefaults returns the built-in last-known-good metric values
func DefaultDefaults() Defaults {
	return Defaults{
		ChainSynced:  41.15,
		StateSynced:  2.32,
		ChainETA:     "20h35m",
		StateETA:     "273h13m",
		Peers:        10,
		Blocks:       9923503,
		Slot:         13347610,
		InboundQUIC:  17,
		InboundTCP:   1,
		OutboundQUIC: 6,
		OutboundTCP:  13,
	}
}
