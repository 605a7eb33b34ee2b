package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// AdminConfiguration for the HTTP introspection endpoints
type AdminConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
	Secret  string `toml:"secret"` // when set, requests must present it
}

// FeedConfiguration selects where underlay change batches come from
type FeedConfiguration struct {
	Type        string   `toml:"type"` // "memory", "nats" or "kafka"
	NatsURL     string   `toml:"nats_url"`
	Brokers     []string `toml:"brokers"`
	Prefix      string   `toml:"prefix"`      // subject/topic prefix, e.g. "topology.underlay"
	Compression string   `toml:"compression"` // "" or "zstd"
}

// SinkConfiguration selects where overlay transactions are committed
type SinkConfiguration struct {
	Type        string   `toml:"type"` // "memory", "pebble", "kafka" or "nats"
	Path        string   `toml:"path"` // pebble directory (defaults under data_dir)
	NatsURL     string   `toml:"nats_url"`
	Brokers     []string `toml:"brokers"`
	Prefix      string   `toml:"prefix"`
	Compression string   `toml:"compression"`
}

// WriterConfiguration controls the batched transactional writer
type WriterConfiguration struct {
	MaxBatch          int `toml:"max_batch"`           // operations per transaction
	MaxPending        int `toml:"max_pending"`         // 0 = unbounded pending queue
	TeardownTimeoutMS int `toml:"teardown_timeout_ms"` // bounded wait for the final root delete
}

// UnderlayConfiguration names one underlay topology to watch
type UnderlayConfiguration struct {
	TopologyID string `toml:"topology_id"`
	Inventory  bool   `toml:"inventory"` // items are complete only once inventory data arrived
}

// FilterConfiguration declares one filtration predicate
type FilterConfiguration struct {
	Kind     string   `toml:"kind"` // value, range-number, range-string, ipv4, ipv6, script, glob
	Path     string   `toml:"path"`
	Value    *string  `toml:"value"`
	Min      *string  `toml:"min"`
	Max      *string  `toml:"max"`
	Prefix   *string  `toml:"prefix"`
	Language string   `toml:"language"`
	Script   *string  `toml:"script"`
	Patterns []string `toml:"patterns"`
}

// AggregationConfiguration declares how matching underlay items are grouped
type AggregationConfiguration struct {
	Matcher         string   `toml:"matcher"` // equality, range or script
	Paths           []string `toml:"paths"`   // matching-key paths
	Tolerance       int64    `toml:"tolerance"`
	Language        string   `toml:"language"`
	Script          string   `toml:"script"`
	AggregateInside bool     `toml:"aggregate_inside"` // allow members from the same underlay topology
	Prefilter       bool     `toml:"prefilter"`        // apply filters before aggregation
}

// TerminationPointConfiguration enables TP aggregation under aggregated nodes
type TerminationPointConfiguration struct {
	Path    string `toml:"path"`     // TP list inside a node payload
	KeyPath string `toml:"key_path"` // TP matching key, relative to one TP
}

// TopologyConfiguration declares one overlay topology
type TopologyConfiguration struct {
	Name              string                         `toml:"name"`
	Kind              string                         `toml:"kind"`
	OutputModel       string                         `toml:"output_model"`
	Underlay          []UnderlayConfiguration        `toml:"underlay"`
	Filters           []FilterConfiguration          `toml:"filter"`
	Aggregation       *AggregationConfiguration      `toml:"aggregation"`
	TerminationPoints *TerminationPointConfiguration `toml:"termination_points"`
}

// Configuration is the main configuration structure
type Configuration struct {
	InstanceID string `toml:"instance_id"`
	DataDir    string `toml:"data_dir"`

	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
	Admin      AdminConfiguration      `toml:"admin"`
	Feed       FeedConfiguration       `toml:"feed"`
	Sink       SinkConfiguration       `toml:"sink"`
	Writer     WriterConfiguration     `toml:"writer"`
	Topologies []TopologyConfiguration `toml:"topology"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	DataDirFlag    = flag.String("data-dir", "", "Data directory (overrides config)")
	AdminPortFlag  = flag.Int("admin-port", 0, "Admin HTTP port (overrides config)")
)

// Default configuration
var Config = Default()

// Default returns a fresh configuration populated with defaults
func Default() *Configuration {
	return &Configuration{
		InstanceID: "", // Auto-generate
		DataDir:    "./topocorr-data",

		Logging: LoggingConfiguration{
			Verbose: false,
			Format:  "console",
		},

		Prometheus: PrometheusConfiguration{
			Enabled: true,
		},

		Admin: AdminConfiguration{
			Enabled: true,
			Address: "0.0.0.0",
			Port:    8181,
		},

		Feed: FeedConfiguration{
			Type:   "memory",
			Prefix: "topology.underlay",
		},

		Sink: SinkConfiguration{
			Type:   "pebble",
			Prefix: "topology.overlay",
		},

		Writer: WriterConfiguration{
			MaxBatch:          50,
			MaxPending:        0,
			TeardownTimeoutMS: 1000,
		},
	}
}

// Load loads configuration from file into Config and applies CLI overrides
func Load(configPath string) error {
	// Load from file if it exists
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *AdminPortFlag != 0 {
		Config.Admin.Port = *AdminPortFlag
	}

	// Auto-generate instance ID if not set
	if Config.InstanceID == "" {
		id, err := generateInstanceID()
		if err != nil {
			return fmt.Errorf("failed to generate instance ID: %w", err)
		}
		Config.InstanceID = id
		log.Info().Str("instance_id", Config.InstanceID).Msg("Auto-generated instance ID")
	}

	// Ensure data directory exists
	if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	return nil
}

// Decode parses TOML text on top of the defaults. Used by tests and embedders.
func Decode(text string) (*Configuration, error) {
	c := Default()
	if _, err := toml.Decode(text, c); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return c, nil
}

// generateInstanceID creates a stable instance ID based on machine ID
func generateInstanceID() (string, error) {
	id, err := machineid.ProtectedID("topocorr")
	if err != nil {
		return "", err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return strconv.FormatUint(h.Sum64(), 16), nil
}

// Validate checks the global configuration for errors
func Validate() error {
	return Config.Validate()
}

var (
	validFeedTypes = map[string]bool{"memory": true, "nats": true, "kafka": true}
	validSinkTypes = map[string]bool{"memory": true, "pebble": true, "kafka": true, "nats": true}
	validKinds     = map[string]bool{"node": true, "link": true, "termination-point": true, "tp": true}
	validMatchers  = map[string]bool{"": true, "equality": true, "range": true, "script": true}
	validCodecs    = map[string]bool{"": true, "none": true, "zstd": true}
)

// Validate checks configuration for errors. Filter parameters themselves are
// validated by the filter factories when pipelines are built.
func (c *Configuration) Validate() error {
	if c.Admin.Enabled && (c.Admin.Port < 1 || c.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", c.Admin.Port)
	}

	if !validFeedTypes[c.Feed.Type] {
		return fmt.Errorf("invalid feed type: %q", c.Feed.Type)
	}
	if c.Feed.Type == "nats" && c.Feed.NatsURL == "" {
		return fmt.Errorf("nats feed requires nats_url")
	}
	if c.Feed.Type == "kafka" && len(c.Feed.Brokers) == 0 {
		return fmt.Errorf("kafka feed requires at least one broker")
	}
	if !validCodecs[c.Feed.Compression] {
		return fmt.Errorf("invalid feed compression: %q", c.Feed.Compression)
	}

	if !validSinkTypes[c.Sink.Type] {
		return fmt.Errorf("invalid sink type: %q", c.Sink.Type)
	}
	if !validCodecs[c.Sink.Compression] {
		return fmt.Errorf("invalid sink compression: %q", c.Sink.Compression)
	}

	if c.Writer.MaxBatch < 1 {
		return fmt.Errorf("writer max batch must be >= 1")
	}
	if c.Writer.MaxPending < 0 {
		return fmt.Errorf("writer max pending must be >= 0")
	}
	if c.Writer.TeardownTimeoutMS < 1 {
		return fmt.Errorf("writer teardown timeout must be >= 1ms")
	}

	seen := make(map[string]bool, len(c.Topologies))
	for i := range c.Topologies {
		t := &c.Topologies[i]
		if err := t.Validate(); err != nil {
			return fmt.Errorf("topology %d (%q): %w", i, t.Name, err)
		}
		if seen[t.Name] {
			return fmt.Errorf("duplicate topology name: %q", t.Name)
		}
		seen[t.Name] = true
	}

	return nil
}

// Validate checks one overlay topology declaration
func (t *TopologyConfiguration) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !validKinds[t.Kind] {
		return fmt.Errorf("invalid correlation kind: %q", t.Kind)
	}
	if len(t.Underlay) == 0 {
		return fmt.Errorf("at least one underlay topology is required")
	}
	for _, u := range t.Underlay {
		if u.TopologyID == "" {
			return fmt.Errorf("underlay topology_id is required")
		}
	}
	for i, f := range t.Filters {
		if f.Kind == "" {
			return fmt.Errorf("filter %d: kind is required", i)
		}
	}

	if a := t.Aggregation; a != nil {
		if !validMatchers[a.Matcher] {
			return fmt.Errorf("invalid aggregation matcher: %q", a.Matcher)
		}
		if len(a.Paths) == 0 {
			return fmt.Errorf("aggregation requires at least one matching-key path")
		}
		if a.Matcher == "range" && len(a.Paths) != 1 {
			return fmt.Errorf("range matcher takes exactly one path")
		}
		if a.Matcher == "range" && a.Tolerance < 0 {
			return fmt.Errorf("range matcher tolerance must be >= 0")
		}
		if a.Matcher == "script" && a.Script == "" {
			return fmt.Errorf("script matcher requires a script")
		}
		if a.Prefilter && len(t.Filters) == 0 {
			return fmt.Errorf("prefilter requires at least one filter")
		}
		if len(t.Underlay) == 1 && !a.AggregateInside {
			log.Warn().Str("topology", t.Name).
				Msg("Aggregation over a single underlay topology without aggregate_inside never merges items")
		}
	} else if len(t.Filters) == 0 {
		return fmt.Errorf("topology needs filters, aggregation, or both")
	}

	if tp := t.TerminationPoints; tp != nil {
		if t.Kind != "node" {
			return fmt.Errorf("termination point aggregation requires kind \"node\"")
		}
		if tp.Path == "" || tp.KeyPath == "" {
			return fmt.Errorf("termination_points requires path and key_path")
		}
	}

	return nil
}

// WithDefaults fills zero-valued writer settings from the defaults
func (w WriterConfiguration) WithDefaults() WriterConfiguration {
	d := Default().Writer
	if w.MaxBatch <= 0 {
		w.MaxBatch = d.MaxBatch
	}
	if w.TeardownTimeoutMS <= 0 {
		w.TeardownTimeoutMS = d.TeardownTimeoutMS
	}
	return w
}
