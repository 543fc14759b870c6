// Package config provides unified configuration for the conductor service.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the service configuration.
type Config struct {
	// DatabaseID identifies this logical database in queue messages.
	DatabaseID string `json:"database_id" yaml:"database_id"`

	// DataDir is the base directory for the topology catalog and local
	// shard databases.
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// HTTP configuration
	HTTP HTTPConfig `json:"http" yaml:"http"`

	// Cluster configuration
	Cluster ClusterConfig `json:"cluster" yaml:"cluster"`

	// Query configuration
	Query QueryConfig `json:"query" yaml:"query"`

	// Maintenance queue configuration
	Maintenance MaintenanceConfig `json:"maintenance" yaml:"maintenance"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	// Addr is the listen address for the query surface
	Addr string `json:"addr" yaml:"addr"`

	// ReadTimeout is the HTTP read timeout
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
}

// ClusterConfig holds cluster bootstrap configuration.
type ClusterConfig struct {
	// NumNodes is the storage-node count used at bootstrap
	NumNodes int `json:"num_nodes" yaml:"num_nodes"`

	// DefaultNumShards is the logical shard count for new tables
	DefaultNumShards int `json:"default_num_shards" yaml:"default_num_shards"`
}

// QueryConfig holds query execution configuration.
type QueryConfig struct {
	// Parallelism bounds concurrent shard calls per fan-out batch
	Parallelism int `json:"parallelism" yaml:"parallelism"`

	// ShardTimeout is the per-shard call timeout
	ShardTimeout time.Duration `json:"shard_timeout" yaml:"shard_timeout"`

	// PlanCacheSize bounds the parsed-statement cache
	PlanCacheSize int `json:"plan_cache_size" yaml:"plan_cache_size"`

	// SnapshotTTL bounds topology snapshot reuse
	SnapshotTTL time.Duration `json:"snapshot_ttl" yaml:"snapshot_ttl"`
}

// MaintenanceConfig holds maintenance queue configuration.
type MaintenanceConfig struct {
	// BufferSize is the in-process queue capacity
	BufferSize int `json:"buffer_size" yaml:"buffer_size"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DatabaseID: "default",
		DataDir:    "./data/conductor",
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Cluster: ClusterConfig{
			NumNodes:         3,
			DefaultNumShards: 4,
		},
		Query: QueryConfig{
			Parallelism:   7,
			ShardTimeout:  30 * time.Second,
			PlanCacheSize: 1024,
			SnapshotTTL:   5 * time.Second,
		},
		Maintenance: MaintenanceConfig{
			BufferSize: 256,
		},
	}
}

// TopologyPath returns the path to the topology catalog database.
func (c *Config) TopologyPath() string {
	return filepath.Join(c.DataDir, "topology.db")
}

// NodesDir returns the base directory for local shard nodes.
func (c *Config) NodesDir() string {
	return filepath.Join(c.DataDir, "nodes")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.Cluster.NumNodes < 1 {
		return fmt.Errorf("cluster.num_nodes must be >= 1, got %d", c.Cluster.NumNodes)
	}
	if c.Cluster.DefaultNumShards < 1 {
		return fmt.Errorf("cluster.default_num_shards must be >= 1, got %d", c.Cluster.DefaultNumShards)
	}
	if c.Query.Parallelism < 1 {
		return fmt.Errorf("query.parallelism must be >= 1, got %d", c.Query.Parallelism)
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv overrides configuration from environment variables, loading a
// local .env file first if present. Variables use the CONDUCTOR_ prefix.
func LoadFromEnv(cfg *Config) {
	_ = godotenv.Load()

	if v := os.Getenv("CONDUCTOR_DATABASE_ID"); v != "" {
		cfg.DatabaseID = v
	}
	if v := os.Getenv("CONDUCTOR_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("CONDUCTOR_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("CONDUCTOR_NUM_NODES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cluster.NumNodes = n
		}
	}
	if v := os.Getenv("CONDUCTOR_DEFAULT_NUM_SHARDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cluster.DefaultNumShards = n
		}
	}
	if v := os.Getenv("CONDUCTOR_QUERY_PARALLELISM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Query.Parallelism = n
		}
	}
	if v := os.Getenv("CONDUCTOR_SHARD_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Query.ShardTimeout = d
		}
	}
}
