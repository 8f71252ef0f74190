package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full node configuration enumerated in spec §6.
type Config struct {
	Node    NodeConfig    `yaml:"node"`
	Cluster ClusterConfig `yaml:"cluster"`
	Timing  TimingConfig  `yaml:"timing"`
	Lock    LockConfig    `yaml:"lock"`
	Queue   QueueConfig   `yaml:"queue"`
	Cache   CacheConfig   `yaml:"cache"`
	FD      FDConfig      `yaml:"failureDetector"`
}

type NodeConfig struct {
	ID         string `yaml:"id"`
	ListenAddr string `yaml:"listenAddr"`
	DataDir    string `yaml:"dataDir"`
}

type ClusterConfig struct {
	Peers []PeerConfig `yaml:"peers"`
}

type PeerConfig struct {
	ID      string `yaml:"id"`
	Address string `yaml:"address"`
}

type TimingConfig struct {
	ElectionTimeoutMinMs  int `yaml:"electionTimeoutMinMs"`
	ElectionTimeoutMaxMs  int `yaml:"electionTimeoutMaxMs"`
	HeartbeatIntervalMs   int `yaml:"heartbeatIntervalMs"`
	DeadlockScanIntervalMs int `yaml:"deadlockScanIntervalMs"`
}

type LockConfig struct {
	DefaultTimeoutMs int `yaml:"defaultTimeoutMs"`
}

type QueueConfig struct {
	MaxRetries         int `yaml:"maxRetries"`
	DefaultVisibilityMs int `yaml:"defaultVisibilityMs"`
}

type CacheConfig struct {
	Capacity int `yaml:"capacity"`
}

type FDConfig struct {
	PhiSuspectedThreshold float64 `yaml:"phiSuspectedThreshold"`
	PhiFailedThreshold    float64 `yaml:"phiFailedThreshold"`
	SampleWindow          int     `yaml:"sampleWindow"`
}

// Defaults per spec §6.
func Defaults() Config {
	return Config{
		Timing: TimingConfig{
			ElectionTimeoutMinMs:   150,
			ElectionTimeoutMaxMs:   300,
			HeartbeatIntervalMs:    50,
			DeadlockScanIntervalMs: 500,
		},
		Lock: LockConfig{
			DefaultTimeoutMs: 1000,
		},
		Queue: QueueConfig{
			MaxRetries:          5,
			DefaultVisibilityMs: 30000,
		},
		Cache: CacheConfig{
			Capacity: 1000,
		},
		FD: FDConfig{
			PhiSuspectedThreshold: 8,
			PhiFailedThreshold:    12,
			SampleWindow:          100,
		},
	}
}

// Load reads and validates a YAML config file. It starts from
// Defaults(), so any field the file leaves out keeps its spec default;
// a field the file sets explicitly, even to zero, overrides it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Node.ID == "" {
		return fmt.Errorf("node.id is required")
	}

	if c.Node.ListenAddr == "" {
		return fmt.Errorf("node.listenAddr is required")
	}

	if c.Node.DataDir == "" {
		return fmt.Errorf("node.dataDir is required")
	}

	if len(c.Cluster.Peers) == 0 {
		return fmt.Errorf("cluster.peers must contain at least one peer")
	}

	found := false
	seen := make(map[string]bool, len(c.Cluster.Peers))
	for _, peer := range c.Cluster.Peers {
		if seen[peer.ID] {
			return fmt.Errorf("duplicate peer ID: %s", peer.ID)
		}
		seen[peer.ID] = true

		if peer.ID == c.Node.ID {
			found = true
			if peer.Address != c.Node.ListenAddr {
				return fmt.Errorf("node address mismatch: node.listenAddr=%s but peer address=%s",
					c.Node.ListenAddr, peer.Address)
			}
		}
	}

	if !found {
		return fmt.Errorf("node.id=%s not found in cluster.peers", c.Node.ID)
	}

	if c.Timing.ElectionTimeoutMinMs <= 0 || c.Timing.ElectionTimeoutMaxMs <= c.Timing.ElectionTimeoutMinMs {
		return fmt.Errorf("timing.electionTimeoutMinMs must be positive and less than electionTimeoutMaxMs")
	}

	if c.Timing.HeartbeatIntervalMs*2 >= c.Timing.ElectionTimeoutMinMs {
		return fmt.Errorf("timing.heartbeatIntervalMs must be less than electionTimeoutMinMs/2")
	}

	return nil
}

func (c *Config) ElectionTimeoutRange() (time.Duration, time.Duration) {
	return time.Duration(c.Timing.ElectionTimeoutMinMs) * time.Millisecond,
		time.Duration(c.Timing.ElectionTimeoutMaxMs) * time.Millisecond
}

func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Timing.HeartbeatIntervalMs) * time.Millisecond
}

func (c *Config) DeadlockScanInterval() time.Duration {
	return time.Duration(c.Timing.DeadlockScanIntervalMs) * time.Millisecond
}

func (c *Config) PeerIDs() []string {
	ids := make([]string, len(c.Cluster.Peers))
	for i, p := range c.Cluster.Peers {
		ids[i] = p.ID
	}
	return ids
}

func (c *Config) PeerAddresses() map[string]string {
	res := make(map[string]string, len(c.Cluster.Peers))
	for _, p := range c.Cluster.Peers {
		res[p.ID] = p.Address
	}
	return res
}

// ParsePeersFlag parses the CLI-friendly "id@host:port,id@host:port"
// form used by cmd/clustercore, mirroring the teacher's comma-split
// "-peers" flag in cmd/main.go.
func ParsePeersFlag(s string) ([]PeerConfig, error) {
	if s == "" {
		return nil, fmt.Errorf("peers must be provided")
	}

	parts := strings.Split(s, ",")
	peers := make([]PeerConfig, 0, len(parts))
	for _, part := range parts {
		idAddr := strings.SplitN(part, "@", 2)
		if len(idAddr) != 2 {
			return nil, fmt.Errorf("invalid peer %q, want id@host:port", part)
		}
		peers = append(peers, PeerConfig{ID: idAddr[0], Address: idAddr[1]})
	}
	return peers, nil
}
