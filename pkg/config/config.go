// Package config loads the node configuration from YAML
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"time"

	"github.com/multiformats/go-multiaddr"
	"gopkg.in/yaml.v3"
)

// Config holds the node configuration
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	Transport TransportConfig `yaml:"transport"`
	Storage   StorageConfig   `yaml:"storage"`
	Search    SearchConfig    `yaml:"search"`
	TimeSync  TimeSyncConfig  `yaml:"tsync"`
	API       APIConfig       `yaml:"api"`
	Log       LogConfig       `yaml:"log"`
}

type NodeConfig struct {
	GUIDSeed      string `yaml:"guid_seed"` // servent GUID derived from it, random when empty
	KeyPath       string `yaml:"key_path"`  // libp2p identity key
	ListenIP      string `yaml:"listen_ip"`
	ListenPort    uint16 `yaml:"listen_port"`
	UDPFirewalled bool   `yaml:"udp_firewalled"`
	Leaf          bool   `yaml:"leaf"`
	UserAgent     string `yaml:"user_agent"`
	Locale        string `yaml:"locale"` // 2-letter language sent to peers
	MaxNodes      int    `yaml:"max_nodes"`
}

type TransportConfig struct {
	StreamListen []string `yaml:"stream_listen"` // libp2p multiaddrs
	UDPListen    string   `yaml:"udp_listen"`    // host:port, empty to disable
	Bootstrap    []string `yaml:"bootstrap"`     // p2p multiaddrs of peers to dial
}

type StorageConfig struct {
	Path     string        `yaml:"path"`
	RouteTTL time.Duration `yaml:"route_ttl"`
}

type SearchConfig struct {
	MaxQueries    int `yaml:"max_queries"`
	MaxOOBResults int `yaml:"max_oob_results"`
}

type TimeSyncConfig struct {
	NTP      bool          `yaml:"ntp"` // our clock is NTP-synchronized
	Interval time.Duration `yaml:"interval"`
}

type APIConfig struct {
	Listen string `yaml:"listen"` // empty to disable
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			KeyPath:    "./data/node.pem",
			ListenIP:   "0.0.0.0",
			ListenPort: 6346,
			UserAgent:  "vmsgd/0.1",
			Locale:     "en",
			MaxNodes:   64,
		},
		Transport: TransportConfig{
			StreamListen: []string{"/ip4/0.0.0.0/tcp/6346"},
			UDPListen:    "0.0.0.0:6346",
		},
		Storage: StorageConfig{
			Path:     "./data/routes.db",
			RouteTTL: 24 * time.Hour,
		},
		Search: SearchConfig{
			MaxQueries:    1024,
			MaxOOBResults: 512,
		},
		TimeSync: TimeSyncConfig{
			Interval: 15 * time.Minute,
		},
		API: APIConfig{
			Listen: "127.0.0.1:8080",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads path over the defaults and validates the result
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration
func (c *Config) Validate() error {
	var errs []error

	if _, err := netip.ParseAddr(c.Node.ListenIP); err != nil {
		errs = append(errs, fmt.Errorf("node.listen_ip: %w", err))
	}
	if c.Node.ListenPort == 0 {
		errs = append(errs, errors.New("node.listen_port: must not be 0"))
	}
	if c.Node.MaxNodes < 0 {
		errs = append(errs, errors.New("node.max_nodes: must not be negative"))
	}

	for _, addr := range c.Transport.StreamListen {
		if _, err := multiaddr.NewMultiaddr(addr); err != nil {
			errs = append(errs, fmt.Errorf("transport.stream_listen %q: %w", addr, err))
		}
	}
	for _, addr := range c.Transport.Bootstrap {
		if _, err := multiaddr.NewMultiaddr(addr); err != nil {
			errs = append(errs, fmt.Errorf("transport.bootstrap %q: %w", addr, err))
		}
	}
	if c.Transport.UDPListen != "" {
		if _, err := netip.ParseAddrPort(c.Transport.UDPListen); err != nil {
			errs = append(errs, fmt.Errorf("transport.udp_listen: %w", err))
		}
	}

	if c.Node.KeyPath == "" {
		errs = append(errs, errors.New("node.key_path: required"))
	}

	if c.Storage.Path == "" {
		errs = append(errs, errors.New("storage.path: required"))
	}
	if c.Storage.RouteTTL < 0 {
		errs = append(errs, errors.New("storage.route_ttl: must not be negative"))
	}

	if c.Search.MaxQueries <= 0 {
		errs = append(errs, errors.New("search.max_queries: must be positive"))
	}
	if c.Search.MaxOOBResults <= 0 {
		errs = append(errs, errors.New("search.max_oob_results: must be positive"))
	}

	if c.TimeSync.Interval < 0 {
		errs = append(errs, errors.New("tsync.interval: must not be negative"))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}

	return errors.Join(errs...)
}

// ListenAddr returns the address advertised to peers
func (c *Config) ListenAddr() netip.AddrPort {
	ip, err := netip.ParseAddr(c.Node.ListenIP)
	if err != nil {
		return netip.AddrPort{}
	}
	return netip.AddrPortFrom(ip, c.Node.ListenPort)
}
