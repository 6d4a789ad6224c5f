package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/echonode/echoconsent/genesis"
	"github.com/echonode/echoconsent/identity"
)

// TLSConfig holds paths to the PEM files needed for mTLS.
// When nil or all paths empty, the node falls back to plain TCP.
type TLSConfig struct {
	CACert   string `json:"ca_cert"`
	NodeCert string `json:"node_cert"`
	NodeKey  string `json:"node_key"`
}

// SeedPeer identifies a remote ring member to dial on startup. ID is the
// peer's 64-bit ring ID (the leading 8 bytes of its mined address, read
// big-endian) rendered as decimal text (JSON numbers lose precision above
// 2^53, so this travels as a string).
type SeedPeer struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
}

// GenesisConfig mirrors genesis.Config for JSON round-tripping.
type GenesisConfig struct {
	BlockCount int    `json:"block_count"`
	Seed       string `json:"seed"`
}

// Config holds all node configuration.
type Config struct {
	DataDir    string `json:"data_dir"`
	ListenAddr string `json:"listen_addr"`

	// NetworkID isolates this deployment's mined identities from every other
	// network sharing the same code. Genesis generation does not use it; the
	// genesis chain depends only on the Genesis section.
	NetworkID uint64 `json:"network_id"`

	// IdentityProfile selects one of identity.Test/Production/HighMemory/
	// LowLatency by name.
	IdentityProfile string `json:"identity_profile"`

	// TicketRotationPeriod is how many ticks a ticket.Manager's secret
	// stays current before rotating. Validate requires it to be nonzero, but
	// node.Router does not read it: the router rotates on its own fixed
	// 100-tick period.
	TicketRotationPeriod uint64 `json:"ticket_rotation_period"`

	Genesis   GenesisConfig `json:"genesis"`
	SeedPeers []SeedPeer    `json:"seed_peers,omitempty"`
	TLS       *TLSConfig    `json:"tls,omitempty"`
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		DataDir:              "./data",
		ListenAddr:           "0.0.0.0:30303",
		NetworkID:            1,
		IdentityProfile:      "production",
		TicketRotationPeriod: 100,
		Genesis: GenesisConfig{
			BlockCount: genesis.DefaultBlockCount,
			Seed:       genesis.DefaultSeed,
		},
	}
}

// Load reads a JSON config file from path and validates required fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required fields are present and well-formed.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if c.NetworkID == 0 {
		return fmt.Errorf("network_id must be nonzero")
	}
	if _, err := c.IdentityConfig(); err != nil {
		return err
	}
	if c.TicketRotationPeriod == 0 {
		return fmt.Errorf("ticket_rotation_period must be nonzero")
	}
	if c.Genesis.BlockCount < 0 {
		return fmt.Errorf("genesis.block_count must not be negative")
	}
	if c.TLS != nil {
		t := c.TLS
		allSet := t.CACert != "" && t.NodeCert != "" && t.NodeKey != ""
		allEmpty := t.CACert == "" && t.NodeCert == "" && t.NodeKey == ""
		if !allSet && !allEmpty {
			return fmt.Errorf("tls: all three paths (ca_cert, node_cert, node_key) must be set or all empty")
		}
	}
	return nil
}

// IdentityConfig resolves IdentityProfile to an identity.Config, with
// NetworkID folded in.
func (c *Config) IdentityConfig() (identity.Config, error) {
	var cfg identity.Config
	switch c.IdentityProfile {
	case "test":
		cfg = identity.Test
	case "production", "":
		cfg = identity.Production
	case "high_memory":
		cfg = identity.HighMemory
	case "low_latency":
		cfg = identity.LowLatency
	default:
		return identity.Config{}, fmt.Errorf("config: unknown identity_profile %q", c.IdentityProfile)
	}
	cfg.NetworkID = c.NetworkID
	return cfg, nil
}

// GenesisSpec resolves the configured genesis section to a genesis.Config.
func (c *Config) GenesisSpec() genesis.Config {
	return genesis.Config{BlockCount: c.Genesis.BlockCount, Seed: c.Genesis.Seed}
}

// Save writes the config to path as formatted JSON.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
