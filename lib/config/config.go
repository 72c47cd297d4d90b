// Copyright 2026 The PeerChat Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads relay configuration from a YAML file with a
// PEERCHAT_* environment variable overlay. The file is the source of
// truth for addresses and paths; secrets (the owner token) normally
// arrive through the environment so they stay out of checked-in
// config files.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// envPrefix namespaces the environment overlay (PEERCHAT_OWNER_TOKEN,
// PEERCHAT_LISTEN_ADDRESS, ...).
const envPrefix = "peerchat"

// Config is the relay configuration.
type Config struct {
	// ListenAddress is the TCP address for the HTTP API and the
	// realtime WebSocket endpoint.
	ListenAddress string `yaml:"listen_address" envconfig:"LISTEN_ADDRESS"`

	// MetricsAddress serves Prometheus metrics. Empty disables the
	// metrics listener.
	MetricsAddress string `yaml:"metrics_address" envconfig:"METRICS_ADDRESS"`

	// StateDir holds the relay's Ed25519 signing keypair.
	StateDir string `yaml:"state_dir" envconfig:"STATE_DIR"`

	// OwnerToken authorizes invite creation. Compared verbatim
	// against the Authorization header of /api/create-invite.
	OwnerToken string `yaml:"owner_token" envconfig:"OWNER_TOKEN"`

	// ICEServers are handed to clients for WebRTC candidate
	// gathering. Empty means host candidates only, which is enough
	// for same-LAN peers.
	ICEServers []ICEServer `yaml:"ice_servers"`
}

// ICEServer is one STUN or TURN entry.
type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

// Default returns the base configuration merged under any loaded
// file. These exist so every field has a sensible zero-value, not as
// a substitute for configuration.
func Default() *Config {
	return &Config{
		ListenAddress: ":6765",
		StateDir:      ".",
	}
}

// Load builds the configuration: defaults, then the YAML file at
// path (skipped when path is empty), then the PEERCHAT_* environment
// overlay, then validation.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.ListenAddress == "" {
		errs = append(errs, fmt.Errorf("listen_address is required"))
	}
	if c.StateDir == "" {
		errs = append(errs, fmt.Errorf("state_dir is required"))
	}
	for i, server := range c.ICEServers {
		if len(server.URLs) == 0 {
			errs = append(errs, fmt.Errorf("ice_servers[%d]: urls is required", i))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
