// Package config loads the repository's JSON/YAML configuration file:
// repository paths, listen address, public-read policy, peer list, and
// digest algorithm selection, dispatched on file extension.
package config

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"encoding/json"

	"gopkg.in/yaml.v3"
)

const ConfigVersion = 1

// PeerConfig names a remote repository to poll for new content, per
// SPEC_FULL.md's supplemented Peer abstraction.
type PeerConfig struct {
	URL          string        `json:"url" yaml:"url"`
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`
}

// Config is the repository's full on-disk configuration.
type Config struct {
	Version *uint64 `json:"version" yaml:"version"`

	// Root is the repository root; data/tmp/cache/db subdirectories are
	// derived from it (see internal/repo.NewDirs).
	Root string `json:"root" yaml:"root"`

	// Listen is the fasthttp listen address for the HTTP dispatch
	// adapter, e.g. ":8080".
	Listen string `json:"listen" yaml:"listen"`

	// PublicRead, when true, permits anonymous read access to every
	// file and query regardless of its owner/Public flag.
	PublicRead bool `json:"public_read" yaml:"public_read"`

	// DigestAlgos lists hash algorithm names read from the config file.
	// Nothing else reads it: internal/submission always computes sha256
	// and sha1 for every submission.
	DigestAlgos []string `json:"digest_algos" yaml:"digest_algos"`

	Peers []PeerConfig `json:"peers" yaml:"peers"`

	originalFilepath string
	hashOfConfigFile string
}

// LoadConfig reads configFilepath (JSON or YAML, by extension) into a
// Config and records its sha256 so later reloads can detect drift.
func LoadConfig(configFilepath string) (*Config, error) {
	var cfg Config
	switch {
	case isJSONFile(configFilepath):
		if err := loadFromJSON(configFilepath, &cfg); err != nil {
			return nil, err
		}
	case isYAMLFile(configFilepath):
		if err := loadFromYAML(configFilepath, &cfg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("config file %q must be JSON or YAML", configFilepath)
	}
	cfg.originalFilepath = configFilepath
	sum, err := hashFileSha256(configFilepath)
	if err != nil {
		return nil, fmt.Errorf("config file %q: %w", configFilepath, err)
	}
	cfg.hashOfConfigFile = sum
	return &cfg, nil
}

func isJSONFile(path string) bool {
	return strings.HasSuffix(path, ".json")
}

func isYAMLFile(path string) bool {
	return strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml")
}

func loadFromJSON(configFilepath string, dst any) error {
	f, err := os.Open(configFilepath)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(dst)
}

func loadFromYAML(configFilepath string, dst any) error {
	f, err := os.Open(configFilepath)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()
	return yaml.NewDecoder(f).Decode(dst)
}

func hashFileSha256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

func (c *Config) ConfigFilepath() string { return c.originalFilepath }
func (c *Config) HashOfConfigFile() string { return c.hashOfConfigFile }

func (c *Config) IsSameHashAsFile(path string) bool {
	sum, err := hashFileSha256(path)
	if err != nil {
		return false
	}
	return c.hashOfConfigFile == sum
}

// Validate checks required fields and rejects an unsupported version.
func (c *Config) Validate() error {
	if c.Version == nil {
		return fmt.Errorf("version must be set")
	}
	if *c.Version != ConfigVersion {
		return fmt.Errorf("version must be %d", ConfigVersion)
	}
	if c.Root == "" {
		return fmt.Errorf("root must be set")
	}
	if c.Listen == "" {
		return fmt.Errorf("listen must be set")
	}
	for i, p := range c.Peers {
		if p.URL == "" {
			return fmt.Errorf("peers[%d].url must be set", i)
		}
	}
	return nil
}
