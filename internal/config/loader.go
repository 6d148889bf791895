package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// millis converts a millisecond count from the config file into a Duration.
func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// DefaultConfigFile is the default configuration file name.
const DefaultConfigFile = ".probegw"

// XDGConfigFile is the configuration file name inside XDGConfigDir.
const XDGConfigFile = "config.yaml"

// ErrConfigNotFound is returned when the configuration file does not exist.
var ErrConfigNotFound = errors.New("configuration file not found")

// File represents the structure of the .probegw configuration file.
type File struct {
	// Listen overrides the HTTP API listen address.
	Listen string `yaml:"listen,omitempty"`

	// TimeoutMs overrides the default per-probe timeout, in milliseconds.
	TimeoutMs int `yaml:"timeout_ms,omitempty"`

	// MaxFrameBytes overrides the frame length cap.
	MaxFrameBytes int64 `yaml:"max_frame_bytes,omitempty"`

	// EdgeNetworks is the anycast edge provider CIDR table. When present
	// it replaces the compiled-in default table entirely.
	EdgeNetworks []string `yaml:"edge_networks,omitempty"`

	// UpstreamProxy is an optional SOCKS5 proxy for outbound dialing.
	UpstreamProxy string `yaml:"upstream_proxy,omitempty"`

	// HistoryDir enables probe-history recording into the given directory.
	HistoryDir string `yaml:"history_dir,omitempty"`

	// SNMPCommunity overrides the community string for SNMP probes.
	SNMPCommunity string `yaml:"snmp_community,omitempty"`

	// RADIUSSecret is the shared secret for RADIUS probes.
	RADIUSSecret string `yaml:"radius_secret,omitempty"`

	// RIPAuthKey enables keyed-MD5 authentication on RIPv2 probes.
	RIPAuthKey string `yaml:"rip_auth_key,omitempty"`

	// RIPKeyID identifies the RIP authentication key on the wire.
	RIPKeyID uint8 `yaml:"rip_key_id,omitempty"`
}

// LoadConfigFile loads gateway configuration from a YAML file.
// If the file does not exist, it returns ErrConfigNotFound. Callers should
// handle this error based on whether the path was explicitly user-specified.
func LoadConfigFile(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // User-provided config path is intentional
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}

	var cf File
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, err
	}

	// Reject malformed CIDR entries now, at startup, rather than letting a
	// typo silently shrink the edge table at probe time.
	for _, entry := range cf.EdgeNetworks {
		if _, err := netip.ParsePrefix(entry); err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidEdgeNetwork, entry)
		}
	}

	return &cf, nil
}

// Apply merges file values into the config. File values win over defaults
// but lose to explicitly-set CLI flags; callers apply flags afterwards.
func (cf *File) Apply(c *Config) {
	if cf.Listen != "" {
		c.ListenAddress = cf.Listen
	}
	if cf.TimeoutMs > 0 {
		c.Timeout = millis(cf.TimeoutMs)
	}
	if cf.MaxFrameBytes > 0 {
		c.MaxFrameBytes = cf.MaxFrameBytes
	}
	if len(cf.EdgeNetworks) > 0 {
		c.EdgeNetworks = append([]string(nil), cf.EdgeNetworks...)
	}
	if cf.UpstreamProxy != "" {
		c.UpstreamProxy = cf.UpstreamProxy
	}
	if cf.HistoryDir != "" {
		c.HistoryDir = cf.HistoryDir
		c.SaveHistory = true
	}
	if cf.SNMPCommunity != "" {
		c.SNMPCommunity = cf.SNMPCommunity
	}
	if cf.RADIUSSecret != "" {
		c.RADIUSSecret = cf.RADIUSSecret
	}
	if cf.RIPAuthKey != "" {
		c.RIPAuthKey = cf.RIPAuthKey
		c.RIPKeyID = cf.RIPKeyID
	}
}

// FindConfigFile searches for the configuration file in the following order:
// 1. If configPath is specified, use it directly
// 2. Look for .probegw in the current directory
// 3. Look for config.yaml in the XDG config directory
// 4. Look for .probegw in the user's home directory
//
// Returns the path to the configuration file if found, or empty string if not found.
func FindConfigFile(configPath string) string {
	// If explicit path is provided, use it
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		return ""
	}

	// Check current directory
	cwd, err := os.Getwd()
	if err == nil {
		cwdConfig := filepath.Join(cwd, DefaultConfigFile)
		if _, err := os.Stat(cwdConfig); err == nil {
			return cwdConfig
		}
	}

	// Check XDG config directory
	xdgConfig := filepath.Join(XDGConfigDir(), XDGConfigFile)
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig
	}

	// Check home directory
	home, err := os.UserHomeDir()
	if err == nil {
		homeConfig := filepath.Join(home, DefaultConfigFile)
		if _, err := os.Stat(homeConfig); err == nil {
			return homeConfig
		}
	}

	return ""
}
