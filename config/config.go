// Package config provides YAML configuration parsing for the meshprobe agent,
// plus the dynamic settings the coordinator pushes at every announce.
//
// The file config covers what must be known before the first announce:
// coordinator URLs, the agent's identity, and the local listen port.
//
// Example configuration:
//
//	coordinator_url: https://coordinator.example.com/api/announce
//	ping_report_url: https://coordinator.example.com/api/report_ping
//	download_report_url: https://coordinator.example.com/api/report_download
//	listen_port: 5001
//	machine_name: probe-eu-west-1a
//	network_id: 42
//	cloud_provider: aws
//	cloud_region: eu-west-1
//	announce_interval: 5m
package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// defaultListenPort is where the agent serves downloads and statistics.
	defaultListenPort = 5001

	// defaultAnnounceInterval is the discovery cadence until the coordinator
	// advertises one.
	defaultAnnounceInterval = 5 * time.Minute
)

// Config is the root structure of the agent's local configuration file.
// Use [Load] or [Parse] to create one from YAML.
type Config struct {
	// CoordinatorURL is the announce endpoint. Required.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}.
	CoordinatorURL string `yaml:"coordinator_url"`

	// PingReportURL receives ping round summaries. Required.
	PingReportURL string `yaml:"ping_report_url"`

	// DownloadReportURL receives download round summaries. Required.
	DownloadReportURL string `yaml:"download_report_url"`

	// ListenPort is the local HTTP port for the download payload server and
	// the statistics endpoint. Defaults to 5001.
	ListenPort int `yaml:"listen_port"`

	// MachineName identifies this agent to the coordinator. When empty the
	// OS hostname is used; if that also fails, startup aborts.
	MachineName string `yaml:"machine_name"`

	// NetworkID is an informative network identifier sent with announces.
	NetworkID string `yaml:"network_id"`

	// CloudProvider and CloudRegion are informative placement labels sent
	// with announces.
	CloudProvider string `yaml:"cloud_provider"`
	CloudRegion   string `yaml:"cloud_region"`

	// AnnounceInterval is the initial discovery interval, overridden by the
	// coordinator once it advertises announce_interval_sec. Defaults to 5m.
	AnnounceInterval Duration `yaml:"announce_interval"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// Environment variables in the file are expanded before validation.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data, expands environment variables in the
// URL fields, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.ListenPort == 0 {
		cfg.ListenPort = defaultListenPort
	}
	if cfg.AnnounceInterval == 0 {
		cfg.AnnounceInterval = Duration(defaultAnnounceInterval)
	}

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	urls := []struct {
		name  string
		value *string
	}{
		{"coordinator_url", &c.CoordinatorURL},
		{"ping_report_url", &c.PingReportURL},
		{"download_report_url", &c.DownloadReportURL},
	}

	for _, u := range urls {
		if *u.value == "" {
			return fmt.Errorf("%s is required", u.name)
		}
		expanded, err := expandEnvVars(*u.value)
		if err != nil {
			return fmt.Errorf("%s: %w", u.name, err)
		}
		*u.value = expanded

		parsed, err := url.Parse(*u.value)
		if err != nil {
			return fmt.Errorf("%s: invalid url: %w", u.name, err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("%s: url scheme must be http or https, got %q", u.name, parsed.Scheme)
		}
	}

	if c.ListenPort < 1 || c.ListenPort > 65535 {
		return fmt.Errorf("listen_port must be between 1 and 65535, got %d", c.ListenPort)
	}

	if c.AnnounceInterval.Duration() < time.Second {
		return fmt.Errorf("announce_interval must be at least 1s, got %s", c.AnnounceInterval.Duration())
	}

	return nil
}
