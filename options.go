package meshprobe

import (
	"errors"
	"log/slog"

	"github.com/benbjohnson/clock"

	"github.com/netmeasure/meshprobe/config"
)

// agentConfig holds mutable state during Agent construction.
type agentConfig struct {
	cfg        *config.Config
	configPath string
	version    string
	logger     *slog.Logger
	clk        clock.Clock
}

// Option is a function that configures an [Agent] instance during
// construction.
//
// Option implements the functional options pattern, allowing optional
// configuration to be passed to [New] in a type-safe, extensible way.
// Options return an error if validation fails.
//
// Built-in options: [WithConfig], [WithConfigFile], [WithVersion],
// [WithLogger], [WithClock].
type Option func(*agentConfig) error

// WithConfig supplies an already-built configuration.
//
// Exactly one of [WithConfig] and [WithConfigFile] must be given. With this
// option the /config_reload endpoint has nothing to re-read and reports so.
//
// Example:
//
//	cfg, err := config.Load("meshprobe.yaml")
//	...
//	agent, err := meshprobe.New(meshprobe.WithConfig(cfg))
func WithConfig(cfg *config.Config) Option {
	return func(ac *agentConfig) error {
		if cfg == nil {
			return errors.New("config cannot be nil")
		}
		ac.cfg = cfg
		return nil
	}
}

// WithConfigFile loads the configuration from a YAML file and remembers the
// path so /config_reload can re-read it at runtime.
//
// Example:
//
//	agent, err := meshprobe.New(meshprobe.WithConfigFile("meshprobe.yaml"))
//
// Returns an error if the file cannot be read or fails validation.
func WithConfigFile(path string) Option {
	return func(ac *agentConfig) error {
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		ac.cfg = cfg
		ac.configPath = path
		return nil
	}
}

// WithVersion sets the version string the agent reports to the coordinator
// and on its status endpoints. Defaults to "dev".
func WithVersion(version string) Option {
	return func(ac *agentConfig) error {
		if version == "" {
			return errors.New("version cannot be empty")
		}
		ac.version = version
		return nil
	}
}

// WithLogger sets a custom [slog.Logger] for the agent and its loops.
//
// This allows SDK consumers to control where logs are written and in what
// format. If not specified, [slog.Default] is used.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
//	agent, err := meshprobe.New(
//	    meshprobe.WithConfigFile("meshprobe.yaml"),
//	    meshprobe.WithLogger(logger),
//	)
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(ac *agentConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		ac.logger = logger
		return nil
	}
}

// WithClock injects a clock, letting tests drive the loops' interval
// arithmetic deterministically. Defaults to the real clock.
func WithClock(c clock.Clock) Option {
	return func(ac *agentConfig) error {
		if c == nil {
			return errors.New("clock cannot be nil")
		}
		ac.clk = c
		return nil
	}
}
