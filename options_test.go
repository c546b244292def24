package meshprobe

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/benbjohnson/clock"

	"github.com/netmeasure/meshprobe/config"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig builds a minimal valid configuration for agent tests.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(`
coordinator_url: http://coordinator.example.com/announce
ping_report_url: http://coordinator.example.com/ping_report
download_report_url: http://coordinator.example.com/download_report
`))
	if err != nil {
		t.Fatalf("failed to build test config: %v", err)
	}
	return cfg
}

// TestNew_RequiresConfig verifies construction fails without a configuration.
func TestNew_RequiresConfig(t *testing.T) {
	_, err := New()
	if err == nil {
		t.Fatal("New() succeeded without a config")
	}
	if !strings.Contains(err.Error(), "configuration is required") {
		t.Errorf("error = %v, want configuration requirement", err)
	}
}

// TestNew_WithConfig verifies the minimal happy path.
func TestNew_WithConfig(t *testing.T) {
	agent, err := New(WithConfig(testConfig(t)))
	if err != nil {
		t.Fatalf("New error = %v", err)
	}
	if agent == nil {
		t.Fatal("New returned nil agent")
	}
	if agent.version != "dev" {
		t.Errorf("default version = %q, want dev", agent.version)
	}
}

// TestNew_OptionValidation verifies each option rejects its invalid input.
func TestNew_OptionValidation(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
		want string
	}{
		{"nil config", WithConfig(nil), "config cannot be nil"},
		{"nil logger", WithLogger(nil), "logger cannot be nil"},
		{"nil clock", WithClock(nil), "clock cannot be nil"},
		{"empty version", WithVersion(""), "version cannot be empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(WithConfig(testConfig(t)), tt.opt)
			if err == nil {
				t.Fatal("New accepted an invalid option")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want to contain %q", err, tt.want)
			}
		})
	}
}

// TestNew_WithConfigFile verifies file loading and the remembered path for
// reloads.
func TestNew_WithConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	content := `
coordinator_url: http://c.example.com/announce
ping_report_url: http://c.example.com/ping
download_report_url: http://c.example.com/download
machine_name: file-probe
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	agent, err := New(WithConfigFile(path), WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("New error = %v", err)
	}
	if agent.cfg.MachineName != "file-probe" {
		t.Errorf("MachineName = %q, want file-probe", agent.cfg.MachineName)
	}
	if agent.configPath != path {
		t.Errorf("configPath = %q, want %q", agent.configPath, path)
	}

	if _, err := New(WithConfigFile(filepath.Join(tmpDir, "missing.yaml"))); err == nil {
		t.Error("New accepted a missing config file")
	}
}

// TestNew_AllOptions verifies the full option set applies.
func TestNew_AllOptions(t *testing.T) {
	logger := testLogger()
	mock := clock.NewMock()

	agent, err := New(
		WithConfig(testConfig(t)),
		WithVersion("9.9.9"),
		WithLogger(logger),
		WithClock(mock),
	)
	if err != nil {
		t.Fatalf("New error = %v", err)
	}
	if agent.version != "9.9.9" {
		t.Errorf("version = %q", agent.version)
	}
	if agent.logger != logger {
		t.Error("logger not applied")
	}
	if agent.clk != mock {
		t.Error("clock not applied")
	}
}
