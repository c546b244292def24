package config

import (
	"testing"
	"time"
)

// TestSettings_Defaults verifies untouched settings report the built-in
// defaults and no announce interval.
func TestSettings_Defaults(t *testing.T) {
	s := NewSettings()

	if got := s.PingTimeout(); got != time.Second {
		t.Errorf("PingTimeout() = %v, want 1s", got)
	}
	if got := s.DownloadTimeout(); got != 5*time.Second {
		t.Errorf("DownloadTimeout() = %v, want 5s", got)
	}
	if got := s.PingInterval(); got != 59*time.Second {
		t.Errorf("PingInterval() = %v, want 59s", got)
	}
	if got := s.DownloadInterval(); got != 59*time.Second {
		t.Errorf("DownloadInterval() = %v, want 59s", got)
	}
	if got := s.PingWorkers(); got != 20 {
		t.Errorf("PingWorkers() = %d, want 20", got)
	}
	if got := s.DownloadWorkers(); got != 10 {
		t.Errorf("DownloadWorkers() = %d, want 10", got)
	}
	if got := s.AnnounceInterval(); got != 0 {
		t.Errorf("AnnounceInterval() = %v, want 0 until advertised", got)
	}
}

// TestSettings_ApplyJSON verifies numeric and string-numeric values are both
// applied.
func TestSettings_ApplyJSON(t *testing.T) {
	s := NewSettings()

	err := s.ApplyJSON([]byte(`{
		"ping_timeout_ms": 2000,
		"ping_interval_sec": "30",
		"download_timeout_ms": "8000",
		"download_interval_sec": 45,
		"ping_executers": 5,
		"download_executers": "3",
		"announce_interval_sec": 58
	}`))
	if err != nil {
		t.Fatalf("ApplyJSON error = %v", err)
	}

	if got := s.PingTimeout(); got != 2*time.Second {
		t.Errorf("PingTimeout() = %v, want 2s", got)
	}
	if got := s.PingInterval(); got != 30*time.Second {
		t.Errorf("PingInterval() = %v, want 30s", got)
	}
	if got := s.DownloadTimeout(); got != 8*time.Second {
		t.Errorf("DownloadTimeout() = %v, want 8s", got)
	}
	if got := s.DownloadInterval(); got != 45*time.Second {
		t.Errorf("DownloadInterval() = %v, want 45s", got)
	}
	if got := s.PingWorkers(); got != 5 {
		t.Errorf("PingWorkers() = %d, want 5", got)
	}
	if got := s.DownloadWorkers(); got != 3 {
		t.Errorf("DownloadWorkers() = %d, want 3", got)
	}
	if got := s.AnnounceInterval(); got != 58*time.Second {
		t.Errorf("AnnounceInterval() = %v, want 58s", got)
	}
}

// TestSettings_OnceSetNeverReset verifies a later announce that omits or
// zeroes a field leaves the previously set value in effect.
func TestSettings_OnceSetNeverReset(t *testing.T) {
	s := NewSettings()
	if err := s.ApplyJSON([]byte(`{"ping_interval_sec": 30, "ping_executers": 5}`)); err != nil {
		t.Fatalf("ApplyJSON error = %v", err)
	}

	// omitted, zero, negative and garbage must all be ignored
	for _, update := range []string{
		`{}`,
		`{"ping_interval_sec": 0, "ping_executers": 0}`,
		`{"ping_interval_sec": -10}`,
		`{"ping_interval_sec": "soon", "ping_executers": null}`,
	} {
		if err := s.ApplyJSON([]byte(update)); err != nil {
			t.Fatalf("ApplyJSON(%s) error = %v", update, err)
		}
		if got := s.PingInterval(); got != 30*time.Second {
			t.Errorf("after %s: PingInterval() = %v, want 30s retained", update, got)
		}
		if got := s.PingWorkers(); got != 5 {
			t.Errorf("after %s: PingWorkers() = %d, want 5 retained", update, got)
		}
	}
}

// TestSettings_ApplyJSON_Empty verifies empty input is a no-op.
func TestSettings_ApplyJSON_Empty(t *testing.T) {
	s := NewSettings()
	if err := s.ApplyJSON(nil); err != nil {
		t.Errorf("ApplyJSON(nil) error = %v", err)
	}
	if err := s.ApplyJSON([]byte{}); err != nil {
		t.Errorf("ApplyJSON(empty) error = %v", err)
	}
}

// TestSettings_ApplyJSON_BadJSON verifies only a top-level decode failure is
// an error.
func TestSettings_ApplyJSON_BadJSON(t *testing.T) {
	s := NewSettings()
	if err := s.ApplyJSON([]byte(`{broken`)); err == nil {
		t.Error("ApplyJSON accepted invalid JSON")
	}
	if err := s.ApplyJSON([]byte(`[1,2]`)); err == nil {
		t.Error("ApplyJSON accepted a non-object node")
	}
}

// TestSettings_StatusMap verifies the rendered map carries the effective
// values.
func TestSettings_StatusMap(t *testing.T) {
	s := NewSettings()
	if err := s.ApplyJSON([]byte(`{"ping_timeout_ms": 1500, "announce_interval_sec": 58}`)); err != nil {
		t.Fatalf("ApplyJSON error = %v", err)
	}

	m := s.StatusMap()
	if m["ping_timeout_ms"] != int64(1500) {
		t.Errorf("ping_timeout_ms = %v, want 1500", m["ping_timeout_ms"])
	}
	if m["ping_interval_sec"] != int64(59) {
		t.Errorf("ping_interval_sec = %v, want default 59", m["ping_interval_sec"])
	}
	if m["announce_interval_sec"] != int64(58) {
		t.Errorf("announce_interval_sec = %v, want 58", m["announce_interval_sec"])
	}
	if m["download_executers"] != 10 {
		t.Errorf("download_executers = %v, want 10", m["download_executers"])
	}
}
