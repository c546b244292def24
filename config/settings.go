package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Defaults used until the coordinator advertises a value. Once a field has
// been set from an announce it is never reset back to these.
const (
	defaultPingTimeout      = 1 * time.Second
	defaultDownloadTimeout  = 5 * time.Second
	defaultPingInterval     = 59 * time.Second
	defaultDownloadInterval = 59 * time.Second
	defaultPingWorkers      = 20
	defaultDownloadWorkers  = 10
)

// Settings is the dynamic agent configuration updated from the coordinator's
// "agent_configuration" node on every announce.
//
// Unknown or non-positive fields leave prior values unchanged; a value the
// coordinator once set survives later announces that omit it. Safe for
// concurrent use: the announce loop writes, the probing loops read.
type Settings struct {
	mu sync.Mutex

	pingTimeout      time.Duration
	downloadTimeout  time.Duration
	pingInterval     time.Duration
	downloadInterval time.Duration
	pingWorkers      int
	downloadWorkers  int
	announceInterval time.Duration
}

// NewSettings returns Settings carrying only defaults.
func NewSettings() *Settings { return &Settings{} }

// ApplyJSON folds the raw "agent_configuration" JSON into the settings.
// Values may arrive as numbers or numeric strings. Fields that are absent,
// malformed or non-positive are skipped individually; the error reports only
// a top-level decode failure.
func (s *Settings) ApplyJSON(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode agent_configuration: %w", err)
	}

	// Values may arrive as numbers or numeric strings; anything else reads
	// as zero and is skipped.
	get := func(key string) int64 {
		switch v := raw[key].(type) {
		case float64:
			return int64(v)
		case string:
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0
			}
			return n
		default:
			return 0
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if v := get("ping_timeout_ms"); v > 0 {
		s.pingTimeout = time.Duration(v) * time.Millisecond
	}
	if v := get("ping_interval_sec"); v > 0 {
		s.pingInterval = time.Duration(v) * time.Second
	}
	if v := get("download_timeout_ms"); v > 0 {
		s.downloadTimeout = time.Duration(v) * time.Millisecond
	}
	if v := get("download_interval_sec"); v > 0 {
		s.downloadInterval = time.Duration(v) * time.Second
	}
	if v := get("ping_executers"); v > 0 {
		s.pingWorkers = int(v)
	}
	if v := get("download_executers"); v > 0 {
		s.downloadWorkers = int(v)
	}
	if v := get("announce_interval_sec"); v > 0 {
		s.announceInterval = time.Duration(v) * time.Second
	}
	return nil
}

// PingTimeout is how long a single TCP-connect probe may take.
func (s *Settings) PingTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pingTimeout > 0 {
		return s.pingTimeout
	}
	return defaultPingTimeout
}

// DownloadTimeout is how long a single payload download may take.
func (s *Settings) DownloadTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.downloadTimeout > 0 {
		return s.downloadTimeout
	}
	return defaultDownloadTimeout
}

// PingInterval is the ping loop's cadence, doubling as the ping round deadline.
func (s *Settings) PingInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pingInterval > 0 {
		return s.pingInterval
	}
	return defaultPingInterval
}

// DownloadInterval is the download loop's cadence, doubling as the download
// round deadline.
func (s *Settings) DownloadInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.downloadInterval > 0 {
		return s.downloadInterval
	}
	return defaultDownloadInterval
}

// PingWorkers bounds ping round concurrency.
func (s *Settings) PingWorkers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pingWorkers > 0 {
		return s.pingWorkers
	}
	return defaultPingWorkers
}

// DownloadWorkers bounds download round concurrency.
func (s *Settings) DownloadWorkers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.downloadWorkers > 0 {
		return s.downloadWorkers
	}
	return defaultDownloadWorkers
}

// AnnounceInterval is the coordinator-advertised discovery cadence, zero when
// the coordinator has not set one yet.
func (s *Settings) AnnounceInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.announceInterval
}

// StatusMap renders the effective settings for the /config endpoint.
func (s *Settings) StatusMap() map[string]any {
	return map[string]any{
		"ping_timeout_ms":       s.PingTimeout().Milliseconds(),
		"ping_interval_sec":     int64(s.PingInterval() / time.Second),
		"download_timeout_ms":   s.DownloadTimeout().Milliseconds(),
		"download_interval_sec": int64(s.DownloadInterval() / time.Second),
		"ping_executers":        s.PingWorkers(),
		"download_executers":    s.DownloadWorkers(),
		"announce_interval_sec": int64(s.AnnounceInterval() / time.Second),
	}
}
