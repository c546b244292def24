// Package targets holds the peer-target model and the parsing of coordinator
// announce responses into it.
//
// A target is one peer agent identified by an IPv4 address and port, tagged
// with an informative region label and optionally a set of download specs
// (payload size → timeout). Targets are immutable once parsed; a List is a
// deduplicated collection of them stamped with its creation time, owned by
// whichever loop currently holds it.
package targets

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"strconv"
	"time"
)

// Target is a single peer to probe. Identity is the address+port pair; the
// region label is informative only.
type Target struct {
	// Addr is the peer's IPv4 address and port.
	Addr netip.AddrPort

	// Region is the coordinator-assigned region label, e.g. "aws\ap-southeast-2".
	Region string

	// Downloads maps payload size in bytes to the download timeout for that
	// payload. Nil when the peer advertises no download endpoint.
	Downloads map[int64]time.Duration
}

// HasDownloads reports whether the target advertises at least one download spec.
func (t Target) HasDownloads() bool {
	return len(t.Downloads) > 0
}

// List is a deduplicated set of targets keyed by address+port, created from a
// single announce response.
//
// A List is never mutated after parsing. Ownership transfers whole between
// loops; consumers that need to retain entries copy them out.
type List struct {
	createdAt time.Time
	entries   map[netip.AddrPort]Target
}

// NewList returns an empty list stamped with the given creation time.
// Used by tests and by the discovery loop when a response carries no peers.
func NewList(now time.Time) *List {
	return &List{createdAt: now, entries: make(map[netip.AddrPort]Target)}
}

// CreatedAt returns when the list was built from a coordinator response.
func (l *List) CreatedAt() time.Time { return l.createdAt }

// Len returns the number of distinct targets.
func (l *List) Len() int {
	if l == nil {
		return 0
	}
	return len(l.entries)
}

// Targets returns the entries as a slice. The slice is freshly allocated;
// order is not guaranteed.
func (l *List) Targets() []Target {
	if l == nil {
		return nil
	}
	out := make([]Target, 0, len(l.entries))
	for _, t := range l.entries {
		out = append(out, t)
	}
	return out
}

// DownloadCount returns how many targets advertise at least one download spec.
func (l *List) DownloadCount() int {
	if l == nil {
		return 0
	}
	n := 0
	for _, t := range l.entries {
		if t.HasDownloads() {
			n++
		}
	}
	return n
}

// add inserts a target, replacing any previous entry with the same address.
func (l *List) add(t Target) {
	l.entries[t.Addr] = t
}

// flexInt decodes a JSON value that may be either a number or a numeric
// string. The coordinator historically emits ports and ranks as strings.
//
// Undecodable values become zero rather than erroring, so one bad field never
// aborts decoding of the whole response; per-agent validation drops the entry
// afterwards.
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	*f = 0
	if len(data) > 1 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			*f = flexInt(n)
		}
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexInt(n)
	}
	return nil
}

// agentNode is one agent entry inside a region, e.g.
//
//	{ "ip": "3.24.138.198", "port": "5001", "rank": "99", "download": { "20000": 3000 } }
//
// Rank is accepted but currently unused.
type agentNode struct {
	IP       string             `json:"ip"`
	Port     flexInt            `json:"port"`
	Rank     flexInt            `json:"rank"`
	Download map[string]flexInt `json:"download"`
}

// regionNode is the value of one region key inside "clients_to_ping".
type regionNode struct {
	Agents []agentNode `json:"agents"`
}

// ParseClients builds a List from the raw JSON of the coordinator's
// "clients_to_ping" node: a map from region name to a region object carrying
// an "agents" array.
//
// Malformed agent entries (non-IPv4 address, out-of-range port) are dropped
// individually and never abort parsing of their siblings. Within a kept agent,
// download specs with a non-positive size or timeout are dropped one by one.
// An error is returned only when the node itself cannot be decoded.
func ParseClients(data []byte, now time.Time) (*List, error) {
	var regions map[string]regionNode
	if err := json.Unmarshal(data, &regions); err != nil {
		return nil, fmt.Errorf("decode clients node: %w", err)
	}

	list := NewList(now)
	for region, node := range regions {
		for _, agent := range node.Agents {
			t, err := parseAgent(region, agent)
			if err != nil {
				// Drop just this entry.
				continue
			}
			list.add(t)
		}
	}
	return list, nil
}

// parseAgent validates a single agent entry and converts it into a Target.
func parseAgent(region string, a agentNode) (Target, error) {
	addr, err := netip.ParseAddr(a.IP)
	if err != nil {
		return Target{}, fmt.Errorf("bad ip %q: %w", a.IP, err)
	}
	// Literal IPv4 only. Anything else would require resolving, which the
	// probing side never does.
	if !addr.Is4() {
		return Target{}, fmt.Errorf("not an IPv4 address: %q", a.IP)
	}
	if a.Port <= 0 || a.Port > 65535 {
		return Target{}, fmt.Errorf("port out of range: %d", a.Port)
	}

	t := Target{
		Addr:   netip.AddrPortFrom(addr, uint16(a.Port)),
		Region: region,
	}

	for sizeStr, timeoutMs := range a.Download {
		size, err := strconv.ParseInt(sizeStr, 10, 64)
		if err != nil || size <= 0 {
			continue
		}
		if timeoutMs <= 0 {
			continue
		}
		if t.Downloads == nil {
			t.Downloads = make(map[int64]time.Duration, len(a.Download))
		}
		t.Downloads[size] = time.Duration(timeoutMs) * time.Millisecond
	}

	return t, nil
}
