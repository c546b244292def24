package targets

import (
	"fmt"
	"net/netip"
	"time"
)

// DownloadTask is one payload download to perform against a peer: a concrete
// URL plus the identity and size needed for reporting. Ephemeral; built per
// announce and consumed by one download round.
type DownloadTask struct {
	// URL is the full download URL, e.g. "http://3.24.138.198:5001/download?size=20000".
	URL string

	// Addr is the peer the URL points at.
	Addr netip.AddrPort

	// Region is the peer's region label, carried through to the report.
	Region string

	// Size is the expected payload size in bytes.
	Size int64

	// Timeout is the per-download timeout the coordinator advertised for
	// this size. It bounds the individual probe in addition to the global
	// download timeout.
	Timeout time.Duration
}

// DownloadTasks expands the list into one task per (target, size) pair, keyed
// by URL. command is appended to the peer's address to form the URL, e.g.
// "/download?size=". Targets without download specs contribute nothing.
func (l *List) DownloadTasks(command string) map[string]DownloadTask {
	tasks := make(map[string]DownloadTask)
	if l == nil {
		return tasks
	}
	for _, t := range l.entries {
		for size, timeout := range t.Downloads {
			url := fmt.Sprintf("http://%s%s%d", t.Addr, command, size)
			tasks[url] = DownloadTask{
				URL:     url,
				Addr:    t.Addr,
				Region:  t.Region,
				Size:    size,
				Timeout: timeout,
			}
		}
	}
	return tasks
}
