package meshprobe

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/VividCortex/ewma"
	"github.com/benbjohnson/clock"

	"github.com/netmeasure/meshprobe/config"
	"github.com/netmeasure/meshprobe/internal/coordinator"
	"github.com/netmeasure/meshprobe/internal/handoff"
	"github.com/netmeasure/meshprobe/internal/loop"
	"github.com/netmeasure/meshprobe/internal/probe"
	"github.com/netmeasure/meshprobe/internal/targets"
)

// pingRetryInterval shortens the next cycle when there was nothing to ping.
// A constant on purpose; see the handoff TTL for the same reasoning.
const pingRetryInterval = 5 * time.Second

// pingReportItem is one target's outcome inside a ping report.
type pingReportItem struct {
	IP      string `json:"ip"`
	Port    uint16 `json:"port"`
	QueueMs int64  `json:"queue_ms,omitempty"`

	// RttUs is set for successful pings; Error and TimeoutUs for failed
	// ones. An item with neither was cancelled before it started.
	RttUs     int64  `json:"rtt_us,omitempty"`
	Error     string `json:"error,omitempty"`
	TimeoutUs int64  `json:"timeout_us,omitempty"`
}

// pingReport is the summary submitted to the coordinator after each round.
type pingReport struct {
	Items       []pingReportItem `json:"items"`
	PingFailed  int              `json:"ping_failed"`
	PingSuccess int              `json:"ping_success"`
}

// pingLoop consumes the handoff board and runs TCP-connect rounds.
type pingLoop struct {
	loop      *loop.Loop
	board     *handoff.Board
	settings  *config.Settings
	client    *coordinator.Client
	reportURL string
	logger    *slog.Logger
	clk       clock.Clock

	mu           sync.Mutex
	lastLog      string
	lastReport   *pingReport
	lastResponse string
	targetCount  int
	lastUsedAt   time.Time
	rttAverage   ewma.MovingAverage
}

func newPingLoop(board *handoff.Board, settings *config.Settings, client *coordinator.Client,
	reportURL string, logger *slog.Logger, clk clock.Clock) *pingLoop {

	p := &pingLoop{
		board:      board,
		settings:   settings,
		client:     client,
		reportURL:  reportURL,
		logger:     logger,
		clk:        clk,
		rttAverage: ewma.NewMovingAverage(),
	}
	p.loop = loop.New("ping", settings.PingInterval(), p.run,
		loop.WithLogger(logger), loop.WithClock(clk))
	return p
}

func (p *pingLoop) run(ctx context.Context) (bool, error) {
	// Rebase this cycle on the current dynamic interval.
	p.loop.SetIntervalOnce(p.settings.PingInterval())
	p.setLog("loop start")

	ts, age, staleness := p.board.Snapshot()
	switch staleness {
	case handoff.NeverPublished:
		p.setLog("nothing to ping: no target list received yet")
		p.logger.Debug("ping skipped", "reason", "never published")
		p.loop.SetIntervalOnce(pingRetryInterval)
		return true, nil
	case handoff.Expired:
		p.setLog("nothing to ping: target list too old")
		p.logger.Warn("ping skipped", "reason", "list expired", "age", age.String())
		p.loop.SetIntervalOnce(pingRetryInterval)
		return true, nil
	}
	if len(ts) == 0 {
		p.setLog("nothing to ping: empty target list")
		p.loop.SetIntervalOnce(pingRetryInterval)
		return true, nil
	}

	p.mu.Lock()
	p.targetCount = len(ts)
	p.lastUsedAt = p.clk.Now()
	p.mu.Unlock()

	tasks := make(map[netip.AddrPort]targets.Target, len(ts))
	for _, t := range ts {
		tasks[t.Addr] = t
	}

	p.setLog("running pings")
	results := probe.Run(ctx, tasks,
		func(ctx context.Context, t targets.Target) probe.Result {
			return probe.PingTCP(ctx, t.Addr)
		},
		probe.Options{
			Workers:      p.settings.PingWorkers(),
			ProbeTimeout: p.settings.PingTimeout(),
			Deadline:     p.settings.PingInterval(),
		})

	report := p.summarize(results)
	p.mu.Lock()
	p.lastReport = report
	p.mu.Unlock()

	payload, err := json.Marshal(report)
	if err != nil {
		return false, err
	}

	p.setLog("reporting to coordinator")
	response, err := p.client.ReportPing(ctx, payload)
	p.mu.Lock()
	p.lastResponse = response
	p.mu.Unlock()
	if err != nil {
		p.setLog("failed to report to coordinator")
		p.logger.Warn("ping report failed", "error", err)
		return false, nil
	}

	p.setLog("reported to coordinator, loop complete")
	return true, nil
}

// summarize folds one round's results into the report shape and feeds the
// RTT moving average. A nil result means the probe was cancelled before it
// started; its item carries only the identity, counted in neither bucket.
func (p *pingLoop) summarize(results map[netip.AddrPort]*probe.Result) *pingReport {
	report := &pingReport{Items: make([]pingReportItem, 0, len(results))}

	for addr, res := range results {
		item := pingReportItem{
			IP:   addr.Addr().String(),
			Port: addr.Port(),
		}
		if res == nil {
			report.Items = append(report.Items, item)
			continue
		}

		item.QueueMs = res.QueueWait.Milliseconds()
		if res.OK() {
			item.RttUs = res.Connect.Microseconds()
			report.PingSuccess++

			p.mu.Lock()
			p.rttAverage.Add(float64(res.Connect.Microseconds()))
			p.mu.Unlock()
		} else {
			item.Error = res.Err.Error()
			item.TimeoutUs = res.Connect.Microseconds()
			report.PingFailed++
		}
		report.Items = append(report.Items, item)
	}

	return report
}

func (p *pingLoop) setLog(msg string) {
	p.mu.Lock()
	p.lastLog = msg
	p.mu.Unlock()
}

// StatusMap renders the loop's statistics. With withItems false the detailed
// per-target results are omitted, for the combined front page.
func (p *pingLoop) StatusMap(withItems bool) map[string]any {
	m := p.loop.Snapshot().StatusMap()

	p.mu.Lock()
	defer p.mu.Unlock()

	m["last_loop_log"] = p.lastLog
	m["ping_executers"] = p.settings.PingWorkers()
	m["addresses_to_ping"] = p.targetCount
	m["server_report_url"] = p.reportURL
	m["server_response"] = p.lastResponse
	m["rtt_ewma_us"] = int64(p.rttAverage.Value())

	if published := p.board.PublishedAt(); !published.IsZero() {
		m["addresses_modified_by_announce"] = published.Format(time.RFC3339)
	} else {
		m["addresses_modified_by_announce"] = "(never)"
	}
	if !p.lastUsedAt.IsZero() {
		m["addresses_modified_and_used"] = p.lastUsedAt.Format(time.RFC3339)
	}

	if p.lastReport != nil {
		results := map[string]any{
			"ping_success": p.lastReport.PingSuccess,
			"ping_failed":  p.lastReport.PingFailed,
		}
		if withItems {
			results["items"] = p.lastReport.Items
		}
		m["ping_results"] = results
	}

	return m
}
