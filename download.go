package meshprobe

import (
	"context"
	"encoding/json"
	"log/slog"
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

// downloadRetryInterval shortens the next cycle when there was nothing to
// download. Tighter than the ping retry because an offer may activate a list
// at any moment.
const downloadRetryInterval = 1 * time.Second

// downloadReportItem is one download's outcome inside a download report, e.g.
//
//	{"ip_port":"3.24.138.198:5001","region":"aws\\ap-southeast-2",
//	 "queue_ms":3,"connect_us":444293,"download_us":1277630,"size":20000}
type downloadReportItem struct {
	IPPort  string `json:"ip_port"`
	Region  string `json:"region"`
	QueueMs int64  `json:"queue_ms,omitempty"`

	ConnectUs int64 `json:"connect_us,omitempty"`

	// DownloadUs is the total time including connect; set only for complete
	// downloads.
	DownloadUs int64  `json:"download_us,omitempty"`
	Size       int64  `json:"size,omitempty"`
	Error      string `json:"error,omitempty"`
}

// downloadReport is the summary submitted to the coordinator after each round.
type downloadReport struct {
	Items           []downloadReportItem `json:"items"`
	DownloadFailed  int                  `json:"download_failed"`
	DownloadSuccess int                  `json:"download_success"`
}

// downloadLoop consumes the handoff queue and runs payload download rounds,
// at most one at a time.
type downloadLoop struct {
	loop       *loop.Loop
	queue      *handoff.Queue
	settings   *config.Settings
	client     *coordinator.Client
	downloader *probe.Downloader
	reportURL  string
	logger     *slog.Logger
	clk        clock.Clock

	mu           sync.Mutex
	lastLog      string
	lastReport   *downloadReport
	lastResponse string
	taskCount    int
	speedAverage ewma.MovingAverage
}

func newDownloadLoop(settings *config.Settings, client *coordinator.Client, downloader *probe.Downloader,
	reportURL string, logger *slog.Logger, clk clock.Clock) *downloadLoop {

	d := &downloadLoop{
		settings:     settings,
		client:       client,
		downloader:   downloader,
		reportURL:    reportURL,
		logger:       logger,
		clk:          clk,
		speedAverage: ewma.NewMovingAverage(),
	}
	d.loop = loop.New("download", settings.DownloadInterval(), d.run,
		loop.WithLogger(logger), loop.WithClock(clk))
	return d
}

// Wake is handed to the handoff queue so a freshly activated list starts a
// round immediately.
func (d *downloadLoop) Wake() { d.loop.Wake() }

func (d *downloadLoop) run(ctx context.Context) (bool, error) {
	d.loop.SetIntervalOnce(d.settings.DownloadInterval())
	d.setLog("loop start")

	active := d.queue.Active()
	if len(active) == 0 {
		d.setLog("nothing to download")
		d.loop.SetIntervalOnce(downloadRetryInterval)
		return true, nil
	}

	d.mu.Lock()
	d.taskCount = len(active)
	d.mu.Unlock()

	d.setLog("running downloads")
	results := probe.Run(ctx, active,
		func(ctx context.Context, t targets.DownloadTask) probe.Result {
			// The per-size timeout the coordinator advertised bounds this
			// download, nested inside the global probe timeout.
			if t.Timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, t.Timeout)
				defer cancel()
			}
			return d.downloader.Fetch(ctx, t.URL, t.Size)
		},
		probe.Options{
			Workers:      d.settings.DownloadWorkers(),
			ProbeTimeout: d.settings.DownloadTimeout(),
			Deadline:     d.settings.DownloadInterval(),
		})

	// The round is over: promote any list that arrived while it ran. The
	// completed set stays ours for summarizing.
	d.queue.FinishRound()

	report := d.summarize(active, results)
	d.mu.Lock()
	d.lastReport = report
	d.mu.Unlock()

	payload, err := json.Marshal(report)
	if err != nil {
		return false, err
	}

	d.setLog("reporting to coordinator")
	response, err := d.client.ReportDownload(ctx, payload)
	d.mu.Lock()
	d.lastResponse = response
	d.mu.Unlock()
	if err != nil {
		d.setLog("failed to report to coordinator")
		d.logger.Warn("download report failed", "error", err)
		return false, nil
	}

	d.setLog("reported to coordinator, loop complete")
	return true, nil
}

// summarize folds one round's results into the report shape and feeds the
// download-time moving average. Tasks with no result (never started, or still
// hung at the deadline) are reported as failures.
func (d *downloadLoop) summarize(tasks map[string]targets.DownloadTask, results map[string]*probe.Result) *downloadReport {
	report := &downloadReport{Items: make([]downloadReportItem, 0, len(results))}

	for url, res := range results {
		task := tasks[url]
		item := downloadReportItem{
			IPPort: task.Addr.String(),
			Region: task.Region,
		}

		if res == nil {
			item.Error = "no download"
			report.DownloadFailed++
			report.Items = append(report.Items, item)
			continue
		}

		item.QueueMs = res.QueueWait.Milliseconds()
		if res.Connect > 0 {
			item.ConnectUs = res.Connect.Microseconds()
		}

		if !res.OK() {
			item.Error = res.Err.Error()
			report.DownloadFailed++
			report.Items = append(report.Items, item)
			continue
		}

		total := res.Connect + res.Transfer
		item.DownloadUs = total.Microseconds()
		item.Size = res.Bytes
		report.DownloadSuccess++

		d.mu.Lock()
		d.speedAverage.Add(float64(total.Microseconds()))
		d.mu.Unlock()

		report.Items = append(report.Items, item)
	}

	return report
}

func (d *downloadLoop) setLog(msg string) {
	d.mu.Lock()
	d.lastLog = msg
	d.mu.Unlock()
}

// StatusMap renders the loop's statistics. With withItems false the detailed
// per-download results are omitted.
func (d *downloadLoop) StatusMap(withItems bool) map[string]any {
	m := d.loop.Snapshot().StatusMap()

	activeSize, pendingSize := d.queue.Sizes()

	d.mu.Lock()
	defer d.mu.Unlock()

	m["last_loop_log"] = d.lastLog
	m["download_executers"] = d.settings.DownloadWorkers()
	m["downloads_to_perform"] = d.taskCount
	m["downloads_active"] = activeSize
	m["downloads_pending"] = pendingSize
	m["server_report_url"] = d.reportURL
	m["server_response"] = d.lastResponse
	m["download_ewma_us"] = int64(d.speedAverage.Value())

	if d.lastReport != nil {
		results := map[string]any{
			"download_success": d.lastReport.DownloadSuccess,
			"download_failed":  d.lastReport.DownloadFailed,
		}
		if withItems {
			results["items"] = d.lastReport.Items
		}
		m["download_results"] = results
	}

	return m
}
