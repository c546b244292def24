package meshprobe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strconv"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/netmeasure/meshprobe/config"
	"github.com/netmeasure/meshprobe/internal/coordinator"
	"github.com/netmeasure/meshprobe/internal/handoff"
	"github.com/netmeasure/meshprobe/internal/probe"
	"github.com/netmeasure/meshprobe/internal/targets"
)

// newTestDownloadLoop wires a download loop (with its queue) against a
// capture report server.
func newTestDownloadLoop(t *testing.T, capture *reportCapture) (*downloadLoop, *handoff.Queue) {
	t.Helper()
	server := httptest.NewServer(capture.handler())
	t.Cleanup(server.Close)

	client := coordinator.New(server.URL, server.URL, server.URL, coordinator.Identity{})
	t.Cleanup(client.Close)
	downloader := probe.NewDownloader()
	t.Cleanup(downloader.Close)

	d := newDownloadLoop(config.NewSettings(), client, downloader, server.URL, testLogger(), clock.NewMock())
	queue := handoff.NewQueue(d.Wake)
	d.queue = queue
	return d, queue
}

// downloadTaskFor builds a task pointing at a payload server URL.
func downloadTaskFor(t *testing.T, url string, size int64) map[string]targets.DownloadTask {
	t.Helper()
	return map[string]targets.DownloadTask{
		url: {
			URL:     url,
			Addr:    netip.MustParseAddrPort("127.0.0.1:5001"),
			Region:  "test",
			Size:    size,
			Timeout: 5 * time.Second,
		},
	}
}

// TestDownloadLoop_Run verifies a full round: download, report, and promotion
// of the next list.
func TestDownloadLoop_Run(t *testing.T) {
	const size = 2048
	payload := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, _ := strconv.Atoi(r.URL.Query().Get("size"))
		_, _ = w.Write(make([]byte, n))
	}))
	defer payload.Close()

	capture := &reportCapture{}
	d, queue := newTestDownloadLoop(t, capture)

	url := payload.URL + "/download?size=" + strconv.Itoa(size)
	queue.Offer(downloadTaskFor(t, url, size))
	// a refresh arriving mid-round waits as pending
	next := payload.URL + "/download?size=100"
	queue.Offer(downloadTaskFor(t, next, 100))

	ok, err := d.run(context.Background())
	if err != nil {
		t.Fatalf("run error = %v", err)
	}
	if !ok {
		t.Fatal("run returned ok = false")
	}

	var report struct {
		Items []struct {
			IPPort     string `json:"ip_port"`
			Region     string `json:"region"`
			ConnectUs  int64  `json:"connect_us"`
			DownloadUs int64  `json:"download_us"`
			Size       int64  `json:"size"`
			Error      string `json:"error"`
		} `json:"items"`
		DownloadFailed  int `json:"download_failed"`
		DownloadSuccess int `json:"download_success"`
	}
	capture.last(t, &report)

	if report.DownloadSuccess != 1 || report.DownloadFailed != 0 {
		t.Errorf("success/failed = %d/%d, want 1/0", report.DownloadSuccess, report.DownloadFailed)
	}
	if len(report.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(report.Items))
	}
	item := report.Items[0]
	if item.Size != size {
		t.Errorf("size = %d, want %d", item.Size, size)
	}
	if item.DownloadUs <= 0 {
		t.Errorf("download_us = %d, want > 0", item.DownloadUs)
	}
	// the total includes the connect phase
	if item.DownloadUs < item.ConnectUs {
		t.Errorf("download_us %d < connect_us %d", item.DownloadUs, item.ConnectUs)
	}
	if item.IPPort != "127.0.0.1:5001" || item.Region != "test" {
		t.Errorf("identity = %s/%s", item.IPPort, item.Region)
	}

	// the pending refresh was promoted when the round finished
	active := queue.Active()
	if len(active) != 1 {
		t.Fatalf("active after round = %d tasks, want the promoted refresh", len(active))
	}
	if _, ok := active[next]; !ok {
		t.Errorf("active after round = %v, want %q", active, next)
	}
}

// TestDownloadLoop_FailedDownload verifies a size mismatch is reported as a
// failure with the error carried in the item.
func TestDownloadLoop_FailedDownload(t *testing.T) {
	payload := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 10))
	}))
	defer payload.Close()

	capture := &reportCapture{}
	d, queue := newTestDownloadLoop(t, capture)
	queue.Offer(downloadTaskFor(t, payload.URL+"/download?size=999", 999))

	ok, err := d.run(context.Background())
	if err != nil {
		t.Fatalf("run error = %v", err)
	}
	if !ok {
		t.Fatal("run returned ok = false; a failed download still reports")
	}

	var report struct {
		Items []struct {
			Error      string `json:"error"`
			DownloadUs int64  `json:"download_us"`
		} `json:"items"`
		DownloadFailed  int `json:"download_failed"`
		DownloadSuccess int `json:"download_success"`
	}
	capture.last(t, &report)

	if report.DownloadFailed != 1 || report.DownloadSuccess != 0 {
		t.Errorf("success/failed = %d/%d, want 0/1", report.DownloadSuccess, report.DownloadFailed)
	}
	if len(report.Items) != 1 || report.Items[0].Error == "" {
		t.Errorf("items = %+v, want one item with an error", report.Items)
	}
	if report.Items[0].DownloadUs != 0 {
		t.Errorf("failed item carries download_us = %d", report.Items[0].DownloadUs)
	}
}

// TestDownloadLoop_TaskTimeout verifies the per-size timeout the coordinator
// advertised cuts a hung download short, well before the global timeout.
func TestDownloadLoop_TaskTimeout(t *testing.T) {
	payload := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer payload.Close()

	capture := &reportCapture{}
	d, queue := newTestDownloadLoop(t, capture)

	tasks := downloadTaskFor(t, payload.URL+"/download?size=64", 64)
	for url, task := range tasks {
		task.Timeout = 100 * time.Millisecond
		tasks[url] = task
	}
	queue.Offer(tasks)

	start := time.Now()
	ok, err := d.run(context.Background())
	if err != nil {
		t.Fatalf("run error = %v", err)
	}
	if !ok {
		t.Fatal("run returned ok = false; a timed-out download still reports")
	}
	// the default global timeout is 5s; the task timeout governed
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("round took %v, want the 100ms task timeout to govern", elapsed)
	}

	var report struct {
		Items []struct {
			Error string `json:"error"`
		} `json:"items"`
		DownloadFailed  int `json:"download_failed"`
		DownloadSuccess int `json:"download_success"`
	}
	capture.last(t, &report)

	if report.DownloadFailed != 1 || report.DownloadSuccess != 0 {
		t.Errorf("success/failed = %d/%d, want 0/1", report.DownloadSuccess, report.DownloadFailed)
	}
	if len(report.Items) != 1 || report.Items[0].Error == "" {
		t.Errorf("items = %+v, want one item with a timeout error", report.Items)
	}
}

// TestDownloadLoop_NothingToDownload verifies an idle queue skips the round
// without reporting.
func TestDownloadLoop_NothingToDownload(t *testing.T) {
	capture := &reportCapture{}
	d, _ := newTestDownloadLoop(t, capture)

	ok, err := d.run(context.Background())
	if err != nil || !ok {
		t.Fatalf("run = %v, %v, want true, nil", ok, err)
	}
	if capture.count() != 0 {
		t.Errorf("reported %d times with nothing to download", capture.count())
	}

	m := d.StatusMap(false)
	if m["last_loop_log"] != "nothing to download" {
		t.Errorf("last_loop_log = %v", m["last_loop_log"])
	}
}
