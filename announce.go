package meshprobe

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/netmeasure/meshprobe/config"
	"github.com/netmeasure/meshprobe/internal/coordinator"
	"github.com/netmeasure/meshprobe/internal/handoff"
	"github.com/netmeasure/meshprobe/internal/loop"
	"github.com/netmeasure/meshprobe/internal/targets"
)

// downloadCommand is appended to a peer's address to form a download URL.
const downloadCommand = "/download?size="

// announceLoop is the discovery loop: it fetches the coordinator response,
// applies dynamic configuration, and hands the parsed target list to the ping
// board and the download queue.
type announceLoop struct {
	loop     *loop.Loop
	client   *coordinator.Client
	settings *config.Settings
	board    *handoff.Board
	queue    *handoff.Queue
	logger   *slog.Logger
	clk      clock.Clock

	startTime time.Time

	mu             sync.Mutex
	lastURL        string
	lastError      string
	regionCount    int
	targetCount    int
	downloadCount  int
	lastSetActive  bool
	lastReceivedAt time.Time
}

func newAnnounceLoop(client *coordinator.Client, settings *config.Settings, board *handoff.Board,
	queue *handoff.Queue, interval time.Duration, logger *slog.Logger, clk clock.Clock) *announceLoop {

	a := &announceLoop{
		client:    client,
		settings:  settings,
		board:     board,
		queue:     queue,
		logger:    logger,
		clk:       clk,
		startTime: clk.Now(),
	}
	a.loop = loop.New("announce", interval, a.run,
		loop.WithLogger(logger), loop.WithClock(clk))
	return a
}

// run is one announce iteration. Fetch, parse and missing-field failures are
// recorded and counted; the loop retries on its next cycle regardless.
func (a *announceLoop) run(ctx context.Context) (bool, error) {
	resp, finalURL, err := a.client.Announce(ctx, a.loop.Count(), a.clk.Now().Sub(a.startTime))

	a.mu.Lock()
	a.lastURL = finalURL
	a.mu.Unlock()

	// Configuration first, so interval/timeout changes apply even when the
	// response carries no usable target list: the coordinator may retune the
	// agent without handing out peers.
	if resp != nil {
		if cfgErr := a.settings.ApplyJSON(resp.AgentConfiguration); cfgErr != nil {
			a.logger.Warn("announce carried bad agent_configuration", "error", cfgErr)
		}
		// The coordinator may advertise a new discovery cadence: apply it
		// for this cycle's wake and permanently from then on.
		if iv := a.settings.AnnounceInterval(); iv > 0 {
			a.loop.SetInterval(iv)
			a.loop.SetIntervalOnce(iv)
		}
	}

	if err != nil {
		a.setError(err.Error())
		a.logger.Warn("announce failed", "url", finalURL, "error", err)
		return false, nil
	}

	list, err := targets.ParseClients(resp.ClientsToPing, a.clk.Now())
	if err != nil {
		a.setError(err.Error())
		return false, nil
	}

	a.board.Publish(list)
	setActive := a.queue.Offer(list.DownloadTasks(downloadCommand))

	regions := make(map[string]struct{})
	for _, t := range list.Targets() {
		regions[t.Region] = struct{}{}
	}

	a.mu.Lock()
	a.lastError = ""
	a.regionCount = len(regions)
	a.targetCount = list.Len()
	a.downloadCount = list.DownloadCount()
	a.lastSetActive = setActive
	a.lastReceivedAt = a.clk.Now()
	a.mu.Unlock()

	a.logger.Info("announce complete",
		"targets", list.Len(),
		"regions", len(regions),
		"downloads", list.DownloadCount(),
		"download_list_active", setActive,
	)

	return true, nil
}

func (a *announceLoop) setError(msg string) {
	a.mu.Lock()
	a.lastError = msg
	a.mu.Unlock()
}

// StatusMap renders the loop's statistics for the introspection endpoint.
func (a *announceLoop) StatusMap(withItems bool) map[string]any {
	m := a.loop.Snapshot().StatusMap()

	a.mu.Lock()
	defer a.mu.Unlock()

	serverResponse := map[string]any{
		"url":                              a.lastURL,
		"parse_error":                      a.lastError,
		"regions_count":                    a.regionCount,
		"addresses_count_in_last_response": a.targetCount,
		"downloads_count_in_last_response": a.downloadCount,
		"last_addr_list_set_as_active":     a.lastSetActive,
	}
	if !a.lastReceivedAt.IsZero() {
		serverResponse["received_time"] = a.lastReceivedAt.Format(time.RFC3339)
	}
	m["server_response"] = serverResponse
	return m
}
