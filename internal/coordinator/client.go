// Package coordinator implements the HTTP client side of the agent↔coordinator
// protocol: the periodic announce (which returns peer targets and dynamic
// configuration) and the submission of probe round summaries.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// request bounds, matching what the coordinator side expects of agents.
const (
	announceTimeout = 15 * time.Second
	reportTimeout   = 20 * time.Second

	maxResponseBodySize = 1 << 20 // 1MB
)

// connection pooling limits; the client talks to a single coordinator host.
const (
	defaultMaxIdleConns    = 4
	defaultIdleConnTimeout = 60 * time.Second
)

// Identity is everything the agent says about itself on every announce.
type Identity struct {
	// MachineName is the agent's name as known to the coordinator.
	MachineName string

	// InstanceID distinguishes restarts of the same machine. A fresh UUID
	// per process.
	InstanceID string

	// NetworkID, CloudProvider and CloudRegion are informative placement
	// labels.
	NetworkID     string
	CloudProvider string
	CloudRegion   string

	// ListenPort is where this agent serves downloads, so the coordinator
	// can hand it to peers.
	ListenPort int

	// Version is the agent software version string.
	Version string
}

// AnnounceResponse is the coordinator's reply to an announce, decoded only to
// the envelope level. The caller parses the nodes it owns.
type AnnounceResponse struct {
	// AgentConfiguration is the raw "agent_configuration" node, nil when the
	// coordinator sent none.
	AgentConfiguration json.RawMessage `json:"agent_configuration"`

	// ClientsToPing is the raw "clients_to_ping" node: regions with agent
	// lists.
	ClientsToPing json.RawMessage `json:"clients_to_ping"`
}

// ErrNoClients is returned by [Client.Announce] when the response decodes but
// carries no "clients_to_ping" node. The decoded envelope is still returned:
// a client-less response may carry configuration updates.
var ErrNoClients = errors.New("announce response has no clients node")

// Client talks to one coordinator. Safe for concurrent use by the three loops.
type Client struct {
	httpClient        *http.Client
	announceURL       string
	pingReportURL     string
	downloadReportURL string
	identity          Identity
}

// New creates a coordinator [Client]. The URLs are the bare endpoints from
// local configuration; identity parameters are appended per request.
func New(announceURL, pingReportURL, downloadReportURL string, identity Identity) *Client {
	return &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:    defaultMaxIdleConns,
				IdleConnTimeout: defaultIdleConnTimeout,
			},
		},
		announceURL:       announceURL,
		pingReportURL:     pingReportURL,
		downloadReportURL: downloadReportURL,
		identity:          identity,
	}
}

// Announce performs one announce round-trip. announceCount and runtime let the
// coordinator distinguish fresh agents from long-running ones. The final URL
// is returned for the status endpoint even when the call fails.
func (c *Client) Announce(ctx context.Context, announceCount uint64, runtime time.Duration) (*AnnounceResponse, string, error) {
	u := c.buildAnnounceURL(announceCount, runtime)

	ctx, cancel := context.WithTimeout(ctx, announceTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, u, fmt.Errorf("build announce request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, u, fmt.Errorf("announce request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, u, fmt.Errorf("announce returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, u, fmt.Errorf("read announce response: %w", err)
	}

	var parsed AnnounceResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, u, fmt.Errorf("parse announce response: %w", err)
	}
	if len(parsed.ClientsToPing) == 0 {
		return &parsed, u, ErrNoClients
	}

	return &parsed, u, nil
}

// buildAnnounceURL appends the identity and liveness parameters to the
// configured announce endpoint.
func (c *Client) buildAnnounceURL(announceCount uint64, runtime time.Duration) string {
	q := url.Values{}
	q.Set("client_name", c.identity.MachineName)
	q.Set("instance_id", c.identity.InstanceID)
	q.Set("listen_port", strconv.Itoa(c.identity.ListenPort))
	q.Set("version", c.identity.Version)
	q.Set("network_id", c.identity.NetworkID)
	q.Set("cloud_provider", c.identity.CloudProvider)
	q.Set("cloud_region", c.identity.CloudRegion)
	q.Set("announce_count", strconv.FormatUint(announceCount, 10))
	q.Set("runtime_sec", strconv.FormatInt(int64(runtime/time.Second), 10))

	sep := "?"
	if strings.Contains(c.announceURL, "?") {
		sep = "&"
	}
	return c.announceURL + sep + q.Encode()
}

// ReportPing submits a ping round summary. The summary JSON travels as the
// single urlencoded form field "result". Returns the coordinator's response
// body for the status endpoint.
func (c *Client) ReportPing(ctx context.Context, summary []byte) (string, error) {
	return c.report(ctx, c.pingReportURL, summary)
}

// ReportDownload submits a download round summary, same wire shape as
// [Client.ReportPing].
func (c *Client) ReportDownload(ctx context.Context, summary []byte) (string, error) {
	return c.report(ctx, c.downloadReportURL, summary)
}

func (c *Client) report(ctx context.Context, endpoint string, summary []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, reportTimeout)
	defer cancel()

	form := url.Values{"result": {string(summary)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build report request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("report request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return "", fmt.Errorf("read report response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return string(body), fmt.Errorf("report returned %s", resp.Status)
	}
	return string(body), nil
}

// Close releases idle connections held by the client's transport.
func (c *Client) Close() {
	if c == nil || c.httpClient == nil {
		return
	}
	if transport, ok := c.httpClient.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}
