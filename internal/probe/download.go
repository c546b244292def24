package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"time"
)

// connection limits for the download client. Keep-alives are disabled on
// purpose: every probe must pay the TCP handshake so the measured connect
// time is real, not a pooled-connection artifact.
const (
	downloadMaxConnsPerHost = 4
	downloadIdleConnTimeout = 30 * time.Second
)

// Downloader issues bounded-size HTTP payload downloads against peer agents.
//
// A single Downloader is shared by all download probes of a round; it is safe
// for concurrent use.
type Downloader struct {
	client *http.Client
}

// NewDownloader creates a download [Downloader]. Timeouts are applied
// per-request via the context passed to [Downloader.Fetch], not as a global
// client timeout.
func NewDownloader() *Downloader {
	return &Downloader{
		client: &http.Client{
			Transport: &http.Transport{
				DisableKeepAlives: true,
				MaxConnsPerHost:   downloadMaxConnsPerHost,
				IdleConnTimeout:   downloadIdleConnTimeout,
			},
		},
	}
}

// Fetch downloads url, discarding the payload, and fails unless exactly
// wantSize bytes arrive. The connect phase is measured via httptrace; the
// transfer duration excludes it and is recorded only for complete downloads.
func (d *Downloader) Fetch(ctx context.Context, url string, wantSize int64) Result {
	var res Result

	var connectStart time.Time
	trace := &httptrace.ClientTrace{
		ConnectStart: func(network, addr string) {
			connectStart = time.Now()
		},
		ConnectDone: func(network, addr string, err error) {
			if !connectStart.IsZero() {
				res.Connect = time.Since(connectStart)
			}
		},
	}

	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, trace), http.MethodGet, url, nil)
	if err != nil {
		res.Err = fmt.Errorf("build request: %w", err)
		return res
	}

	resp, err := d.client.Do(req)
	if err != nil {
		res.Err = fmt.Errorf("connect: %w", err)
		return res
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		res.Err = fmt.Errorf("unexpected status: %s", resp.Status)
		return res
	}

	transferStart := time.Now()
	n, err := io.Copy(io.Discard, resp.Body)
	res.Bytes = n
	if err != nil {
		res.Err = fmt.Errorf("read payload: %w", err)
		return res
	}
	if n != wantSize {
		res.Err = fmt.Errorf("partial download: got %d of %d bytes", n, wantSize)
		return res
	}

	res.Transfer = time.Since(transferStart)
	return res
}

// Close releases idle connections held by the underlying transport. The
// Downloader remains usable afterwards.
func (d *Downloader) Close() {
	if d == nil || d.client == nil {
		return
	}
	if transport, ok := d.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}
