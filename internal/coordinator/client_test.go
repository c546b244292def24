package coordinator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

var testIdentity = Identity{
	MachineName:   "probe-test-1",
	InstanceID:    "11111111-2222-3333-4444-555555555555",
	NetworkID:     "42",
	CloudProvider: "aws",
	CloudRegion:   "eu-west-1",
	ListenPort:    5001,
	Version:       "1.2.3",
}

const announceBody = `{
	"agent_configuration": {"ping_interval_sec": 30},
	"clients_to_ping": {"eu": {"agents": [{"ip": "10.0.0.1", "port": 5001}]}}
}`

// TestClient_Announce verifies the query parameters sent and the envelope
// decoding of the response.
func TestClient_Announce(t *testing.T) {
	var gotQuery url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		_, _ = w.Write([]byte(announceBody))
	}))
	defer server.Close()

	c := New(server.URL+"/announce", server.URL+"/ping", server.URL+"/download", testIdentity)
	defer c.Close()

	resp, finalURL, err := c.Announce(context.Background(), 7, 95*time.Second)
	if err != nil {
		t.Fatalf("Announce error = %v", err)
	}

	wantParams := map[string]string{
		"client_name":    "probe-test-1",
		"instance_id":    "11111111-2222-3333-4444-555555555555",
		"listen_port":    "5001",
		"version":        "1.2.3",
		"network_id":     "42",
		"cloud_provider": "aws",
		"cloud_region":   "eu-west-1",
		"announce_count": "7",
		"runtime_sec":    "95",
	}
	for key, want := range wantParams {
		if got := gotQuery.Get(key); got != want {
			t.Errorf("query %s = %q, want %q", key, got, want)
		}
	}

	if !strings.Contains(finalURL, "client_name=probe-test-1") {
		t.Errorf("final URL %q missing identity parameters", finalURL)
	}
	if len(resp.AgentConfiguration) == 0 {
		t.Error("AgentConfiguration is empty")
	}
	if !strings.Contains(string(resp.ClientsToPing), "10.0.0.1") {
		t.Errorf("ClientsToPing = %s", resp.ClientsToPing)
	}
}

// TestClient_Announce_ExistingQuery verifies parameters append with & when
// the configured URL already carries a query string.
func TestClient_Announce_ExistingQuery(t *testing.T) {
	var gotQuery url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		_, _ = w.Write([]byte(announceBody))
	}))
	defer server.Close()

	c := New(server.URL+"/announce?tenant=blue", server.URL, server.URL, testIdentity)
	defer c.Close()

	if _, _, err := c.Announce(context.Background(), 1, 0); err != nil {
		t.Fatalf("Announce error = %v", err)
	}
	if got := gotQuery.Get("tenant"); got != "blue" {
		t.Errorf("tenant = %q, want blue", got)
	}
	if got := gotQuery.Get("client_name"); got != "probe-test-1" {
		t.Errorf("client_name = %q", got)
	}
}

// TestClient_Announce_NoClients verifies a response without clients_to_ping
// maps to ErrNoClients while still returning the decoded envelope, so a
// configuration-only response is not lost.
func TestClient_Announce_NoClients(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"agent_configuration": {"ping_interval_sec": 7}}`))
	}))
	defer server.Close()

	c := New(server.URL, server.URL, server.URL, testIdentity)
	defer c.Close()

	resp, _, err := c.Announce(context.Background(), 1, 0)
	if !errors.Is(err, ErrNoClients) {
		t.Errorf("Announce error = %v, want ErrNoClients", err)
	}
	if resp == nil {
		t.Fatal("response envelope dropped alongside ErrNoClients")
	}
	if len(resp.AgentConfiguration) == 0 {
		t.Error("agent_configuration node missing from the envelope")
	}
}

// TestClient_Announce_HTTPErrors verifies non-200 statuses and undecodable
// bodies fail with the URL still reported.
func TestClient_Announce_HTTPErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{
			name: "server error status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			want: "announce returned",
		},
		{
			name: "invalid json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{broken`))
			},
			want: "parse announce response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			c := New(server.URL, server.URL, server.URL, testIdentity)
			defer c.Close()

			_, finalURL, err := c.Announce(context.Background(), 1, 0)
			if err == nil {
				t.Fatal("Announce succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want to contain %q", err, tt.want)
			}
			if finalURL == "" {
				t.Error("final URL empty on failure, want it for the status endpoint")
			}
		})
	}
}

// TestClient_Announce_Unreachable verifies a connection failure surfaces as
// an announce request error.
func TestClient_Announce_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	unreachable := server.URL
	server.Close()

	c := New(unreachable, unreachable, unreachable, testIdentity)
	defer c.Close()

	if _, _, err := c.Announce(context.Background(), 1, 0); err == nil {
		t.Error("Announce succeeded against a closed server")
	}
}

// TestClient_Report verifies summaries travel as the urlencoded form field
// "result" and the response body comes back.
func TestClient_Report(t *testing.T) {
	var gotContentType, gotResult, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm error = %v", err)
		}
		gotResult = r.PostFormValue("result")
		_, _ = w.Write([]byte("ACCEPTED"))
	}))
	defer server.Close()

	c := New(server.URL+"/a", server.URL+"/ping_report", server.URL+"/download_report", testIdentity)
	defer c.Close()

	summary := []byte(`{"items":[],"ping_failed":0,"ping_success":3}`)
	body, err := c.ReportPing(context.Background(), summary)
	if err != nil {
		t.Fatalf("ReportPing error = %v", err)
	}
	if body != "ACCEPTED" {
		t.Errorf("response body = %q, want ACCEPTED", body)
	}
	if gotPath != "/ping_report" {
		t.Errorf("path = %q, want /ping_report", gotPath)
	}
	if gotContentType != "application/x-www-form-urlencoded" {
		t.Errorf("Content-Type = %q", gotContentType)
	}
	if gotResult != string(summary) {
		t.Errorf("result field = %q, want the summary JSON", gotResult)
	}

	if _, err := c.ReportDownload(context.Background(), summary); err != nil {
		t.Fatalf("ReportDownload error = %v", err)
	}
	if gotPath != "/download_report" {
		t.Errorf("path = %q, want /download_report", gotPath)
	}
}

// TestClient_Report_ErrorStatus verifies a rejected report returns both the
// body and an error.
func TestClient_Report_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("malformed report"))
	}))
	defer server.Close()

	c := New(server.URL, server.URL, server.URL, testIdentity)
	defer c.Close()

	body, err := c.ReportPing(context.Background(), []byte(`{}`))
	if err == nil {
		t.Fatal("ReportPing succeeded on a 400 response")
	}
	if body != "malformed report" {
		t.Errorf("body = %q, want the server's message", body)
	}
}
