package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// announceBody is the response handed to every announcing agent. It points
// the agent back at itself on 127.0.0.1:5001, so the demo mesh is a mesh of
// one: the agent pings and downloads from its own payload endpoint.
//
// The agent_configuration block speeds the loops up so the demo shows
// activity quickly.
const announceBody = `{
  "agent_configuration": {
    "ping_interval_sec": 10,
    "download_interval_sec": 15,
    "announce_interval_sec": 30,
    "ping_timeout_ms": 1000,
    "download_timeout_ms": 5000
  },
  "clients_to_ping": {
    "local": {
      "agents": [
        {"ip": "127.0.0.1", "port": 5001, "rank": 1, "download": {"20000": 5000}}
      ]
    }
  }
}`

// StartMockCoordinator runs a mock coordinator: it answers announces with a
// fixed single-agent target list and logs every ping and download report it
// receives. Call this in a goroutine before starting the agent.
func StartMockCoordinator(addr string) {
	mux := http.NewServeMux()

	mux.HandleFunc("/announce", func(w http.ResponseWriter, r *http.Request) {
		slog.Info("announce received",
			"client_name", r.URL.Query().Get("client_name"),
			"announce_count", r.URL.Query().Get("announce_count"),
			"runtime_sec", r.URL.Query().Get("runtime_sec"),
		)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(announceBody))
	})

	reportHandler := func(kind string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if err := r.ParseForm(); err != nil {
				http.Error(w, "bad form", http.StatusBadRequest)
				return
			}
			result := r.PostFormValue("result")

			// Pull the summary counters out of the report for the log line.
			var report map[string]any
			_ = json.Unmarshal([]byte(result), &report)
			attrs := []any{"bytes", len(result)}
			for key, value := range report {
				if key == "items" {
					continue
				}
				attrs = append(attrs, key, value)
			}
			slog.Info(kind+" report received", attrs...)

			_, _ = w.Write([]byte("OK"))
		}
	}
	mux.HandleFunc("/ping_report", reportHandler("ping"))
	mux.HandleFunc("/download_report", reportHandler("download"))

	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("mock coordinator error", "error", err)
	}
}
