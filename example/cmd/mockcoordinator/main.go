// Standalone mock coordinator for testing the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockcoordinator
//
// Then in another terminal:
//
//	go run ./cmd/meshprobe run -c example/config.yaml
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
)

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

func main() {
	fmt.Println("Mock coordinator starting on :9990")
	fmt.Println("Announces receive a single target: 127.0.0.1:5001")
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	mux := http.NewServeMux()

	mux.HandleFunc("/announce", func(w http.ResponseWriter, r *http.Request) {
		slog.Info("announce received",
			"client_name", r.URL.Query().Get("client_name"),
			"announce_count", r.URL.Query().Get("announce_count"),
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

	if err := http.ListenAndServe(":9990", mux); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
