package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"time"
)

// Download payload sizing. The base buffer is random so intermediaries cannot
// compress it into a meaningless measurement; larger payloads repeat it.
const (
	defaultDownloadSize = 20 * 1000
	maxDownloadSize     = 1000 * 1000
)

// shutdownTimeout bounds the graceful drain on context cancellation.
const shutdownTimeout = 5 * time.Second

// LoopStatus is implemented by the agent's three loops; withItems false omits
// the per-target detail for the combined front page.
type LoopStatus interface {
	StatusMap(withItems bool) map[string]any
}

// Server is the agent's inbound HTTP surface: the random-payload download
// endpoint other agents probe, and JSON introspection of every loop.
//
// Routes:
//   - GET /download?size=N: N random bytes (default 20000, cap 1000000)
//   - GET /announce_thread, /ping_thread, /download_thread: per-loop statistics
//   - GET / (also /main, /index, /home, /root): combined minimal view
//   - GET /config: local config and effective dynamic settings
//   - GET /config_reload: re-read the local config file, then as /config
//   - GET /help: supported commands
//
// Unknown paths return 403, matching what coordinators expect of agents.
type Server struct {
	port    int
	version string
	logger  *slog.Logger

	announce LoopStatus
	ping     LoopStatus
	download LoopStatus

	// configMap renders the /config body; reload re-reads the local file.
	// reload may be nil when the agent was configured programmatically.
	configMap func() map[string]any
	reload    func() error

	startTime  time.Time
	payload    []byte
	httpServer *http.Server
}

// New creates the agent's HTTP [Server]. It is not listening until
// [Server.Start] is called.
func New(port int, version string, announce, ping, download LoopStatus,
	configMap func() map[string]any, reload func() error, logger *slog.Logger) *Server {

	payload := make([]byte, defaultDownloadSize)
	_, _ = rand.New(rand.NewSource(time.Now().UnixNano())).Read(payload)

	return &Server{
		port:      port,
		version:   version,
		logger:    logger,
		announce:  announce,
		ping:      ping,
		download:  download,
		configMap: configMap,
		reload:    reload,
		startTime: time.Now(),
		payload:   payload,
	}
}

// Start binds the listener and begins serving in a background goroutine.
//
// The listener is created synchronously so a port conflict surfaces here as a
// startup error rather than later in a goroutine. The server shuts down
// gracefully when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/download", s.handleDownload)
	mux.HandleFunc("/", s.handleCommand)

	addr := fmt.Sprintf(":%d", s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.port, err)
	}

	s.httpServer = &http.Server{
		Handler: mux,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	return nil
}

// handleDownload serves size random bytes for peer download probes.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	size := int64(defaultDownloadSize)
	if raw := r.URL.Query().Get("size"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			http.Error(w, "bad size", http.StatusBadRequest)
			return
		}
		size = parsed
	}
	if size > maxDownloadSize {
		size = maxDownloadSize
	}

	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))

	remaining := size
	for remaining > 0 {
		chunk := int64(len(s.payload))
		if chunk > remaining {
			chunk = remaining
		}
		n, err := w.Write(s.payload[:chunk])
		remaining -= int64(n)
		if err != nil {
			// Client went away mid-download; its probe records the failure.
			return
		}
	}
}

// handleCommand dispatches the JSON introspection commands.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	before := time.Now()
	command := r.URL.Path

	root := map[string]any{}

	switch command {
	case "/announce_thread":
		root["announce_thread"] = s.announce.StatusMap(true)
	case "/ping_thread":
		root["ping_thread"] = s.ping.StatusMap(true)
	case "/download_thread":
		root["download_thread"] = s.download.StatusMap(true)
	case "/config":
		root["config"] = s.renderConfig()
	case "/config_reload":
		if s.reload != nil {
			if err := s.reload(); err != nil {
				root["reload_error"] = err.Error()
			}
		}
		root["config"] = s.renderConfig()
	case "/help":
		root["supported_commands"] = []string{
			"/", "/announce_thread", "/ping_thread", "/download_thread",
			"/config", "/config_reload", "/download", "/help",
		}
	case "/", "/main", "/index", "/home", "/root":
		root["announce_thread"] = s.announce.StatusMap(false)
		root["ping_thread"] = s.ping.StatusMap(false)
		root["download_thread"] = s.download.StatusMap(false)
	default:
		// Unknown command: explicit forbidden, so probing tools see a
		// deliberate denial rather than a confused 404.
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.WriteHeader(http.StatusForbidden)
		return
	}

	root["version"] = s.version
	root["server_time"] = time.Now().Format(time.RFC3339)
	root["uptime_sec"] = int64(time.Since(s.startTime) / time.Second)
	root["processing_ms"] = float64(time.Since(before).Microseconds()) / 1000.0

	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(root); err != nil {
		s.logger.Error("failed to encode status response", "error", err)
	}
}

func (s *Server) renderConfig() map[string]any {
	if s.configMap == nil {
		return nil
	}
	return s.configMap()
}
