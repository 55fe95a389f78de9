package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wernerhzigby/pulse-ecg-monitor/internal/acquisition"
	"github.com/wernerhzigby/pulse-ecg-monitor/internal/ecg"
	"github.com/wernerhzigby/pulse-ecg-monitor/internal/report"
	"github.com/wernerhzigby/pulse-ecg-monitor/internal/store"
)

const (
	// writeTimeout is the maximum time allowed for a single SSE or websocket
	// write. This prevents goroutine leaks when clients are slow or
	// disconnected. Must be <= shutdown timeout to ensure clean shutdown.
	writeTimeout = 5 * time.Second

	// shutdownTimeout bounds graceful shutdown of in-flight requests.
	shutdownTimeout = 5 * time.Second

	// pushInterval is how often SSE and websocket streams look for a new
	// snapshot version.
	pushInterval = 200 * time.Millisecond

	// dataSamples and dataBPM bound the /api/data response.
	dataSamples = 1000
	dataBPM     = 300

	// tokenHeader carries the shutdown token on POST /api/stop.
	tokenHeader = "X-ECG-Token"
)

// Controller is the control surface the server drives on behalf of clients.
type Controller interface {
	// RequestStop halts acquisition if token is authorized. It returns
	// [acquisition.ErrStopDisabled], [acquisition.ErrUnauthorized] or
	// [acquisition.ErrStopped] on rejection.
	RequestStop(token string) error

	// Reset clears buffers, histories and flags.
	Reset(ctx context.Context) error

	// StartSampling starts acquisition when autostart is off.
	StartSampling() error
}

// Server handles HTTP requests for the ECG monitor API.
//
// All read endpoints are served from the latest published snapshot, so a
// request never blocks the producer and every field of a response comes from
// the same snapshot version.
//
// The server is designed for graceful shutdown via context cancellation.
type Server struct {
	store      store.Store
	ctrl       Controller
	port       int
	metrics    http.Handler
	httpServer *http.Server
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

// NewServer creates a new HTTP [Server].
//
// Parameters:
//   - st: Store the snapshots are read from
//   - ctrl: Controller for stop, reset and start (control routes are omitted if nil)
//   - port: TCP port to listen on
//   - metrics: Handler mounted at /metrics (omitted if nil)
//   - logger: Logger for server events
//
// The server is not started until [Server.Start] is called.
func NewServer(st store.Store, ctrl Controller, port int, metrics http.Handler, logger *slog.Logger) *Server {
	return &Server{
		store:   st,
		ctrl:    ctrl,
		port:    port,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	// read API
	mux.HandleFunc("GET /api/window", s.handleWindow)
	mux.HandleFunc("GET /api/bpm", s.handleBPM)
	mux.HandleFunc("GET /api/flags", s.handleFlags)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /api/data", s.handleData)
	mux.HandleFunc("GET /api/report", s.handleReport)

	// streams
	mux.HandleFunc("GET /api/sse", s.handleSSE)
	mux.HandleFunc("GET /api/ws", s.handleWS)

	if s.ctrl != nil {
		mux.HandleFunc("POST /api/stop", s.handleStop)
		mux.HandleFunc("POST /api/reset", s.handleReset)
		mux.HandleFunc("POST /api/start", s.handleStart)
	}

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	return mux
}

// Start begins serving HTTP requests in a background goroutine.
//
// Start is non-blocking and returns immediately after confirming the server
// is listening. The server will continue running until the context is
// cancelled, at which point it initiates a graceful shutdown with a 5-second
// timeout.
//
// Returns an error if the server fails to bind to the configured port.
func (s *Server) Start(ctx context.Context) error {
	// create listener first to verify port availability synchronously
	addr := fmt.Sprintf(":%d", s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.port, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// BaseContext derives all request contexts from the server context.
		// When ctx is cancelled, all request contexts are also cancelled,
		// enabling graceful shutdown of long-running handlers like SSE.
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", "error", err)
		}
	}()

	// shutdown on context cancellation
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	s.logger.Info("http server listening", "addr", ln.Addr().String())
	return nil
}

// healthResponse is the body of GET /health.
type healthResponse struct {
	OK         bool            `json:"ok"`
	Simulating bool            `json:"simulating"`
	HardwareOK bool            `json:"hardware_ok"`
	Sampling   bool            `json:"sampling"`
	State      ecg.SourceState `json:"state"`
	BPM        float64         `json:"bpm"`
	Version    uint64          `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Latest()
	s.writeJSON(w, http.StatusOK, healthResponse{
		OK:         true,
		Simulating: snap.Status.Simulating,
		HardwareOK: snap.Status.HardwareOK,
		Sampling:   snap.Status.Sampling,
		State:      snap.Status.State,
		BPM:        snap.CurrentBPM,
		Version:    snap.Version,
	})
}

// handleWindow returns the buffered samples. ?last=N limits the response to
// the newest N samples.
func (s *Server) handleWindow(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Latest()
	last, err := intParam(r, "last", snap.Window.Len())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.writeJSON(w, http.StatusOK, snap.Window.Tail(last))
}

func (s *Server) handleBPM(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Latest()
	last, err := intParam(r, "last", snap.BPMHistory.Len())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.writeJSON(w, http.StatusOK, snap.BPMHistory.Tail(last))
}

// flagsResponse is the body of GET /api/flags.
type flagsResponse struct {
	Version uint64                `json:"version"`
	Active  []ecg.EventFlag       `json:"active"`
	Recent  []ecg.EventFlag       `json:"recent"`
	Counts  map[ecg.EventKind]int `json:"counts"`
}

func (s *Server) handleFlags(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Latest()
	s.writeJSON(w, http.StatusOK, flagsResponse{
		Version: snap.Version,
		Active:  snap.ActiveFlags,
		Recent:  snap.RecentFlags,
		Counts:  snap.Counts,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.Latest().EventWindows())
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.Latest())
}

// point is one smoothed sample on the wire.
type point struct {
	T time.Time `json:"t"`
	V float64   `json:"v"`
}

// dataResponse is the body of GET /api/data.
type dataResponse struct {
	Version uint64           `json:"version"`
	ECG     []point          `json:"ecg"`
	BPM     []ecg.BPMSample  `json:"bpm"`
	Flags   []ecg.EventKind  `json:"flags"`
	Status  ecg.SourceStatus `json:"status"`
}

// handleData returns the newest samples smoothed by an N-sample running mean
// (?smooth=N, default 1) together with the recent BPM history.
func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	n, err := intParam(r, "smooth", 1)
	if err != nil || n < 1 || n > dataSamples {
		http.Error(w, fmt.Sprintf("smooth must be between 1 and %d", dataSamples), http.StatusBadRequest)
		return
	}

	snap := s.store.Latest()
	s.writeJSON(w, http.StatusOK, dataResponse{
		Version: snap.Version,
		ECG:     smooth(snap.Window.Tail(dataSamples), n),
		BPM:     snap.BPMHistory.Tail(dataBPM),
		Flags:   snap.ActiveKinds(),
		Status:  snap.Status,
	})
}

// smooth applies a trailing running mean of width n.
func smooth(samples []ecg.Sample, n int) []point {
	out := make([]point, len(samples))
	sum := 0
	for i, sm := range samples {
		sum += sm.Amplitude
		width := n
		if i >= n {
			sum -= samples[i-n].Amplitude
		} else {
			width = i + 1
		}
		out[i] = point{T: sm.Timestamp, V: float64(sum) / float64(width)}
	}
	return out
}

// handleReport streams the CSV bundle for the latest snapshot. The archive
// is built in memory first so a failure can still be reported as a 500.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Latest()

	var buf bytes.Buffer
	if err := report.Write(&buf, snap); err != nil {
		s.logger.Error("failed to build report", "error", err)
		http.Error(w, "failed to build report", http.StatusInternalServerError)
		return
	}

	name := fmt.Sprintf("ecg_report_%s.zip", snap.PublishedAt.UTC().Format("20060102_150405"))
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	if _, err := buf.WriteTo(w); err != nil {
		s.logger.Error("failed to write report response", "error", err)
	}
}

// summary is the SSE payload: everything a status panel needs, without the
// sample window.
type summary struct {
	Version    uint64                `json:"version"`
	SessionID  string                `json:"session_id"`
	BPM        float64               `json:"bpm"`
	LastPeak   *ecg.RPeak            `json:"last_peak,omitempty"`
	Active     []ecg.EventKind       `json:"active"`
	Counts     map[ecg.EventKind]int `json:"counts"`
	Status     ecg.SourceStatus      `json:"status"`
	Samples    int                   `json:"samples"`
	BPMEntries int                   `json:"bpm_entries"`
}

func summarize(snap *ecg.Snapshot) summary {
	return summary{
		Version:    snap.Version,
		SessionID:  snap.SessionID,
		BPM:        snap.CurrentBPM,
		LastPeak:   snap.LastPeak,
		Active:     snap.ActiveKinds(),
		Counts:     snap.Counts,
		Status:     snap.Status,
		Samples:    snap.Window.Len(),
		BPMEntries: snap.BPMHistory.Len(),
	}
}

// handleSSE streams a summary every pushInterval whenever the snapshot
// version changed.
//
// The handler uses write deadlines to prevent goroutine leaks when clients are
// slow or disconnected. Without deadlines, a blocked Fprintf call would prevent
// the handler from detecting context cancellation.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	// check if flushing is supported
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	// ResponseController provides deadline-aware write and flush operations.
	rc := http.NewResponseController(w)

	// track if write deadlines are supported (may not be for some ResponseWriter impls)
	deadlinesSupported := true

	writeAndFlush := func(data []byte) error {
		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				// deadline not supported by underlying connection, continue without
				s.logger.Debug("sse write deadlines not supported", "error", err)
				deadlinesSupported = false
			}
		}

		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}

		// ResponseController.Flush respects the write deadline
		return rc.Flush()
	}

	// set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	var sent uint64
	push := func() error {
		snap := s.store.Latest()
		if snap.Version == sent && sent != 0 {
			return nil
		}
		data, err := json.Marshal(summarize(snap))
		if err != nil {
			return err
		}
		if err := writeAndFlush(data); err != nil {
			return err
		}
		sent = snap.Version
		return nil
	}

	// send the current summary right away
	if err := push(); err != nil {
		return
	}

	ticker := time.NewTicker(pushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := push(); err != nil {
				return
			}
		case <-r.Context().Done():
			// request context is derived from server context via BaseContext,
			// so this fires on both client disconnect AND server shutdown
			return
		}
	}
}

// frame is one websocket message: everything new since the previous frame.
type frame struct {
	Version uint64            `json:"version"`
	Samples []ecg.Sample      `json:"samples"`
	BPM     []ecg.BPMSample   `json:"bpm"`
	Opened  []ecg.EventFlag   `json:"opened,omitempty"`
	Closed  []ecg.EventFlag   `json:"closed,omitempty"`
	Status  *ecg.SourceStatus `json:"status,omitempty"`
}

// handleWS upgrades to a websocket and streams new samples, BPM entries and
// flag transitions every pushInterval. Frames are computed with [store.Diff]
// so nothing still retained by the buffer is skipped between frames.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// read side: discard client messages and notice disconnects
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var prev *ecg.Snapshot
	send := func() error {
		next := s.store.Latest()
		if prev != nil && next.Version == prev.Version {
			return nil
		}
		reset := prev != nil && next.SessionID != prev.SessionID
		d := store.Diff(prev, next)
		// flags ended by a reset close before anything of the new session
		closed := append(d.Ended, d.Closed...)
		f := frame{Version: next.Version, Samples: d.Samples, BPM: d.BPM, Opened: d.Opened, Closed: closed}
		if f.Samples == nil {
			f.Samples = []ecg.Sample{}
		}
		if f.BPM == nil {
			f.BPM = []ecg.BPMSample{}
		}
		if prev == nil || reset || d.StatusChanged {
			status := next.Status
			f.Status = &status
		}
		prev = next

		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteJSON(f)
	}

	if err := send(); err != nil {
		return
	}

	ticker := time.NewTicker(pushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := send(); err != nil {
				return
			}
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}

// handleStop halts acquisition. The token comes from the X-ECG-Token header,
// falling back to the token query parameter.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get(tokenHeader)
	if token == "" {
		token = r.URL.Query().Get("token")
	}

	err := s.ctrl.RequestStop(token)
	switch {
	case err == nil:
		s.logger.Info("stop requested", "remote", r.RemoteAddr)
		s.writeJSON(w, http.StatusOK, map[string]bool{"stopped": true})
	case errors.Is(err, acquisition.ErrStopDisabled):
		http.NotFound(w, r)
	case errors.Is(err, acquisition.ErrUnauthorized):
		s.logger.Warn("unauthorized stop request", "remote", r.RemoteAddr)
		http.Error(w, "Forbidden", http.StatusForbidden)
	default:
		s.controlError(w, err)
	}
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Reset(r.Context()); err != nil {
		s.controlError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"session_id": s.store.Latest().SessionID})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.StartSampling(); err != nil {
		s.controlError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"sampling": true})
}

func (s *Server) controlError(w http.ResponseWriter, err error) {
	if errors.Is(err, acquisition.ErrStopped) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	s.logger.Error("control request failed", "error", err)
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// intParam parses an optional non-negative integer query parameter.
func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}
