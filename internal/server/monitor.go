package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/naipunyaailabs/sts/internal/logging"
	"github.com/naipunyaailabs/sts/internal/metrics"
	"github.com/naipunyaailabs/sts/internal/pipeline"
	"github.com/naipunyaailabs/sts/internal/realtime"
)

const (
	eventBuffer  = 32
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingPeriod   = 30 * time.Second
)

// StatusSource is the live controller as seen by the monitor
type StatusSource interface {
	GetStatus() realtime.Status
	Subscribe(buffer int) (<-chan pipeline.Event, func())
}

// Monitor serves the status of the live loop: a JSON snapshot, a websocket
// stream of completed utterances, and metrics.
type Monitor struct {
	server   *http.Server
	handler  http.Handler
	source   StatusSource
	metrics  *metrics.Metrics
	logger   *slog.Logger
	upgrader websocket.Upgrader

	quit     chan struct{}
	quitOnce sync.Once
}

// NewMonitor creates a monitor server on addr. metricsHandler may be nil.
func NewMonitor(addr string, source StatusSource, metricsHandler http.Handler, m *metrics.Metrics, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = logging.Discard()
	}
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	mon := &Monitor{
		source:  source,
		metrics: m,
		logger:  logger,
		quit:    make(chan struct{}),
		upgrader: websocket.Upgrader{
			// The monitor binds to a local address and only reads.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", withMetrics(m, "/health", mon.handleHealth))
	mux.HandleFunc("/status", withMetrics(m, "/status", mon.handleStatus))
	mux.HandleFunc("/events", mon.handleEvents)
	mux.Handle("/metrics", metricsHandler)
	mon.handler = recoverPanics(logger, mux)

	mon.server = &http.Server{
		Addr:        addr,
		Handler:     mon.handler,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return mon
}

// Handler returns the root handler
func (m *Monitor) Handler() http.Handler {
	return m.handler
}

// Start starts serving in the background
func (m *Monitor) Start() error {
	ln, err := net.Listen("tcp", m.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.server.Addr, err)
	}

	m.logger.Info("Starting monitor server", slog.String("address", ln.Addr().String()))

	go func() {
		if err := m.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("Monitor server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the monitor. Open websocket connections are closed.
func (m *Monitor) Stop(ctx context.Context) error {
	m.logger.Info("Stopping monitor server...")
	m.quitOnce.Do(func() { close(m.quit) })
	return m.server.Shutdown(ctx)
}

func (m *Monitor) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"state":     m.source.GetStatus().State,
	})
}

func (m *Monitor) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, E(CodeMethod, "", "Method not allowed", nil))
		return
	}
	writeJSON(w, http.StatusOK, m.source.GetStatus())
}

// handleEvents streams one JSON message per completed utterance until the
// client disconnects.
func (m *Monitor) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		return
	}
	defer conn.Close()

	events, unsubscribe := m.source.Subscribe(eventBuffer)
	defer unsubscribe()

	m.logger.Debug("Event subscriber connected", slog.String("client", clientIdentity(r)))

	// The reader only tracks liveness; clients send nothing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadDeadline(time.Now().Add(pongTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongTimeout))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-m.quit:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(writeTimeout))
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeTimeout))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				m.logger.Debug("Event subscriber write failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}
