package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/naipunyaailabs/sts/internal/audio"
	"github.com/naipunyaailabs/sts/internal/logging"
	"github.com/naipunyaailabs/sts/internal/metrics"
	"github.com/naipunyaailabs/sts/internal/models"
	"github.com/naipunyaailabs/sts/internal/pipeline"
	"github.com/naipunyaailabs/sts/internal/ratelimit"
)

// Response headers of a successful translation
const (
	HeaderEnglishText    = "X-English-Text"
	HeaderRussianText    = "X-Russian-Text"
	HeaderProcessingTime = "X-Processing-Time"
	HeaderRequestID      = "X-Request-ID"
	HeaderAPIKey         = "X-API-Key"
)

// multipart framing allowance on top of the file size limit
const formOverhead = 64 << 10

// ModelLoader gives access to the shared model bundle
type ModelLoader interface {
	Loaded() *models.Bundle
	Get(ctx context.Context) (*models.Bundle, error)
}

// Processor runs one decoded buffer through the pipeline
type Processor interface {
	ProcessFile(ctx context.Context, samples []int16, sampleRate int) *pipeline.Utterance
}

// GatewayConfig contains request gateway configuration
type GatewayConfig struct {
	Address         string
	APIKey          string // empty disables authentication
	MaxUploadBytes  int64
	EagerLoad       bool // reject requests until models are loaded
	InputSampleRate int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MetricsHandler  http.Handler // nil uses the default prometheus registry
}

// Gateway is the HTTP admission layer in front of the pipeline
type Gateway struct {
	server    *http.Server
	handler   http.Handler
	cfg       GatewayConfig
	loader    ModelLoader
	processor Processor
	limiter   *ratelimit.Window
	metrics   *metrics.Metrics
	logger    *slog.Logger
	startTime time.Time
}

// NewGateway creates the gateway. limiter may be nil to disable rate
// limiting.
func NewGateway(cfg GatewayConfig, loader ModelLoader, processor Processor, limiter *ratelimit.Window, m *metrics.Metrics, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = logging.Discard()
	}
	if cfg.InputSampleRate == 0 {
		cfg.InputSampleRate = 16000
	}

	g := &Gateway{
		cfg:       cfg,
		loader:    loader,
		processor: processor,
		limiter:   limiter,
		metrics:   m,
		logger:    logger,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	g.setupRoutes(mux)
	g.handler = recoverPanics(logger, mux)

	g.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      g.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return g
}

func (g *Gateway) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", g.instrument("/health", g.handleHealth))
	mux.HandleFunc("/ready", g.instrument("/ready", g.handleReady))
	mux.HandleFunc("/translate-audio", g.instrument("/translate-audio", g.handleTranslate))

	metricsHandler := g.cfg.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	mux.Handle("/metrics", metricsHandler)
}

func (g *Gateway) instrument(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return withMetrics(g.metrics, endpoint, withRequestLog(g.logger, handler))
}

// Handler returns the root handler, for tests and embedding
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// Start starts serving in the background
func (g *Gateway) Start() error {
	g.logger.Info("Starting HTTP gateway",
		slog.String("address", g.server.Addr),
		slog.Bool("auth", g.cfg.APIKey != ""),
		slog.Bool("eager_load", g.cfg.EagerLoad),
	)

	ln, err := net.Listen("tcp", g.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", g.server.Addr, err)
	}

	go func() {
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("HTTP gateway error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the gateway
func (g *Gateway) Stop(ctx context.Context) error {
	g.logger.Info("Stopping HTTP gateway...")
	return g.server.Shutdown(ctx)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, E(CodeMethod, "", "Method not allowed", nil))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "healthy",
		"timestamp":     time.Now().UTC(),
		"uptime":        time.Since(g.startTime).String(),
		"models_loaded": g.loader.Loaded() != nil,
	})
}

func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, E(CodeMethod, "", "Method not allowed", nil))
		return
	}

	if g.loader.Loaded() == nil {
		writeError(w, E(CodeUnavailable, "", "Models not loaded yet", nil))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ready",
		"timestamp": time.Now().UTC(),
	})
}

func (g *Gateway) handleTranslate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if r.Method != http.MethodPost {
		writeError(w, E(CodeMethod, "", "Method not allowed", nil))
		return
	}

	if err := g.authenticate(r); err != nil {
		writeError(w, err)
		return
	}

	if err := g.admit(r); err != nil {
		writeError(w, err)
		return
	}

	payload, err := g.readUpload(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := g.ensureReady(r.Context()); err != nil {
		writeError(w, err)
		return
	}

	samples, err := g.decode(payload)
	if err != nil {
		writeError(w, err)
		return
	}

	u := g.processor.ProcessFile(r.Context(), samples, g.cfg.InputSampleRate)
	w.Header().Set(HeaderRequestID, u.ID)

	switch u.Outcome() {
	case pipeline.OutcomeFailed:
		g.logger.Error("Translation failed",
			slog.String("request_id", u.ID),
			slog.String("stage", u.Error.Stage),
			slog.String("cause", string(u.Error.Cause)),
			slog.String("error", u.Error.Message),
		)
		writeError(w, E(CodeInternal, "Gateway.Translate", "Internal translation error", u.Error.Err()))
		return
	case pipeline.OutcomeEmpty:
		writeError(w, E(CodeInvalidArgument, "", "No speech detected in audio", nil))
		return
	}

	wav, err := audio.EncodeWAV(u.RussianAudio, u.SampleRate)
	if err != nil {
		writeError(w, E(CodeInternal, "Gateway.Translate", "Internal translation error", err))
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(wav)))
	w.Header().Set(HeaderEnglishText, headerSafe(u.EnglishText))
	w.Header().Set(HeaderRussianText, headerSafe(u.RussianText))
	w.Header().Set(HeaderProcessingTime, fmt.Sprintf("%.3f", time.Since(start).Seconds()))
	w.WriteHeader(http.StatusOK)
	w.Write(wav)
}

// authenticate checks the API key header when a key is configured
func (g *Gateway) authenticate(r *http.Request) error {
	if g.cfg.APIKey == "" {
		return nil
	}

	key := r.Header.Get(HeaderAPIKey)
	if key == "" {
		return E(CodeUnauthorized, "", "API key required", nil)
	}
	if subtle.ConstantTimeCompare([]byte(key), []byte(g.cfg.APIKey)) != 1 {
		return E(CodeForbidden, "", "Invalid API key", nil)
	}
	return nil
}

// admit applies the per-client rate limit
func (g *Gateway) admit(r *http.Request) error {
	if g.limiter == nil {
		return nil
	}

	if g.limiter.Admit(clientIdentity(r), time.Now()) {
		return nil
	}

	g.metrics.RecordRateLimited()
	return E(CodeRateLimited, "", fmt.Sprintf("Rate limit exceeded: %d requests per %s",
		g.limiter.Limit(), formatWindow(g.limiter.Period())), nil)
}

// readUpload extracts the "file" field of a multipart form
func (g *Gateway) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	limit := g.cfg.MaxUploadBytes
	tooLarge := E(CodeTooLarge, "", fmt.Sprintf("File too large (max %s)", formatBytes(limit)), nil)

	if limit > 0 {
		if r.ContentLength > limit+formOverhead {
			return nil, tooLarge
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit+formOverhead)
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, tooLarge
		}
		return nil, E(CodeInvalidArgument, "", "Expected multipart/form-data with a file field", err)
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, E(CodeInvalidArgument, "", "No file provided", err)
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".wav") {
		return nil, E(CodeInvalidArgument, "", "Only WAV files are supported", nil)
	}

	if limit > 0 && header.Size > limit {
		return nil, tooLarge
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, E(CodeInvalidArgument, "", "Failed to read upload", err)
	}
	if len(data) == 0 {
		return nil, E(CodeInvalidArgument, "", "Empty audio payload", nil)
	}

	return data, nil
}

// ensureReady rejects requests until the models are loaded. In lazy mode the
// first request triggers the load and waits for it.
func (g *Gateway) ensureReady(ctx context.Context) error {
	if g.loader.Loaded() != nil {
		return nil
	}

	if g.cfg.EagerLoad {
		return E(CodeUnavailable, "", "Models not loaded yet", nil)
	}

	if _, err := g.loader.Get(ctx); err != nil {
		g.logger.Error("Model loading failed", slog.String("error", err.Error()))
		return E(CodeUnavailable, "Gateway.ensureReady", "Model loading failed", err)
	}
	return nil
}

// decode turns the WAV payload into mono samples at the input rate
func (g *Gateway) decode(payload []byte) ([]int16, error) {
	samples, info, err := audio.DecodeWAV(payload)
	if err != nil {
		return nil, E(CodeInvalidArgument, "", "Failed to decode audio: "+err.Error(), err)
	}

	if info.SampleRate != g.cfg.InputSampleRate {
		return nil, E(CodeInvalidArgument, "", fmt.Sprintf("Expected %d kHz audio, got %d Hz",
			g.cfg.InputSampleRate/1000, info.SampleRate), nil)
	}

	return audio.Downmix(samples, info.Channels), nil
}

// clientIdentity is the remote host without port
func clientIdentity(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// headerSafe strips characters that cannot appear in a header value
func headerSafe(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' {
			return ' '
		}
		return r
	}, s)
}

func formatWindow(d time.Duration) string {
	if d%time.Second == 0 {
		return fmt.Sprintf("%d seconds", int(d/time.Second))
	}
	return d.String()
}

func formatBytes(n int64) string {
	if n >= 1<<20 && n%(1<<20) == 0 {
		return fmt.Sprintf("%d MB", n>>20)
	}
	return fmt.Sprintf("%d bytes", n)
}
