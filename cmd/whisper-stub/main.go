// Command whisper-stub serves the multipart transcription protocol spoken by
// the whisper-http engine, answering every non-silent upload with a fixed
// phrase. It lets the gateway and the live pipeline run against a real HTTP
// transcription hop without a model server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/naipunyaailabs/sts/internal/audio"
	"github.com/naipunyaailabs/sts/internal/config"
	"github.com/naipunyaailabs/sts/internal/engine"
	"github.com/naipunyaailabs/sts/internal/logging"
)

type transcriptionResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
}

type stubServer struct {
	transcriber *engine.StubTranscriber
	delay       time.Duration
	logger      *slog.Logger
}

func (s *stubServer) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	samples, info, err := audio.DecodeMonoWAV(data)
	if err != nil {
		http.Error(w, "Invalid WAV payload", http.StatusBadRequest)
		return
	}

	// Simulated model latency
	select {
	case <-r.Context().Done():
		return
	case <-time.After(s.delay):
	}

	text, err := s.transcriber.Transcribe(r.Context(), samples, info.SampleRate)
	if err != nil {
		http.Error(w, "Transcription failed", http.StatusInternalServerError)
		return
	}

	language := r.FormValue("language")
	if language == "" {
		language = "en"
	}

	s.logger.Info("Transcription request",
		slog.String("request_id", r.FormValue("request_id")),
		slog.String("filename", header.Filename),
		slog.Int("bytes", len(data)),
		slog.Int("sample_rate", info.SampleRate),
		slog.String("language", language),
		slog.String("text", text),
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(transcriptionResponse{
		Text:     text,
		Language: language,
		Duration: audio.Duration(len(samples), info.SampleRate).Seconds(),
	})
}

func main() {
	addr := flag.String("addr", ":9000", "Listen address")
	phrase := flag.String("phrase", "Hello, how are you today?", "Transcript returned for non-silent audio")
	delay := flag.Duration("delay", 200*time.Millisecond, "Simulated processing time per request")
	threshold := flag.Float64("threshold", 0.01, "Peak level (fraction of full scale) at or below which audio counts as silent")
	level := flag.String("log-level", "info", "Log level")
	flag.Parse()

	logger := logging.NewWithWriter(config.LoggingConfig{Level: *level, Format: "text"}, os.Stdout)

	srv := &stubServer{
		transcriber: &engine.StubTranscriber{Phrase: *phrase, Threshold: *threshold},
		delay:       *delay,
		logger:      logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/transcribe", srv.handleTranscribe)
	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		logger.Info("Stub transcription server starting",
			slog.String("address", *addr),
			slog.String("endpoint", "http://localhost"+*addr+"/transcribe"),
			slog.Duration("delay", *delay),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", slog.String("error", err.Error()))
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown failed", slog.String("error", err.Error()))
	}
	logger.Info("Stub transcription server stopped")
}
