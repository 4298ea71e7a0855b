package main

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/naipunyaailabs/sts/internal/engine"
	"github.com/naipunyaailabs/sts/internal/logging"
)

func newTestServer() *httptest.Server {
	srv := &stubServer{
		transcriber: &engine.StubTranscriber{Phrase: "Good morning", Threshold: 0.01},
		logger:      logging.Discard(),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/transcribe", srv.handleTranscribe)
	return httptest.NewServer(mux)
}

func TestWhisperClientRoundTrip(t *testing.T) {
	server := newTestServer()
	defer server.Close()

	client, err := engine.NewWhisperClient(engine.WhisperConfig{Endpoint: server.URL + "/transcribe"}, nil)
	if err != nil {
		t.Fatalf("NewWhisperClient failed: %v", err)
	}
	defer client.Close()

	tone := make([]int16, 1600)
	for i := range tone {
		tone[i] = int16(8000 * math.Sin(2*math.Pi*300*float64(i)/16000))
	}

	text, err := client.Transcribe(context.Background(), tone, 16000)
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if text != "Good morning" {
		t.Errorf("Expected stub phrase, got %q", text)
	}

	text, err = client.Transcribe(context.Background(), make([]int16, 1600), 16000)
	if err != nil {
		t.Fatalf("Transcribe of silence failed: %v", err)
	}
	if text != "" {
		t.Errorf("Expected empty transcript for silence, got %q", text)
	}
}

func TestTranscribeRejectsBadRequests(t *testing.T) {
	server := newTestServer()
	defer server.Close()

	resp, err := http.Get(server.URL + "/transcribe")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", resp.StatusCode)
	}

	resp, err = http.Post(server.URL+"/transcribe", "text/plain", nil)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", resp.StatusCode)
	}
}
