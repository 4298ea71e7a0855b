package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestWhisperClientTranscribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("Expected bearer token, got %q", r.Header.Get("Authorization"))
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("Failed to parse multipart form: %v", err)
		}
		if r.FormValue("language") != "en" || r.FormValue("sample_rate") != "16000" {
			t.Errorf("Unexpected form fields: %v", r.MultipartForm.Value)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("Missing file field: %v", err)
		} else {
			file.Close()
			if !strings.HasSuffix(header.Filename, ".wav") {
				t.Errorf("Expected .wav filename, got %q", header.Filename)
			}
		}
		json.NewEncoder(w).Encode(map[string]string{"text": "Hello, how are you?"})
	}))
	defer server.Close()

	client, err := NewWhisperClient(WhisperConfig{Endpoint: server.URL, APIKey: "test-key"}, nil)
	if err != nil {
		t.Fatalf("NewWhisperClient failed: %v", err)
	}

	text, err := client.Transcribe(context.Background(), []int16{1, 2, 3, 4}, 16000)
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if text != "Hello, how are you?" {
		t.Errorf("Unexpected transcript %q", text)
	}

	stats := client.GetStats()
	if stats.TotalRequests != 1 || stats.SuccessRequests != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestWhisperClientRetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"text": "ok"})
	}))
	defer server.Close()

	client, err := NewWhisperClient(WhisperConfig{
		Endpoint:    server.URL,
		MaxRetries:  3,
		BackoffBase: time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("NewWhisperClient failed: %v", err)
	}

	text, err := client.Transcribe(context.Background(), []int16{1}, 16000)
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if text != "ok" {
		t.Errorf("Unexpected transcript %q", text)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("Expected 3 attempts, got %d", got)
	}
	if stats := client.GetStats(); stats.TotalRetries != 2 {
		t.Errorf("Expected 2 retries, got %d", stats.TotalRetries)
	}
}

func TestWhisperClientDoesNotRetryClientErrors(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "bad audio", http.StatusBadRequest)
	}))
	defer server.Close()

	client, err := NewWhisperClient(WhisperConfig{
		Endpoint:    server.URL,
		MaxRetries:  3,
		BackoffBase: time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("NewWhisperClient failed: %v", err)
	}

	_, err = client.Transcribe(context.Background(), []int16{1}, 16000)
	if err == nil {
		t.Fatal("Expected error for 400 response")
	}
	if !strings.Contains(err.Error(), "HTTP error 400") {
		t.Errorf("Expected status in error, got %v", err)
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("Expected a single attempt, got %d", got)
	}
	if stats := client.GetStats(); stats.FailedRequests != 1 {
		t.Errorf("Expected 1 failed request, got %d", stats.FailedRequests)
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"server error", &StatusError{StatusCode: 502}, true},
		{"rate limited", &StatusError{StatusCode: 429}, true},
		{"bad request", &StatusError{StatusCode: 400}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
	}

	for _, tt := range tests {
		if got := isRetryableError(tt.err); got != tt.want {
			t.Errorf("%s: isRetryableError() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestNewWhisperClientRequiresEndpoint(t *testing.T) {
	if _, err := NewWhisperClient(WhisperConfig{}, nil); err == nil {
		t.Error("Expected error for empty endpoint")
	}
}
