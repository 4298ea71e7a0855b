package server

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode"

	"github.com/naipunyaailabs/sts/internal/audio"
	"github.com/naipunyaailabs/sts/internal/engine"
	"github.com/naipunyaailabs/sts/internal/models"
	"github.com/naipunyaailabs/sts/internal/pipeline"
	"github.com/naipunyaailabs/sts/internal/ratelimit"
	"github.com/naipunyaailabs/sts/internal/stage"
	"github.com/naipunyaailabs/sts/internal/vad"
)

const phrase = "Hello, how are you?"

type failingTranslator struct{}

func (failingTranslator) Translate(ctx context.Context, text string) (string, error) {
	return "", errors.New("secret backend detail")
}

type panickingProcessor struct{}

func (panickingProcessor) ProcessFile(ctx context.Context, samples []int16, sampleRate int) *pipeline.Utterance {
	panic("boom")
}

func newSet() *engine.Set {
	return &engine.Set{
		Kind:        "stub",
		Transcriber: &engine.StubTranscriber{Phrase: phrase, Threshold: 0.01},
		Translator:  engine.StubTranslator{},
		Synthesizer: &engine.StubSynthesizer{SampleRate: 24000},
	}
}

func factoryFor(set *engine.Set, calls *atomic.Int32, delay time.Duration) models.Factory {
	return func(ctx context.Context) (*models.Bundle, error) {
		if calls != nil {
			calls.Add(1)
		}
		time.Sleep(delay)
		detector, err := vad.NewDetector(0.01, 0.02, 480)
		if err != nil {
			return nil, err
		}
		return models.NewBundle(set, detector, stage.Options{}), nil
	}
}

type testGateway struct {
	gateway *Gateway
	loader  *models.Loader
}

func newTestGateway(t *testing.T, cfg GatewayConfig, factory models.Factory, limiter *ratelimit.Window, preload bool) *testGateway {
	t.Helper()

	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 1 << 20
	}
	cfg.MetricsHandler = http.NotFoundHandler()

	loader := models.NewLoader(factory, 0, nil, nil)
	if preload {
		if _, err := loader.Get(context.Background()); err != nil {
			t.Fatalf("Preload failed: %v", err)
		}
	}
	orch := pipeline.NewOrchestrator(loader, nil, pipeline.Options{}, nil, nil)

	return &testGateway{
		gateway: NewGateway(cfg, loader, orch, limiter, nil, nil),
		loader:  loader,
	}
}

func speech(n int) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(2*math.Pi*300*float64(i)/16000))
	}
	return samples
}

func mustWAV(t *testing.T, samples []int16, rate int) []byte {
	t.Helper()
	data, err := audio.EncodeWAV(samples, rate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	return data
}

// stereoWAV encodes the same signal on both channels
func stereoWAV(t *testing.T, mono []int16, rate int) []byte {
	t.Helper()
	interleaved := make([]int16, 0, 2*len(mono))
	for _, s := range mono {
		interleaved = append(interleaved, s, s)
	}
	data := mustWAV(t, interleaved, rate)
	binary.LittleEndian.PutUint16(data[22:24], 2)
	binary.LittleEndian.PutUint32(data[28:32], uint32(rate*4))
	binary.LittleEndian.PutUint16(data[32:34], 4)
	return data
}

func uploadRequest(t *testing.T, filename string, payload []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile failed: %v", err)
	}
	fw.Write(payload)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/translate-audio", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.RemoteAddr = "192.0.2.10:5555"
	return req
}

func serve(g *Gateway, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode error body: %v", err)
	}
	return body
}

func TestHealth(t *testing.T) {
	tg := newTestGateway(t, GatewayConfig{}, factoryFor(newSet(), nil, 0), nil, false)

	for _, loaded := range []bool{false, true} {
		if loaded {
			tg.loader.Get(context.Background())
		}
		rec := serve(tg.gateway, httptest.NewRequest(http.MethodGet, "/health", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", rec.Code)
		}
		var body map[string]any
		json.NewDecoder(rec.Body).Decode(&body)
		if body["models_loaded"] != loaded {
			t.Errorf("Expected models_loaded=%v, got %v", loaded, body["models_loaded"])
		}
	}
}

func TestReady(t *testing.T) {
	tg := newTestGateway(t, GatewayConfig{}, factoryFor(newSet(), nil, 0), nil, false)

	rec := serve(tg.gateway, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503, got %d", rec.Code)
	}
	if body := decodeError(t, rec); body.Detail != "Models not loaded yet" {
		t.Errorf("Unexpected detail %q", body.Detail)
	}

	tg.loader.Get(context.Background())
	rec = serve(tg.gateway, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 once loaded, got %d", rec.Code)
	}
}

func TestTranslateEndToEnd(t *testing.T) {
	tg := newTestGateway(t, GatewayConfig{}, factoryFor(newSet(), nil, 0), nil, true)

	rec := serve(tg.gateway, uploadRequest(t, "hello.wav", mustWAV(t, speech(32000), 16000)))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	if got := rec.Header().Get(HeaderEnglishText); got != phrase {
		t.Errorf("Expected %s %q, got %q", HeaderEnglishText, phrase, got)
	}
	russian := rec.Header().Get(HeaderRussianText)
	if russian == "" || !strings.ContainsFunc(russian, func(r rune) bool { return unicode.Is(unicode.Cyrillic, r) }) {
		t.Errorf("Expected Cyrillic %s, got %q", HeaderRussianText, russian)
	}
	if _, err := strconv.ParseFloat(rec.Header().Get(HeaderProcessingTime), 64); err != nil {
		t.Errorf("Invalid %s: %v", HeaderProcessingTime, err)
	}
	if rec.Header().Get(HeaderRequestID) == "" {
		t.Errorf("Missing %s", HeaderRequestID)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("Expected audio/wav, got %q", ct)
	}

	samples, info, err := audio.DecodeWAV(rec.Body.Bytes())
	if err != nil {
		t.Fatalf("Response is not a WAV file: %v", err)
	}
	if info.SampleRate != 22050 || info.Channels != 1 || len(samples) == 0 {
		t.Errorf("Expected non-empty mono 22050 Hz audio, got %+v", info)
	}
}

func TestTranslateAuth(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		sent       string
		wantStatus int
	}{
		{"auth disabled, no header", "", "", http.StatusOK},
		{"auth disabled, any header", "", "whatever", http.StatusOK},
		{"missing key", "s3cret", "", http.StatusUnauthorized},
		{"wrong key", "s3cret", "nope", http.StatusForbidden},
		{"correct key", "s3cret", "s3cret", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tg := newTestGateway(t, GatewayConfig{APIKey: tt.configured}, factoryFor(newSet(), nil, 0), nil, true)

			req := uploadRequest(t, "a.wav", mustWAV(t, speech(16000), 16000))
			if tt.sent != "" {
				req.Header.Set(HeaderAPIKey, tt.sent)
			}
			rec := serve(tg.gateway, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("Expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestTranslateRateLimit(t *testing.T) {
	limiter, err := ratelimit.New(2, time.Minute)
	if err != nil {
		t.Fatalf("ratelimit.New failed: %v", err)
	}
	tg := newTestGateway(t, GatewayConfig{}, factoryFor(newSet(), nil, 0), limiter, true)
	wav := mustWAV(t, speech(16000), 16000)

	for i := 0; i < 2; i++ {
		if rec := serve(tg.gateway, uploadRequest(t, "a.wav", wav)); rec.Code != http.StatusOK {
			t.Fatalf("Request %d: expected 200, got %d", i+1, rec.Code)
		}
	}

	rec := serve(tg.gateway, uploadRequest(t, "a.wav", wav))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", rec.Code)
	}
	body := decodeError(t, rec)
	if body.Code != CodeRateLimited || !strings.Contains(body.Detail, "2 requests per 60 seconds") {
		t.Errorf("Unexpected rate limit body: %+v", body)
	}

	// Another client is unaffected.
	req := uploadRequest(t, "a.wav", wav)
	req.RemoteAddr = "198.51.100.7:1234"
	if rec := serve(tg.gateway, req); rec.Code != http.StatusOK {
		t.Errorf("Other client: expected 200, got %d", rec.Code)
	}
}

func TestTranslateValidation(t *testing.T) {
	tg := newTestGateway(t, GatewayConfig{MaxUploadBytes: 64 << 10}, factoryFor(newSet(), nil, 0), nil, true)
	valid := mustWAV(t, speech(16000), 16000)

	tests := []struct {
		name       string
		req        func() *http.Request
		wantStatus int
		wantDetail string
	}{
		{
			name:       "wrong method",
			req:        func() *http.Request { return httptest.NewRequest(http.MethodGet, "/translate-audio", nil) },
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name: "not multipart",
			req: func() *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/translate-audio", bytes.NewReader(valid))
				req.Header.Set("Content-Type", "audio/wav")
				return req
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "missing file field",
			req: func() *http.Request {
				var body bytes.Buffer
				mw := multipart.NewWriter(&body)
				mw.WriteField("other", "x")
				mw.Close()
				req := httptest.NewRequest(http.MethodPost, "/translate-audio", &body)
				req.Header.Set("Content-Type", mw.FormDataContentType())
				return req
			},
			wantStatus: http.StatusBadRequest,
			wantDetail: "No file provided",
		},
		{
			name:       "wrong extension",
			req:        func() *http.Request { return uploadRequest(t, "speech.mp3", valid) },
			wantStatus: http.StatusBadRequest,
			wantDetail: "Only WAV files are supported",
		},
		{
			name:       "empty file",
			req:        func() *http.Request { return uploadRequest(t, "empty.wav", nil) },
			wantStatus: http.StatusBadRequest,
			wantDetail: "Empty audio payload",
		},
		{
			name:       "too large",
			req:        func() *http.Request { return uploadRequest(t, "big.wav", mustWAV(t, speech(48000), 16000)) },
			wantStatus: http.StatusRequestEntityTooLarge,
		},
		{
			name:       "not a wav",
			req:        func() *http.Request { return uploadRequest(t, "fake.wav", []byte("definitely not audio")) },
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "wrong sample rate",
			req:        func() *http.Request { return uploadRequest(t, "cd.wav", mustWAV(t, speech(4410), 44100)) },
			wantStatus: http.StatusBadRequest,
			wantDetail: "Expected 16 kHz audio, got 44100 Hz",
		},
		{
			name:       "silence",
			req:        func() *http.Request { return uploadRequest(t, "quiet.wav", mustWAV(t, make([]int16, 16000), 16000)) },
			wantStatus: http.StatusBadRequest,
			wantDetail: "No speech detected in audio",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(tg.gateway, tt.req())
			if rec.Code != tt.wantStatus {
				t.Fatalf("Expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			body := decodeError(t, rec)
			if tt.wantDetail != "" && body.Detail != tt.wantDetail {
				t.Errorf("Expected detail %q, got %q", tt.wantDetail, body.Detail)
			}
		})
	}
}

func TestTranslateStereoIsDownmixed(t *testing.T) {
	tg := newTestGateway(t, GatewayConfig{}, factoryFor(newSet(), nil, 0), nil, true)

	rec := serve(tg.gateway, uploadRequest(t, "stereo.WAV", stereoWAV(t, speech(16000), 16000)))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestTranslateEagerNotReady(t *testing.T) {
	var calls atomic.Int32
	tg := newTestGateway(t, GatewayConfig{EagerLoad: true}, factoryFor(newSet(), &calls, 0), nil, false)

	rec := serve(tg.gateway, uploadRequest(t, "a.wav", mustWAV(t, speech(16000), 16000)))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503, got %d", rec.Code)
	}
	if calls.Load() != 0 {
		t.Error("Eager mode must not load models from a request")
	}
}

func TestTranslateLazyLoadSingleFlight(t *testing.T) {
	var calls atomic.Int32
	tg := newTestGateway(t, GatewayConfig{}, factoryFor(newSet(), &calls, 50*time.Millisecond), nil, false)
	wav := mustWAV(t, speech(16000), 16000)

	const n = 8
	codes := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = serve(tg.gateway, uploadRequest(t, "a.wav", wav)).Code
		}(i)
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("Expected exactly one load attempt, got %d", calls.Load())
	}
	for i, code := range codes {
		if code != http.StatusOK {
			t.Errorf("Request %d: expected 200, got %d", i, code)
		}
	}
}

func TestTranslateLazyLoadFailureIsRetried(t *testing.T) {
	var calls atomic.Int32
	healthy := factoryFor(newSet(), nil, 0)
	factory := func(ctx context.Context) (*models.Bundle, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("model download failed")
		}
		return healthy(ctx)
	}
	tg := newTestGateway(t, GatewayConfig{}, factory, nil, false)
	wav := mustWAV(t, speech(16000), 16000)

	rec := serve(tg.gateway, uploadRequest(t, "a.wav", wav))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503 on load failure, got %d", rec.Code)
	}
	if body := decodeError(t, rec); strings.Contains(body.Detail, "download") {
		t.Errorf("Load error leaked to the client: %q", body.Detail)
	}

	if rec := serve(tg.gateway, uploadRequest(t, "a.wav", wav)); rec.Code != http.StatusOK {
		t.Fatalf("Expected retry to succeed, got %d", rec.Code)
	}
}

func TestTranslateStageFailure(t *testing.T) {
	set := newSet()
	set.Translator = failingTranslator{}
	tg := newTestGateway(t, GatewayConfig{}, factoryFor(set, nil, 0), nil, true)

	rec := serve(tg.gateway, uploadRequest(t, "a.wav", mustWAV(t, speech(16000), 16000)))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", rec.Code)
	}
	body := decodeError(t, rec)
	if body.Code != CodeInternal || strings.Contains(body.Detail, "secret") {
		t.Errorf("Unexpected or leaking body: %+v", body)
	}
	if rec.Header().Get(HeaderRequestID) == "" {
		t.Error("Failed requests should still carry a request id")
	}
}

func TestPanicRecovery(t *testing.T) {
	loader := models.NewLoader(factoryFor(newSet(), nil, 0), 0, nil, nil)
	loader.Get(context.Background())
	g := NewGateway(GatewayConfig{MaxUploadBytes: 1 << 20, MetricsHandler: http.NotFoundHandler()}, loader, panickingProcessor{}, nil, nil, nil)

	rec := serve(g, uploadRequest(t, "a.wav", mustWAV(t, speech(16000), 16000)))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", rec.Code)
	}
	if body := decodeError(t, rec); body.Code != CodeInternal {
		t.Errorf("Expected INTERNAL code, got %+v", body)
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{E(CodeInvalidArgument, "", "bad", nil), http.StatusBadRequest},
		{E(CodeUnauthorized, "", "", nil), http.StatusUnauthorized},
		{E(CodeForbidden, "", "", nil), http.StatusForbidden},
		{E(CodeTooLarge, "", "", nil), http.StatusRequestEntityTooLarge},
		{E(CodeRateLimited, "", "", nil), http.StatusTooManyRequests},
		{E(CodeUnavailable, "", "", nil), http.StatusServiceUnavailable},
		{E(CodeInternal, "", "", nil), http.StatusInternalServerError},
		{fmt.Errorf("wrapped: %w", E(CodeForbidden, "", "", nil)), http.StatusForbidden},
		{errors.New("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := HTTPStatus(tt.err); got != tt.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}

	if !IsCode(E(CodeForbidden, "op", "msg", nil), CodeForbidden) {
		t.Error("IsCode should match")
	}
}
