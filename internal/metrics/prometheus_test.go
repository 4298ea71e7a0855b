package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordStage(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordStage("transcription", "", 0.2)
	m.RecordStage("transcription", "TIMEOUT", 1.0)
	m.RecordStage("translation", "ENGINE", 0.1)

	if got := testutil.ToFloat64(m.StageFailures.WithLabelValues("transcription", "TIMEOUT")); got != 1 {
		t.Errorf("Expected 1 transcription timeout, got %v", got)
	}
	if got := testutil.ToFloat64(m.StageFailures.WithLabelValues("translation", "ENGINE")); got != 1 {
		t.Errorf("Expected 1 translation failure, got %v", got)
	}
}

func TestRecordModelLoad(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordModelLoad(false, 0.5)
	m.RecordModelLoad(true, 1.5)

	if got := testutil.ToFloat64(m.ModelLoads.WithLabelValues("success")); got != 1 {
		t.Errorf("Expected 1 successful load, got %v", got)
	}
	if got := testutil.ToFloat64(m.ModelLoads.WithLabelValues("failure")); got != 1 {
		t.Errorf("Expected 1 failed load, got %v", got)
	}
}

func TestSetRunning(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.SetRunning(true)
	if got := testutil.ToFloat64(m.Running); got != 1 {
		t.Errorf("Expected running gauge 1, got %v", got)
	}
	m.SetRunning(false)
	if got := testutil.ToFloat64(m.Running); got != 0 {
		t.Errorf("Expected running gauge 0, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	m.RecordChunkCaptured()
	m.RecordChunkSkipped("silence")
	m.RecordStage("synthesis", "ENGINE", 0.1)
	m.RecordUtterance(1.0, 22050)
	m.RecordHTTPRequest("GET", "/health", "200", 0.001)
	m.RecordRateLimited()
}
