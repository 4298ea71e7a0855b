package vad

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/naipunyaailabs/sts/internal/audio"
)

// Detector is an energy based voice activity detector. A buffer counts as
// voiced when any window's RMS level reaches the silence threshold.
// Classification depends only on the configuration, so one detector may be
// shared by concurrent callers; the statistics are atomic counters.
type Detector struct {
	silenceThreshold float64 // RMS, fraction of full scale
	energyGate       float64 // peak, fraction of full scale
	windowSize       int     // samples per analysis window

	// Statistics
	totalBuffers  atomic.Uint64
	voiceBuffers  atomic.Uint64
	gatedBuffers  atomic.Uint64
	lastProcessed atomic.Int64 // unix nanoseconds, 0 when unset
}

// Result describes the levels measured for one buffer
type Result struct {
	Peak       float64       `json:"peak"`
	RMS        float64       `json:"rms"`
	MaxWindow  float64       `json:"max_window_rms"`
	HasVoice   bool          `json:"has_voice"`
	Duration   time.Duration `json:"duration"`
	AnalysedAt time.Time     `json:"analysed_at"`
}

// DetectorStats represents detector statistics
type DetectorStats struct {
	TotalBuffers     uint64    `json:"total_buffers"`
	VoiceBuffers     uint64    `json:"voice_buffers"`
	GatedBuffers     uint64    `json:"gated_buffers"`
	VoicePercentage  float64   `json:"voice_percentage"`
	LastProcessed    time.Time `json:"last_processed"`
	SilenceThreshold float64   `json:"silence_threshold"`
	EnergyGate       float64   `json:"energy_gate"`
}

// NewDetector creates a detector. windowSize is the analysis window in samples
// (480 is 30ms at 16 kHz).
func NewDetector(silenceThreshold, energyGate float64, windowSize int) (*Detector, error) {
	if silenceThreshold < 0 || silenceThreshold >= 1 {
		return nil, fmt.Errorf("silence threshold must be in [0, 1), got %f", silenceThreshold)
	}

	if energyGate < 0 || energyGate >= 1 {
		return nil, fmt.Errorf("energy gate must be in [0, 1), got %f", energyGate)
	}

	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", windowSize)
	}

	return &Detector{
		silenceThreshold: silenceThreshold,
		energyGate:       energyGate,
		windowSize:       windowSize,
	}, nil
}

// Analyze measures the levels of samples at sampleRate
func (d *Detector) Analyze(samples []int16, sampleRate int) Result {
	result := Result{
		Peak:       audio.Peak(samples),
		RMS:        audio.RMS(samples),
		Duration:   audio.Duration(len(samples), sampleRate),
		AnalysedAt: time.Now(),
	}

	for start := 0; start < len(samples); start += d.windowSize {
		end := start + d.windowSize
		if end > len(samples) {
			end = len(samples)
		}
		if level := audio.RMS(samples[start:end]); level > result.MaxWindow {
			result.MaxWindow = level
		}
	}
	result.HasVoice = len(samples) > 0 && result.MaxWindow >= d.silenceThreshold && result.MaxWindow > 0

	d.totalBuffers.Add(1)
	if result.HasVoice {
		d.voiceBuffers.Add(1)
	}
	d.lastProcessed.Store(result.AnalysedAt.UnixNano())

	return result
}

// IsSilent reports whether samples are empty or contain no voiced window
func (d *Detector) IsSilent(samples []int16) bool {
	return !d.Analyze(samples, 0).HasVoice
}

// PassesGate reports whether the peak level of samples reaches the energy
// gate. Chunks below the gate are dropped before transcription.
func (d *Detector) PassesGate(samples []int16) bool {
	pass := len(samples) > 0 && audio.Peak(samples) >= d.energyGate
	if !pass {
		d.gatedBuffers.Add(1)
	}
	return pass
}

// GetStats returns current detector statistics
func (d *Detector) GetStats() DetectorStats {
	total := d.totalBuffers.Load()
	voice := d.voiceBuffers.Load()

	voicePercentage := float64(0)
	if total > 0 {
		voicePercentage = float64(voice) / float64(total) * 100
	}

	var lastProcessed time.Time
	if ns := d.lastProcessed.Load(); ns != 0 {
		lastProcessed = time.Unix(0, ns)
	}

	return DetectorStats{
		TotalBuffers:     total,
		VoiceBuffers:     voice,
		GatedBuffers:     d.gatedBuffers.Load(),
		VoicePercentage:  voicePercentage,
		LastProcessed:    lastProcessed,
		SilenceThreshold: d.silenceThreshold,
		EnergyGate:       d.energyGate,
	}
}

// Reset clears the statistics
func (d *Detector) Reset() {
	d.totalBuffers.Store(0)
	d.voiceBuffers.Store(0)
	d.gatedBuffers.Store(0)
	d.lastProcessed.Store(0)
}
