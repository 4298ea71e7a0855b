package audio

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

func sineWave(sampleRate int, seconds, frequency, amplitude float64) []int16 {
	numSamples := int(float64(sampleRate) * seconds)
	samples := make([]int16, numSamples)
	for i := range samples {
		t := float64(i) / float64(sampleRate)
		samples[i] = int16(amplitude * math.Sin(2*math.Pi*frequency*t))
	}
	return samples
}

func TestEncodeDecodeWAV(t *testing.T) {
	samples := sineWave(16000, 0.1, 440, 16383)

	wavData, err := EncodeWAV(samples, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	expectedSize := 44 + len(samples)*2
	if len(wavData) != expectedSize {
		t.Errorf("Expected WAV size %d, got %d", expectedSize, len(wavData))
	}

	decoded, info, err := DecodeWAV(wavData)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}

	if info.SampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", info.SampleRate)
	}
	if info.Channels != 1 {
		t.Errorf("Expected 1 channel, got %d", info.Channels)
	}
	if info.NumFrames != len(samples) {
		t.Errorf("Expected %d frames, got %d", len(samples), info.NumFrames)
	}
	if math.Abs(info.Duration-0.1) > 0.001 {
		t.Errorf("Expected duration ~0.1s, got %f", info.Duration)
	}

	for i := range samples {
		if decoded[i] != samples[i] {
			t.Fatalf("Sample %d mismatch: expected %d, got %d", i, samples[i], decoded[i])
		}
	}
}

func TestEncodeWAVErrors(t *testing.T) {
	if _, err := EncodeWAV(nil, 16000); err == nil {
		t.Error("Expected error for empty samples")
	}
	if _, err := EncodeWAV([]int16{1, 2}, 0); err == nil {
		t.Error("Expected error for zero sample rate")
	}
}

// insertChunk places an extra RIFF chunk between "fmt " and "data".
func insertChunk(wav []byte, id string, body []byte) []byte {
	extra := make([]byte, 8+len(body))
	copy(extra, id)
	binary.LittleEndian.PutUint32(extra[4:8], uint32(len(body)))
	copy(extra[8:], body)

	out := make([]byte, 0, len(wav)+len(extra))
	out = append(out, wav[:36]...)
	out = append(out, extra...)
	out = append(out, wav[36:]...)
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(out)-8))
	return out
}

func TestDecodeWAVSkipsUnknownChunks(t *testing.T) {
	samples := []int16{100, -100, 200, -200}
	wavData, err := EncodeWAV(samples, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	withList := insertChunk(wavData, "LIST", []byte("INFOsoft"))

	decoded, _, err := DecodeWAV(withList)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if len(decoded) != len(samples) || decoded[3] != -200 {
		t.Errorf("Unexpected samples after LIST chunk: %v", decoded)
	}
}

func TestDecodeStereoDownmix(t *testing.T) {
	wavData, err := EncodeWAV([]int16{100, 300, -100, -300}, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	// Rewrite the header as a 2-channel file with one frame pair.
	binary.LittleEndian.PutUint16(wavData[22:24], 2)
	binary.LittleEndian.PutUint16(wavData[32:34], 4)

	mono, info, err := DecodeMonoWAV(wavData)
	if err != nil {
		t.Fatalf("DecodeMonoWAV failed: %v", err)
	}
	if info.Channels != 2 {
		t.Errorf("Expected 2 channels, got %d", info.Channels)
	}
	if len(mono) != 2 || mono[0] != 200 || mono[1] != -200 {
		t.Errorf("Expected downmixed [200 -200], got %v", mono)
	}
}

func TestDecodeWAVInvalid(t *testing.T) {
	valid, err := EncodeWAV([]int16{1, 2, 3}, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	eightBit := append([]byte(nil), valid...)
	binary.LittleEndian.PutUint16(eightBit[34:36], 8)

	float := append([]byte(nil), valid...)
	binary.LittleEndian.PutUint16(float[20:22], 3)

	noData := append([]byte(nil), valid[:36]...)

	tests := []struct {
		name string
		data []byte
	}{
		{"too short", []byte("RIFF")},
		{"not riff", append([]byte("RIFX"), valid[4:]...)},
		{"not wave", append(append([]byte(nil), valid[:8]...), append([]byte("AVI "), valid[12:]...)...)},
		{"8-bit samples", eightBit},
		{"float format", float},
		{"missing data chunk", noData},
		{"empty data chunk", valid[:44]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeWAV(tt.data)
			if err == nil {
				t.Fatal("Expected error but got none")
			}
			if !errors.Is(err, ErrInvalidWAV) {
				t.Errorf("Expected ErrInvalidWAV, got %v", err)
			}
		})
	}
}
