package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrInvalidWAV is wrapped by every decoding error caused by malformed input.
var ErrInvalidWAV = errors.New("invalid WAV data")

const (
	riffHeaderSize  = 12
	chunkHeaderSize = 8
	pcmFormat       = 1
	extensibleFmt   = 0xFFFE
)

// WAVHeader is the canonical 44-byte header written by EncodeWAV
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// WAVInfo describes the format of a decoded WAV payload
type WAVInfo struct {
	SampleRate    int     `json:"sample_rate"`
	Channels      int     `json:"channels"`
	BitsPerSample int     `json:"bits_per_sample"`
	NumFrames     int     `json:"num_frames"`
	Duration      float64 `json:"duration_seconds"`
}

// EncodeWAV encodes mono PCM-16 samples into WAV format
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	numChannels := uint16(1)
	bitsPerSample := uint16(16)
	dataSize := uint32(len(samples) * 2)

	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   pcmFormat,
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(numChannels) * uint32(bitsPerSample) / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(samples)*2))

	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	return buf.Bytes(), nil
}

// DecodeWAV decodes a 16-bit PCM WAV payload. Samples are returned interleaved
// when the file has more than one channel; see Downmix. Chunks other than
// "fmt " and "data" (LIST, fact, ...) are skipped.
func DecodeWAV(data []byte) ([]int16, *WAVInfo, error) {
	if len(data) < riffHeaderSize {
		return nil, nil, fmt.Errorf("%w: need at least %d bytes, got %d", ErrInvalidWAV, riffHeaderSize, len(data))
	}

	if string(data[0:4]) != "RIFF" {
		return nil, nil, fmt.Errorf("%w: missing RIFF header", ErrInvalidWAV)
	}

	if string(data[8:12]) != "WAVE" {
		return nil, nil, fmt.Errorf("%w: missing WAVE format", ErrInvalidWAV)
	}

	var (
		info    *WAVInfo
		payload []byte
	)

	for offset := riffHeaderSize; offset+chunkHeaderSize <= len(data); {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + chunkHeaderSize
		end := body + size
		if size < 0 || end > len(data) {
			// Streaming writers leave a zero or oversized data length behind.
			if id == "data" {
				end = len(data)
			} else {
				return nil, nil, fmt.Errorf("%w: chunk %q overruns payload", ErrInvalidWAV, id)
			}
		}

		switch id {
		case "fmt ":
			parsed, err := parseFmtChunk(data[body:end])
			if err != nil {
				return nil, nil, err
			}
			info = parsed
		case "data":
			payload = data[body:end]
		}

		// Chunks are word aligned.
		offset = end + (end-body)%2
		if payload != nil && info != nil {
			break
		}
	}

	if info == nil {
		return nil, nil, fmt.Errorf("%w: missing fmt chunk", ErrInvalidWAV)
	}

	if payload == nil {
		return nil, nil, fmt.Errorf("%w: missing data chunk", ErrInvalidWAV)
	}

	frameBytes := info.Channels * 2
	numFrames := len(payload) / frameBytes
	if numFrames == 0 {
		return nil, nil, fmt.Errorf("%w: no audio data found", ErrInvalidWAV)
	}

	samples := make([]int16, numFrames*info.Channels)
	if err := binary.Read(bytes.NewReader(payload[:numFrames*frameBytes]), binary.LittleEndian, samples); err != nil {
		return nil, nil, fmt.Errorf("failed to read audio samples: %w", err)
	}

	info.NumFrames = numFrames
	info.Duration = float64(numFrames) / float64(info.SampleRate)

	return samples, info, nil
}

func parseFmtChunk(body []byte) (*WAVInfo, error) {
	if len(body) < 16 {
		return nil, fmt.Errorf("%w: fmt chunk too short (%d bytes)", ErrInvalidWAV, len(body))
	}

	format := binary.LittleEndian.Uint16(body[0:2])
	channels := int(binary.LittleEndian.Uint16(body[2:4]))
	sampleRate := int(binary.LittleEndian.Uint32(body[4:8]))
	bits := int(binary.LittleEndian.Uint16(body[14:16]))

	if format != pcmFormat && format != extensibleFmt {
		return nil, fmt.Errorf("%w: unsupported audio format %d (only PCM is supported)", ErrInvalidWAV, format)
	}

	if bits != 16 {
		return nil, fmt.Errorf("%w: unsupported bit depth %d (only 16-bit is supported)", ErrInvalidWAV, bits)
	}

	if channels < 1 {
		return nil, fmt.Errorf("%w: invalid channel count %d", ErrInvalidWAV, channels)
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: invalid sample rate %d", ErrInvalidWAV, sampleRate)
	}

	return &WAVInfo{
		SampleRate:    sampleRate,
		Channels:      channels,
		BitsPerSample: bits,
	}, nil
}

// DecodeMonoWAV decodes a WAV payload and averages all channels into one.
func DecodeMonoWAV(data []byte) ([]int16, *WAVInfo, error) {
	samples, info, err := DecodeWAV(data)
	if err != nil {
		return nil, nil, err
	}
	return Downmix(samples, info.Channels), info, nil
}

// Downmix averages interleaved channels into a single mono channel.
func Downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}

	frames := len(samples) / channels
	mono := make([]int16, frames)
	for i := 0; i < frames; i++ {
		var sum int
		for ch := 0; ch < channels; ch++ {
			sum += int(samples[i*channels+ch])
		}
		mono[i] = int16(sum / channels)
	}
	return mono
}
