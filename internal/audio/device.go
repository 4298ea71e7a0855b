package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"
)

var (
	paMu   sync.Mutex
	paRefs int
)

// acquirePortAudio initializes the PortAudio library on first use.
func acquirePortAudio() error {
	paMu.Lock()
	defer paMu.Unlock()

	if paRefs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return err
		}
	}
	paRefs++
	return nil
}

// releasePortAudio terminates the PortAudio library after the last user.
func releasePortAudio() {
	paMu.Lock()
	defer paMu.Unlock()

	if paRefs == 0 {
		return
	}
	paRefs--
	if paRefs == 0 {
		portaudio.Terminate()
	}
}

// findDevice returns the first device whose name contains name and which has
// channels in the requested direction, or the default device when name is
// empty.
func findDevice(name string, input bool) (*portaudio.DeviceInfo, error) {
	if name == "" {
		if input {
			return portaudio.DefaultInputDevice()
		}
		return portaudio.DefaultOutputDevice()
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(name)
	for _, dev := range devices {
		if input && dev.MaxInputChannels < 1 {
			continue
		}
		if !input && dev.MaxOutputChannels < 1 {
			continue
		}
		if strings.Contains(strings.ToLower(dev.Name), needle) {
			return dev, nil
		}
	}

	return nil, fmt.Errorf("no device matching %q", name)
}

// DeviceSource captures mono 16-bit PCM from a PortAudio input device.
type DeviceSource struct {
	mu      sync.Mutex
	name    string
	stream  *portaudio.Stream
	frame   []int16
	pending []int16
	rate    int
	closed  bool
}

// OpenDevice opens and starts the named input device (empty selects the
// system default). Failures are reported as *DeviceError.
func OpenDevice(name string, sampleRate, framesPerBuffer int) (*DeviceSource, error) {
	if err := acquirePortAudio(); err != nil {
		return nil, &DeviceError{Device: name, Err: err}
	}

	dev, err := findDevice(name, true)
	if err != nil {
		releasePortAudio()
		return nil, &DeviceError{Device: name, Err: err}
	}

	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = 1
	params.SampleRate = float64(sampleRate)
	params.FramesPerBuffer = framesPerBuffer

	frame := make([]int16, framesPerBuffer)
	stream, err := portaudio.OpenStream(params, frame)
	if err != nil {
		releasePortAudio()
		return nil, &DeviceError{Device: dev.Name, Err: err}
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		releasePortAudio()
		return nil, &DeviceError{Device: dev.Name, Err: err}
	}

	return &DeviceSource{
		name:   dev.Name,
		stream: stream,
		frame:  frame,
		rate:   sampleRate,
	}, nil
}

// Read blocks until one device buffer has been captured and copies as much of
// it as fits into buf.
func (d *DeviceSource) Read(buf []int16) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return 0, io.EOF
	}

	if len(d.pending) == 0 {
		if err := d.stream.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
			return 0, &DeviceError{Device: d.name, Err: err}
		}
		d.pending = d.frame
	}

	n := copy(buf, d.pending)
	d.pending = d.pending[n:]
	return n, nil
}

// SampleRate returns the capture rate
func (d *DeviceSource) SampleRate() int {
	return d.rate
}

// Name returns the resolved device name
func (d *DeviceSource) Name() string {
	return d.name
}

// Close stops the stream and releases the device. It is safe to call more
// than once.
func (d *DeviceSource) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	stopErr := d.stream.Stop()
	closeErr := d.stream.Close()
	releasePortAudio()

	return errors.Join(stopErr, closeErr)
}

// Player writes mono 16-bit PCM to a PortAudio output device.
type Player struct {
	mu     sync.Mutex
	name   string
	stream *portaudio.Stream
	frame  []int16
	rate   int
	closed bool
}

// OpenPlayer opens and starts the named output device (empty selects the
// system default). Failures are reported as *DeviceError.
func OpenPlayer(name string, sampleRate, framesPerBuffer int) (*Player, error) {
	if err := acquirePortAudio(); err != nil {
		return nil, &DeviceError{Device: name, Err: err}
	}

	dev, err := findDevice(name, false)
	if err != nil {
		releasePortAudio()
		return nil, &DeviceError{Device: name, Err: err}
	}

	params := portaudio.LowLatencyParameters(nil, dev)
	params.Output.Channels = 1
	params.SampleRate = float64(sampleRate)
	params.FramesPerBuffer = framesPerBuffer

	frame := make([]int16, framesPerBuffer)
	stream, err := portaudio.OpenStream(params, frame)
	if err != nil {
		releasePortAudio()
		return nil, &DeviceError{Device: dev.Name, Err: err}
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		releasePortAudio()
		return nil, &DeviceError{Device: dev.Name, Err: err}
	}

	return &Player{
		name:   dev.Name,
		stream: stream,
		frame:  frame,
		rate:   sampleRate,
	}, nil
}

// Play blocks until samples have been handed to the device or ctx is done.
// Samples at a different rate are resampled first.
func (p *Player) Play(ctx context.Context, samples []int16, sampleRate int) error {
	if sampleRate != p.rate {
		samples = Resample(samples, sampleRate, p.rate)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return &DeviceError{Device: p.name, Err: errors.New("player closed")}
	}

	for off := 0; off < len(samples); off += len(p.frame) {
		if err := ctx.Err(); err != nil {
			return err
		}

		n := copy(p.frame, samples[off:])
		clear(p.frame[n:])

		if err := p.stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			return &DeviceError{Device: p.name, Err: err}
		}
	}

	return nil
}

// Close stops the stream and releases the device
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	stopErr := p.stream.Stop()
	closeErr := p.stream.Close()
	releasePortAudio()

	return errors.Join(stopErr, closeErr)
}
