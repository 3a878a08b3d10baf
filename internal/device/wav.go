package device

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/skypro1111/proximity-audio/internal/audio"
)

// WAVConfig configures the file backend
type WAVConfig struct {
	SampleRate int    // rate of recordings written by outputs
	OutputDir  string // directory receiving one WAV file per output session
	InputPath  string // recording replayed by inputs, empty means silence
}

// WAVBackend plays into WAV files and captures from a WAV recording. Input
// replays the recording in real time and then delivers silence.
type WAVBackend struct {
	config WAVConfig

	mu         sync.Mutex
	inputOpen  bool
	outputOpen bool
	lastOutput string
}

// NewWAVBackend creates a file backend
func NewWAVBackend(config WAVConfig) (*WAVBackend, error) {
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}
	if config.OutputDir == "" {
		config.OutputDir = "."
	}
	return &WAVBackend{config: config}, nil
}

func (b *WAVBackend) Name() string {
	return "wav"
}

func (b *WAVBackend) SampleRate() int {
	return b.config.SampleRate
}

// LastOutput returns the path of the most recently written recording
func (b *WAVBackend) LastOutput() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastOutput
}

func (b *WAVBackend) OpenOutput() (Output, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.outputOpen {
		return nil, &HardwareError{Device: b.Name(), Op: "open_output", Err: ErrDeviceBusy}
	}
	if err := os.MkdirAll(b.config.OutputDir, 0o755); err != nil {
		return nil, &HardwareError{Device: b.Name(), Op: "open_output", Err: err}
	}
	b.outputOpen = true

	name := fmt.Sprintf("emit-%s.wav", time.Now().UTC().Format("20060102T150405.000000000"))
	return &wavOutput{backend: b, path: filepath.Join(b.config.OutputDir, name)}, nil
}

func (b *WAVBackend) OpenInput() (Input, error) {
	var samples []float32
	if b.config.InputPath != "" {
		f, err := os.Open(b.config.InputPath)
		if err != nil {
			return nil, &HardwareError{Device: b.Name(), Op: "open_input", Err: err}
		}
		defer f.Close()

		var rate int
		samples, rate, err = audio.ReadWAV(f)
		if err != nil {
			return nil, &HardwareError{Device: b.Name(), Op: "open_input", Err: err}
		}
		if rate != b.config.SampleRate {
			return nil, &HardwareError{Device: b.Name(), Op: "open_input",
				Err: fmt.Errorf("recording is %d Hz, backend runs at %d Hz", rate, b.config.SampleRate)}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inputOpen {
		return nil, &HardwareError{Device: b.Name(), Op: "open_input", Err: ErrDeviceBusy}
	}
	b.inputOpen = true

	return &wavInput{backend: b, samples: samples, started: time.Now()}, nil
}

type wavOutput struct {
	backend *WAVBackend
	path    string
	samples []float32
	closed  bool
	mu      sync.Mutex
}

func (o *wavOutput) Write(ctx context.Context, samples []float32) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	o.samples = append(o.samples, samples...)
	return nil
}

// Drain writes the recording to disk
func (o *wavOutput) Drain(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return o.flush()
}

func (o *wavOutput) flush() error {
	f, err := os.Create(o.path)
	if err != nil {
		return &HardwareError{Device: o.backend.Name(), Op: "drain", Err: err}
	}

	if err := audio.WriteWAV(f, o.samples, o.backend.config.SampleRate); err != nil {
		f.Close()
		return &HardwareError{Device: o.backend.Name(), Op: "drain", Err: err}
	}
	if err := f.Close(); err != nil {
		return &HardwareError{Device: o.backend.Name(), Op: "drain", Err: err}
	}

	o.backend.mu.Lock()
	o.backend.lastOutput = o.path
	o.backend.mu.Unlock()

	return nil
}

func (o *wavOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil
	}
	o.closed = true

	o.backend.mu.Lock()
	o.backend.outputOpen = false
	o.backend.mu.Unlock()

	return nil
}

type wavInput struct {
	backend *WAVBackend
	samples []float32
	pos     int64
	started time.Time
	closed  bool
	mu      sync.Mutex
}

// Read delivers the next len(buf) samples of the recording at wall-clock pace
func (in *wavInput) Read(ctx context.Context, buf []float32) (int, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.closed {
		return 0, ErrClosed
	}

	end := in.pos + int64(len(buf))
	rate := float64(in.backend.config.SampleRate)
	due := in.started.Add(time.Duration(float64(end) / rate * float64(time.Second)))
	if err := sleepUntil(ctx, due); err != nil {
		return 0, err
	}

	for i := range buf {
		idx := in.pos + int64(i)
		if idx < int64(len(in.samples)) {
			buf[i] = in.samples[idx]
		} else {
			buf[i] = 0
		}
	}
	in.pos = end

	return len(buf), nil
}

func (in *wavInput) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.closed {
		return nil
	}
	in.closed = true

	in.backend.mu.Lock()
	in.backend.inputOpen = false
	in.backend.mu.Unlock()

	return nil
}
