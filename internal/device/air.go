package device

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// AirConfig controls the simulated acoustic medium
type AirConfig struct {
	SampleRate int           // samples per second shared by every endpoint
	NoiseLevel float64       // standard deviation of additive Gaussian noise at each microphone
	DropEvery  int           // drop every Nth capture buffer per input, 0 disables
	Retention  time.Duration // how much past audio the medium keeps
	Seed       int64         // noise seed, 0 picks one from the clock
}

// DefaultAirConfig returns a quiet room at 48 kHz
func DefaultAirConfig() AirConfig {
	return AirConfig{
		SampleRate: 48000,
		NoiseLevel: 0.005,
		Retention:  2 * time.Second,
	}
}

// Air is an in-process acoustic medium. Every output mixes into one shared
// tape indexed by wall-clock sample position and every input hears the tape
// plus its own noise. Playback and capture are paced in real time.
type Air struct {
	config AirConfig
	base   time.Time

	mu        sync.Mutex
	tape      []float32
	tapeStart int64 // sample position of tape[0]
	seeds     int64
	endpoints map[string]*Endpoint
}

// NewAir creates an empty medium
func NewAir(config AirConfig) (*Air, error) {
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}
	if config.NoiseLevel < 0 {
		return nil, fmt.Errorf("noise level cannot be negative, got %f", config.NoiseLevel)
	}
	if config.DropEvery < 0 {
		return nil, fmt.Errorf("drop_every cannot be negative, got %d", config.DropEvery)
	}
	if config.Retention <= 0 {
		config.Retention = 2 * time.Second
	}
	if config.Seed == 0 {
		config.Seed = time.Now().UnixNano()
	}

	return &Air{
		config:    config,
		base:      time.Now(),
		seeds:     config.Seed,
		endpoints: make(map[string]*Endpoint),
	}, nil
}

// Endpoint returns the named simulated device, creating it on first use
func (a *Air) Endpoint(name string) *Endpoint {
	a.mu.Lock()
	defer a.mu.Unlock()

	if ep, ok := a.endpoints[name]; ok {
		return ep
	}
	ep := &Endpoint{air: a, name: name}
	a.endpoints[name] = ep
	return ep
}

// SampleRate returns the medium sample rate
func (a *Air) SampleRate() int {
	return a.config.SampleRate
}

// position returns the current wall-clock sample position
func (a *Air) position() int64 {
	return int64(time.Since(a.base).Seconds() * float64(a.config.SampleRate))
}

// timeOf returns the wall-clock instant of a sample position
func (a *Air) timeOf(pos int64) time.Time {
	return a.base.Add(time.Duration(float64(pos) / float64(a.config.SampleRate) * float64(time.Second)))
}

// mix adds samples into the tape starting at pos. Caller holds a.mu.
func (a *Air) mix(pos int64, samples []float32) {
	end := pos + int64(len(samples))
	if need := end - a.tapeStart - int64(len(a.tape)); need > 0 {
		a.tape = append(a.tape, make([]float32, need)...)
	}
	for i, s := range samples {
		idx := pos + int64(i) - a.tapeStart
		if idx >= 0 {
			a.tape[idx] += s
		}
	}
}

// trim forgets audio older than the retention window. Caller holds a.mu.
func (a *Air) trim(now int64) {
	keep := int64(a.config.Retention.Seconds() * float64(a.config.SampleRate))
	cut := now - keep - a.tapeStart
	if cut <= 0 {
		return
	}
	if len(a.tape) == 0 {
		a.tapeStart += cut
		return
	}
	if cut >= int64(len(a.tape)) {
		a.tape = a.tape[:0]
	} else {
		a.tape = append(a.tape[:0], a.tape[cut:]...)
	}
	a.tapeStart += cut
}

// capture copies tape[pos:pos+len(dst)] into dst. Caller holds a.mu.
func (a *Air) capture(pos int64, dst []float32) {
	for i := range dst {
		idx := pos + int64(i) - a.tapeStart
		if idx >= 0 && idx < int64(len(a.tape)) {
			dst[i] = a.tape[idx]
		} else {
			dst[i] = 0
		}
	}
}

func (a *Air) nextSeed() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seeds++
	return a.seeds
}

// Endpoint is one simulated device on the medium with one speaker and one
// microphone. It implements Backend.
type Endpoint struct {
	air  *Air
	name string

	mu          sync.Mutex
	inputOpen   bool
	outputOpen  bool
	unavailable bool
	fault       error
}

// Name returns the endpoint name
func (e *Endpoint) Name() string {
	return e.name
}

// SampleRate returns the medium sample rate
func (e *Endpoint) SampleRate() int {
	return e.air.config.SampleRate
}

// SetUnavailable makes subsequent opens fail with ErrDeviceUnavailable
func (e *Endpoint) SetUnavailable(unavailable bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unavailable = unavailable
}

// InjectFault makes the next read or write on an open handle fail with err
func (e *Endpoint) InjectFault(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fault = err
}

// takeFault returns and clears a pending injected fault
func (e *Endpoint) takeFault() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	err := e.fault
	e.fault = nil
	return err
}

// OpenOutput acquires the endpoint speaker
func (e *Endpoint) OpenOutput() (Output, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.unavailable {
		return nil, &HardwareError{Device: e.name, Op: "open_output", Err: ErrDeviceUnavailable}
	}
	if e.outputOpen {
		return nil, &HardwareError{Device: e.name, Op: "open_output", Err: ErrDeviceBusy}
	}
	e.outputOpen = true

	return &airOutput{ep: e}, nil
}

// OpenInput acquires the endpoint microphone. Capture starts at the current
// instant; earlier audio is not heard.
func (e *Endpoint) OpenInput() (Input, error) {
	e.mu.Lock()
	if e.unavailable {
		e.mu.Unlock()
		return nil, &HardwareError{Device: e.name, Op: "open_input", Err: ErrDeviceUnavailable}
	}
	if e.inputOpen {
		e.mu.Unlock()
		return nil, &HardwareError{Device: e.name, Op: "open_input", Err: ErrDeviceBusy}
	}
	e.inputOpen = true
	e.mu.Unlock()

	return &airInput{
		ep:     e,
		cursor: e.air.position(),
		rng:    rand.New(rand.NewSource(e.air.nextSeed())),
	}, nil
}

// InputOpen reports whether the microphone is currently held
func (e *Endpoint) InputOpen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inputOpen
}

// OutputOpen reports whether the speaker is currently held
func (e *Endpoint) OutputOpen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.outputOpen
}

type airOutput struct {
	ep     *Endpoint
	cursor int64 // next sample position to write
	closed bool
	mu     sync.Mutex
}

// Write mixes samples into the medium and blocks until playback of this
// chunk has started, keeping at most one chunk queued ahead
func (o *airOutput) Write(ctx context.Context, samples []float32) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrClosed
	}
	if err := o.ep.takeFault(); err != nil {
		return &HardwareError{Device: o.ep.name, Op: "write", Err: err}
	}

	air := o.ep.air
	air.mu.Lock()
	now := air.position()
	start := o.cursor
	if start < now {
		start = now
	}
	air.trim(now)
	air.mix(start, samples)
	o.cursor = start + int64(len(samples))
	air.mu.Unlock()

	return sleepUntil(ctx, air.timeOf(start))
}

// Drain blocks until everything written has been played
func (o *airOutput) Drain(ctx context.Context) error {
	o.mu.Lock()
	cursor := o.cursor
	closed := o.closed
	o.mu.Unlock()

	if closed {
		return ErrClosed
	}
	return sleepUntil(ctx, o.ep.air.timeOf(cursor))
}

func (o *airOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil
	}
	o.closed = true

	o.ep.mu.Lock()
	o.ep.outputOpen = false
	o.ep.mu.Unlock()

	return nil
}

type airInput struct {
	ep     *Endpoint
	cursor int64 // next sample position to capture
	reads  uint64
	rng    *rand.Rand
	closed bool
	mu     sync.Mutex
}

// Read waits until len(buf) samples past the cursor have elapsed, then
// captures them with microphone noise
func (in *airInput) Read(ctx context.Context, buf []float32) (int, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.closed {
		return 0, ErrClosed
	}

	air := in.ep.air
	end := in.cursor + int64(len(buf))
	if err := sleepUntil(ctx, air.timeOf(end)); err != nil {
		return 0, err
	}

	if err := in.ep.takeFault(); err != nil {
		return 0, &HardwareError{Device: in.ep.name, Op: "read", Err: err}
	}

	in.reads++
	air.mu.Lock()
	air.trim(air.position())
	overrun := in.cursor < air.tapeStart && len(air.tape) > 0
	if overrun {
		in.cursor = air.tapeStart
		air.mu.Unlock()
		return 0, ErrBufferDropped
	}
	air.capture(in.cursor, buf)
	air.mu.Unlock()
	in.cursor = end

	if every := air.config.DropEvery; every > 0 && in.reads%uint64(every) == 0 {
		return 0, ErrBufferDropped
	}

	if sigma := air.config.NoiseLevel; sigma > 0 {
		for i := range buf {
			buf[i] += float32(in.rng.NormFloat64() * sigma)
		}
	}

	return len(buf), nil
}

func (in *airInput) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.closed {
		return nil
	}
	in.closed = true

	in.ep.mu.Lock()
	in.ep.inputOpen = false
	in.ep.mu.Unlock()

	return nil
}

// sleepUntil blocks until t or until ctx is done
func sleepUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
