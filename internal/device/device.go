package device

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrDeviceBusy        = errors.New("device already in use")
	ErrDeviceUnavailable = errors.New("device unavailable")
	ErrBufferDropped     = errors.New("capture buffer dropped")
	ErrClosed            = errors.New("device handle closed")
)

// Output is an exclusive handle on a speaker
type Output interface {
	// Write queues samples for playback, blocking while the device queue is full
	Write(ctx context.Context, samples []float32) error
	// Drain blocks until every queued sample has been played
	Drain(ctx context.Context) error
	Close() error
}

// Input is an exclusive handle on a microphone
type Input interface {
	// Read blocks until buf is filled with captured samples. ErrBufferDropped
	// reports a lost buffer; the next Read continues after the gap.
	Read(ctx context.Context, buf []float32) (int, error)
	Close() error
}

// Backend opens device handles. A second open of the same direction while a
// handle is held fails with ErrDeviceBusy.
type Backend interface {
	Name() string
	SampleRate() int
	OpenOutput() (Output, error)
	OpenInput() (Input, error)
}

// HardwareError reports a failure of the audio hardware or its driver
type HardwareError struct {
	Device string // backend or endpoint name
	Op     string // open_input, open_output, read, write, drain
	Err    error
}

func (e *HardwareError) Error() string {
	return fmt.Sprintf("audio device %s: %s: %v", e.Device, e.Op, e.Err)
}

func (e *HardwareError) Unwrap() error {
	return e.Err
}

// WrapHardware wraps err as a HardwareError unless it is nil, a context
// error or already a HardwareError
func WrapHardware(device, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var hwErr *HardwareError
	if errors.As(err, &hwErr) {
		return err
	}
	return &HardwareError{Device: device, Op: op, Err: err}
}

// IsHardware reports whether err is or wraps a HardwareError
func IsHardware(err error) bool {
	var hwErr *HardwareError
	return errors.As(err, &hwErr)
}
