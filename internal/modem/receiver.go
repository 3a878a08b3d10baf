package modem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/skypro1111/proximity-audio/internal/audio"
	"github.com/skypro1111/proximity-audio/internal/device"
	"github.com/skypro1111/proximity-audio/internal/metrics"
	"github.com/skypro1111/proximity-audio/internal/protocol"
)

// ReceiverConfig contains configuration for the receive loop
type ReceiverConfig struct {
	Modem             audio.ModemConfig
	BufferBlocks      int           // detection blocks per device read
	MaxBufferedBlocks int           // capture backlog before the oldest audio is dropped
	FrameStallTimeout time.Duration // partial frame discarded after this long without a symbol
}

// DefaultReceiverConfig returns a 10ms read period and a 500ms stall timeout
func DefaultReceiverConfig() ReceiverConfig {
	return ReceiverConfig{
		Modem:             audio.DefaultModemConfig(),
		BufferBlocks:      2,
		MaxBufferedBlocks: 64,
		FrameStallTimeout: 500 * time.Millisecond,
	}
}

// Validate checks the receiver configuration
func (c ReceiverConfig) Validate() error {
	if err := c.Modem.Validate(); err != nil {
		return err
	}
	if c.BufferBlocks <= 0 {
		return fmt.Errorf("buffer_blocks must be positive, got %d", c.BufferBlocks)
	}
	if c.MaxBufferedBlocks < c.BufferBlocks {
		return fmt.Errorf("max_buffered_blocks (%d) must be at least buffer_blocks (%d)",
			c.MaxBufferedBlocks, c.BufferBlocks)
	}
	if c.FrameStallTimeout <= c.Modem.SymbolDuration() {
		return fmt.Errorf("frame_stall_timeout (%v) must exceed one symbol slot (%v)",
			c.FrameStallTimeout, c.Modem.SymbolDuration())
	}
	return nil
}

// BufferPeriod returns the wall-clock length of one device read
func (c ReceiverConfig) BufferPeriod() time.Duration {
	return time.Duration(c.BufferBlocks) * c.Modem.BlockDuration()
}

// Receiver listens on an input device and decodes the first valid frame
type Receiver struct {
	config  ReceiverConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewReceiver creates a receiver
func NewReceiver(config ReceiverConfig, logger *slog.Logger, m *metrics.Metrics) (*Receiver, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid receiver config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Receiver{
		config:  config,
		logger:  logger,
		metrics: m,
	}, nil
}

// Config returns the receiver configuration
func (r *Receiver) Config() ReceiverConfig {
	return r.config
}

// receiveLoop holds the per-attempt detection pipeline
type receiveLoop struct {
	detector *audio.Detector
	slicer   *audio.Slicer
	buffer   *audio.SampleBuffer
	decoder  protocol.Decoder
	block    []float32

	stats      ReceiverStats
	lastErr    error
	lastSymbol time.Time
}

func (r *Receiver) newLoop() (*receiveLoop, error) {
	detector, err := audio.NewDetector(r.config.Modem)
	if err != nil {
		return nil, err
	}
	buffer, err := audio.NewSampleBuffer(r.config.Modem.BlockSize, r.config.MaxBufferedBlocks)
	if err != nil {
		return nil, err
	}

	return &receiveLoop{
		detector:   detector,
		slicer:     audio.NewSlicer(r.config.Modem.MinRunBlocks()),
		buffer:     buffer,
		block:      make([]float32, r.config.Modem.BlockSize),
		lastSymbol: time.Now(),
	}, nil
}

// Receive reads from in until a checksum-valid frame is decoded, the
// deadline passes, ctx is cancelled or the device fails. Cancellation and
// the deadline are checked at every buffer boundary, so Receive returns
// within one buffer period of either. Failed frame attempts are recorded
// and detection resynchronizes on the next start marker.
func (r *Receiver) Receive(ctx context.Context, in device.Input, deadline time.Time) DecodeResult {
	start := time.Now()

	loop, err := r.newLoop()
	if err != nil {
		return DecodeResult{Outcome: OutcomeHardwareError, Err: err, Elapsed: time.Since(start)}
	}

	readCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	buf := make([]float32, r.config.BufferBlocks*r.config.Modem.BlockSize)

	result := func(outcome Outcome, payload []byte, err error) DecodeResult {
		return DecodeResult{
			Outcome: outcome,
			Payload: payload,
			Err:     err,
			Stats:   loop.stats,
			Elapsed: time.Since(start),
		}
	}

	for {
		if ctx.Err() != nil {
			return result(OutcomeCancelled, nil, loop.lastErr)
		}
		if !time.Now().Before(deadline) {
			return result(OutcomeTimeout, nil, loop.lastErr)
		}

		n, err := in.Read(readCtx, buf)
		if err != nil {
			if errors.Is(err, device.ErrBufferDropped) {
				loop.stats.DroppedBuffers++
				loop.buffer.MarkGap()
				r.metrics.RecordBufferDropped()
				continue
			}
			if readCtx.Err() != nil {
				continue
			}
			r.metrics.RecordDeviceError("read")
			r.logger.Warn("Input device failed", slog.String("error", err.Error()))
			return result(OutcomeHardwareError, nil, device.WrapHardware("input", "read", err))
		}

		if n == 0 {
			loop.stats.EmptyReads++
			select {
			case <-readCtx.Done():
			case <-time.After(r.config.BufferPeriod()):
			}
			continue
		}

		loop.buffer.Write(buf[:n])

		if payload, ok := r.drain(loop); ok {
			return result(OutcomeSuccess, payload, nil)
		}

		if loop.decoder.Pending() && time.Since(loop.lastSymbol) >= r.config.FrameStallTimeout {
			loop.lastErr = fmt.Errorf("%w: no symbol for %v in %s state",
				protocol.ErrTruncated, r.config.FrameStallTimeout, loop.decoder.State())
			loop.decoder.Reset()
			loop.slicer.Reset()
			loop.stats.StalledFrames++
			r.metrics.RecordFrameStalled()
			r.logger.Debug("Discarding stalled frame", slog.String("error", loop.lastErr.Error()))
		}
	}
}

// drain runs every complete buffered block through the pipeline and returns
// the payload of the first frame that completes
func (r *Receiver) drain(loop *receiveLoop) ([]byte, bool) {
	for loop.buffer.NextBlock(loop.block) {
		res, err := loop.detector.Process(loop.block)
		if err != nil {
			continue
		}
		loop.stats.Blocks++
		r.metrics.RecordBlock()
		if res.Tone {
			loop.stats.ToneBlocks++
		}

		sym, ok := loop.slicer.Push(res)
		if !ok {
			continue
		}
		loop.stats.Symbols++
		loop.lastSymbol = time.Now()
		r.metrics.RecordSymbol()

		ev := loop.decoder.Feed(sym)
		switch ev.Kind {
		case protocol.EventFrameStarted:
			loop.stats.FramesStarted++
			r.logger.Debug("Start marker detected")

		case protocol.EventFailed:
			loop.lastErr = ev.Err
			loop.stats.DecodeFailures++
			r.metrics.RecordDecodeError(errorKind(ev.Err))
			r.logger.Debug("Frame attempt failed, resynchronizing", slog.String("error", ev.Err.Error()))

		case protocol.EventFrame:
			r.metrics.RecordFrameDecoded()
			r.logger.Debug("Frame decoded", slog.Int("payload_bytes", len(ev.Payload)))
			return ev.Payload, true
		}
	}

	return nil, false
}

// DecodeSamples decodes a complete recording offline. Unlike a live listen,
// any failure is reported as OutcomeChecksumMismatch and Err says why;
// a recording without a start marker carries protocol.ErrMarkerNotFound.
func (r *Receiver) DecodeSamples(samples []float32) DecodeResult {
	start := time.Now()

	symbols, err := audio.Demodulate(r.config.Modem, samples)
	if err != nil {
		return DecodeResult{Outcome: OutcomeHardwareError, Err: err, Elapsed: time.Since(start)}
	}

	stats := ReceiverStats{
		Blocks:  uint64(len(samples) / r.config.Modem.BlockSize),
		Symbols: uint64(len(symbols)),
	}

	payload, err := protocol.Decode(symbols)
	res := DecodeResult{Payload: payload, Err: err, Stats: stats}

	if err == nil {
		res.Outcome = OutcomeSuccess
		r.metrics.RecordFrameDecoded()
	} else {
		res.Outcome = OutcomeChecksumMismatch
		// no marker means no frame was attempted
		if !errors.Is(err, protocol.ErrMarkerNotFound) {
			res.Stats.DecodeFailures = 1
			r.metrics.RecordDecodeError(errorKind(err))
		}
	}

	res.Elapsed = time.Since(start)
	return res
}
