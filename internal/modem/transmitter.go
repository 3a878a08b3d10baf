package modem

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/skypro1111/proximity-audio/internal/audio"
	"github.com/skypro1111/proximity-audio/internal/device"
	"github.com/skypro1111/proximity-audio/internal/metrics"
	"github.com/skypro1111/proximity-audio/internal/protocol"
)

// Transmitter plays frames through an output device
type Transmitter struct {
	config  audio.ModemConfig
	synth   *audio.Synthesizer
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewTransmitter creates a transmitter for the given modem parameters
func NewTransmitter(config audio.ModemConfig, logger *slog.Logger, m *metrics.Metrics) (*Transmitter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid modem config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Transmitter{
		config:  config,
		synth:   audio.NewSynthesizer(config),
		logger:  logger,
		metrics: m,
	}, nil
}

// Render returns the complete waveform for a frame
func (t *Transmitter) Render(frame *protocol.Frame) []float32 {
	return t.synth.Render(frame.Symbols())
}

// Play renders the frame and streams it to out one symbol slot per write,
// then waits for the device to drain. It plays exactly once; a device error
// is returned as *device.HardwareError and ctx cancellation as ctx.Err().
func (t *Transmitter) Play(ctx context.Context, out device.Output, frame *protocol.Frame) error {
	start := time.Now()
	samples := t.Render(frame)
	chunk := t.config.SymbolSamples()

	t.logger.Debug("Starting playback",
		slog.Int("payload_bytes", frame.Length()),
		slog.Int("symbols", frame.SymbolCount()),
		slog.Duration("expected_duration", t.config.FrameDuration(frame.Length())))

	for off := 0; off < len(samples); off += chunk {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := off + chunk
		if end > len(samples) {
			end = len(samples)
		}

		if err := out.Write(ctx, samples[off:end]); err != nil {
			return t.deviceError(ctx, "write", err)
		}
	}

	if err := out.Drain(ctx); err != nil {
		return t.deviceError(ctx, "drain", err)
	}

	elapsed := time.Since(start)
	t.metrics.RecordFrameEmitted(elapsed.Seconds())
	t.logger.Debug("Playback finished",
		slog.Int("payload_bytes", frame.Length()),
		slog.Duration("duration", elapsed))

	return nil
}

// deviceError passes cancellation through and wraps everything else
func (t *Transmitter) deviceError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	t.metrics.RecordDeviceError(op)
	return device.WrapHardware("output", op, err)
}
