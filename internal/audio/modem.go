package audio

import (
	"fmt"
	"math"
	"time"

	"github.com/skypro1111/proximity-audio/internal/protocol"
)

// ModemConfig holds the tunable waveform parameters. The symbol alphabet is
// fixed by the protocol package; these only decide how each symbol sounds.
type ModemConfig struct {
	SampleRate    int     // samples per second
	BlockSize     int     // samples per detection block
	BaseFrequency float64 // Hz of data symbol 0
	ToneSpacing   float64 // Hz between adjacent symbols
	ToneBlocks    int     // tone burst length in blocks
	GuardBlocks   int     // silence after each burst in blocks
	LeadInBlocks  int     // silence before the first burst
	Amplitude     float64 // peak amplitude of rendered tones (0-1]
	MinAmplitude  float64 // detector floor, below this a block is silence
	Dominance     float64 // share of block energy the winning tone must hold
}

// DefaultModemConfig returns parameters tuned for phone speakers and
// microphones at arm's length: 18 tones from 2.4 kHz in 400 Hz steps,
// 30 ms bursts with 15 ms guard at 48 kHz.
func DefaultModemConfig() ModemConfig {
	return ModemConfig{
		SampleRate:    48000,
		BlockSize:     240, // 5ms, 200Hz bins
		BaseFrequency: 2400,
		ToneSpacing:   400,
		ToneBlocks:    6,
		GuardBlocks:   3,
		LeadInBlocks:  4,
		Amplitude:     0.5,
		MinAmplitude:  0.02,
		Dominance:     0.45,
	}
}

// Validate checks the parameter set for internal consistency
func (c ModemConfig) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}

	if c.BlockSize < 16 {
		return fmt.Errorf("block_size must be at least 16 samples, got %d", c.BlockSize)
	}

	if c.BaseFrequency <= 0 {
		return fmt.Errorf("base_frequency must be positive, got %f", c.BaseFrequency)
	}

	if c.ToneSpacing < c.BinWidth() {
		return fmt.Errorf("tone_spacing (%f Hz) must be at least one detector bin (%f Hz)",
			c.ToneSpacing, c.BinWidth())
	}

	top := c.ToneFrequency(protocol.AlphabetSize - 1)
	if top >= float64(c.SampleRate)/2 {
		return fmt.Errorf("highest tone %f Hz is above Nyquist (%d Hz)", top, c.SampleRate/2)
	}

	if c.ToneBlocks < 2 {
		return fmt.Errorf("tone_blocks must be at least 2, got %d", c.ToneBlocks)
	}

	// One block may straddle each edge, so two are needed to guarantee a fully silent block
	if c.GuardBlocks < 2 {
		return fmt.Errorf("guard_blocks must be at least 2, got %d", c.GuardBlocks)
	}

	if c.LeadInBlocks < 0 {
		return fmt.Errorf("lead_in_blocks cannot be negative, got %d", c.LeadInBlocks)
	}

	if c.Amplitude <= 0 || c.Amplitude > 1 {
		return fmt.Errorf("amplitude must be in (0, 1], got %f", c.Amplitude)
	}

	if c.MinAmplitude <= 0 || c.MinAmplitude >= c.Amplitude {
		return fmt.Errorf("min_amplitude must be in (0, amplitude), got %f", c.MinAmplitude)
	}

	if c.Dominance <= 0 || c.Dominance >= 1 {
		return fmt.Errorf("dominance must be between 0 and 1 (exclusive), got %f", c.Dominance)
	}

	return nil
}

// ToneFrequency returns the carrier frequency of a symbol
func (c ModemConfig) ToneFrequency(sym protocol.Symbol) float64 {
	return c.BaseFrequency + float64(sym)*c.ToneSpacing
}

// BinWidth returns the frequency resolution of one detection block
func (c ModemConfig) BinWidth() float64 {
	return float64(c.SampleRate) / float64(c.BlockSize)
}

// ToneSamples returns the length of one tone burst in samples
func (c ModemConfig) ToneSamples() int {
	return c.ToneBlocks * c.BlockSize
}

// GuardSamples returns the length of the guard silence in samples
func (c ModemConfig) GuardSamples() int {
	return c.GuardBlocks * c.BlockSize
}

// SymbolSamples returns the length of one symbol slot (burst + guard)
func (c ModemConfig) SymbolSamples() int {
	return (c.ToneBlocks + c.GuardBlocks) * c.BlockSize
}

// MinRunBlocks returns how many consecutive tone blocks make a symbol
func (c ModemConfig) MinRunBlocks() int {
	return (c.ToneBlocks + 1) / 2
}

// BlockDuration returns the wall-clock length of one block
func (c ModemConfig) BlockDuration() time.Duration {
	return c.samplesToDuration(c.BlockSize)
}

// SymbolDuration returns the wall-clock length of one symbol slot
func (c ModemConfig) SymbolDuration() time.Duration {
	return c.samplesToDuration(c.SymbolSamples())
}

// FrameSamples returns the rendered length of a frame with payloadLen bytes
func (c ModemConfig) FrameSamples(payloadLen int) int {
	return c.LeadInBlocks*c.BlockSize + protocol.SymbolCountFor(payloadLen)*c.SymbolSamples()
}

// FrameDuration returns the playback time of a frame with payloadLen bytes
func (c ModemConfig) FrameDuration(payloadLen int) time.Duration {
	return c.samplesToDuration(c.FrameSamples(payloadLen))
}

func (c ModemConfig) samplesToDuration(n int) time.Duration {
	return time.Duration(math.Round(float64(n) / float64(c.SampleRate) * float64(time.Second)))
}
