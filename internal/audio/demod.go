package audio

import (
	"fmt"

	"github.com/skypro1111/proximity-audio/internal/protocol"
)

// Demodulate converts a complete recording into the symbol sequence it
// carries. A trailing partial block is ignored.
func Demodulate(config ModemConfig, samples []float32) ([]protocol.Symbol, error) {
	detector, err := NewDetector(config)
	if err != nil {
		return nil, err
	}
	slicer := NewSlicer(config.MinRunBlocks())

	var symbols []protocol.Symbol
	for off := 0; off+config.BlockSize <= len(samples); off += config.BlockSize {
		res, err := detector.Process(samples[off : off+config.BlockSize])
		if err != nil {
			return nil, fmt.Errorf("failed to process block at sample %d: %w", off, err)
		}
		if sym, ok := slicer.Push(res); ok {
			symbols = append(symbols, sym)
		}
	}

	return symbols, nil
}

// Modulate renders a payload into a complete transmission waveform
func Modulate(config ModemConfig, payload []byte) ([]float32, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid modem config: %w", err)
	}

	frame, err := protocol.Encode(payload)
	if err != nil {
		return nil, err
	}

	return NewSynthesizer(config).Render(frame.Symbols()), nil
}
