package audio

import (
	"math"

	"github.com/skypro1111/proximity-audio/internal/protocol"
)

// Synthesizer renders symbol sequences into PCM float samples
type Synthesizer struct {
	config ModemConfig
	window []float64 // amplitude envelope for one burst
	tones  [protocol.AlphabetSize][]float32
}

// NewSynthesizer creates a synthesizer and pre-renders one burst per symbol
func NewSynthesizer(config ModemConfig) *Synthesizer {
	s := &Synthesizer{config: config}

	toneLen := config.ToneSamples()
	ramp := toneLen / 8
	s.window = make([]float64, toneLen)
	for i := range s.window {
		w := 1.0
		switch {
		case i < ramp:
			w = 0.5 - 0.5*math.Cos(math.Pi*float64(i)/float64(ramp))
		case i >= toneLen-ramp:
			w = 0.5 - 0.5*math.Cos(math.Pi*float64(toneLen-1-i)/float64(ramp))
		}
		s.window[i] = w
	}

	for sym := protocol.Symbol(0); sym < protocol.AlphabetSize; sym++ {
		s.tones[sym] = s.renderTone(config.ToneFrequency(sym))
	}

	return s
}

func (s *Synthesizer) renderTone(freq float64) []float32 {
	out := make([]float32, len(s.window))
	step := 2 * math.Pi * freq / float64(s.config.SampleRate)
	for i := range out {
		out[i] = float32(s.config.Amplitude * s.window[i] * math.Sin(step*float64(i)))
	}
	return out
}

// Render produces lead-in silence followed by one burst and guard per symbol
func (s *Synthesizer) Render(symbols []protocol.Symbol) []float32 {
	leadIn := s.config.LeadInBlocks * s.config.BlockSize
	slot := s.config.SymbolSamples()

	out := make([]float32, leadIn+len(symbols)*slot)
	for i, sym := range symbols {
		s.RenderSymbol(out[leadIn+i*slot:leadIn+(i+1)*slot], sym)
	}
	return out
}

// RenderSymbol writes one burst followed by guard silence into dst, which
// must hold at least one symbol slot. Unknown symbols render as silence.
func (s *Synthesizer) RenderSymbol(dst []float32, sym protocol.Symbol) {
	n := copy(dst, s.tone(sym))
	for i := n; i < len(dst) && i < s.config.SymbolSamples(); i++ {
		dst[i] = 0
	}
}

func (s *Synthesizer) tone(sym protocol.Symbol) []float32 {
	if !sym.Valid() {
		return nil
	}
	return s.tones[sym]
}

// Config returns the modem parameters the synthesizer was built with
func (s *Synthesizer) Config() ModemConfig {
	return s.config
}
