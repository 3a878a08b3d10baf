package audio

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/skypro1111/proximity-audio/internal/protocol"
)

// Detector classifies fixed-size sample blocks as one alphabet tone or
// silence using a Goertzel filter per tone
type Detector struct {
	config ModemConfig
	coeffs [protocol.AlphabetSize]float64

	// Statistics
	totalBlocks   uint64
	toneBlocks    uint64
	lastProcessed time.Time

	mu sync.RWMutex
}

// BlockResult represents the classification of one block
type BlockResult struct {
	Tone       bool            `json:"tone"`       // false means silence or noise
	Symbol     protocol.Symbol `json:"symbol"`     // strongest tone, valid when Tone is set
	Amplitude  float64         `json:"amplitude"`  // estimated amplitude of the strongest tone
	Dominance  float64         `json:"dominance"`  // share of block energy held by the strongest tone
	Confidence float64         `json:"confidence"` // margin between strongest and runner-up (0-1)
}

// DetectorStats represents detector statistics
type DetectorStats struct {
	TotalBlocks    uint64    `json:"total_blocks"`
	ToneBlocks     uint64    `json:"tone_blocks"`
	TonePercentage float64   `json:"tone_percentage"`
	LastProcessed  time.Time `json:"last_processed"`
}

// NewDetector creates a tone detector for the given modem parameters
func NewDetector(config ModemConfig) (*Detector, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid modem config: %w", err)
	}

	d := &Detector{config: config}
	for sym := protocol.Symbol(0); sym < protocol.AlphabetSize; sym++ {
		omega := 2 * math.Pi * config.ToneFrequency(sym) / float64(config.SampleRate)
		d.coeffs[sym] = 2 * math.Cos(omega)
	}

	return d, nil
}

// Process classifies one block of exactly BlockSize samples
func (d *Detector) Process(block []float32) (BlockResult, error) {
	if len(block) != d.config.BlockSize {
		return BlockResult{}, fmt.Errorf("expected %d samples, got %d", d.config.BlockSize, len(block))
	}

	result := d.classify(block)

	d.mu.Lock()
	d.totalBlocks++
	if result.Tone {
		d.toneBlocks++
	}
	d.lastProcessed = time.Now()
	d.mu.Unlock()

	return result, nil
}

// classify runs the Goertzel bank and applies the amplitude and dominance gates
func (d *Detector) classify(block []float32) BlockResult {
	n := float64(len(block))

	var energy float64
	for _, x := range block {
		energy += float64(x) * float64(x)
	}
	meanPower := energy / n
	if meanPower == 0 {
		return BlockResult{}
	}

	best, second := -1.0, -1.0
	bestSym := protocol.Symbol(0)
	for sym, coeff := range d.coeffs {
		p := goertzel(block, coeff)
		if p > best {
			second = best
			best = p
			bestSym = protocol.Symbol(sym)
		} else if p > second {
			second = p
		}
	}

	amplitude := 2 * math.Sqrt(best) / n
	dominance := (amplitude * amplitude / 2) / meanPower
	if dominance > 1 {
		dominance = 1
	}

	confidence := 0.0
	if best > 0 && second >= 0 {
		confidence = 1 - math.Sqrt(second/best)
	}

	result := BlockResult{
		Symbol:     bestSym,
		Amplitude:  amplitude,
		Dominance:  dominance,
		Confidence: confidence,
	}
	result.Tone = amplitude >= d.config.MinAmplitude && dominance >= d.config.Dominance

	return result
}

// goertzel returns the squared magnitude of the block at one frequency
func goertzel(block []float32, coeff float64) float64 {
	var s1, s2 float64
	for _, x := range block {
		s0 := float64(x) + coeff*s1 - s2
		s2 = s1
		s1 = s0
	}
	return s1*s1 + s2*s2 - coeff*s1*s2
}

// GetStats returns detector statistics
func (d *Detector) GetStats() DetectorStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	pct := float64(0)
	if d.totalBlocks > 0 {
		pct = float64(d.toneBlocks) / float64(d.totalBlocks) * 100
	}

	return DetectorStats{
		TotalBlocks:    d.totalBlocks,
		ToneBlocks:     d.toneBlocks,
		TonePercentage: pct,
		LastProcessed:  d.lastProcessed,
	}
}

// Reset clears detector statistics
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.totalBlocks = 0
	d.toneBlocks = 0
	d.lastProcessed = time.Time{}
}
