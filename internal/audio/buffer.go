package audio

import (
	"fmt"
	"sync"
	"time"
)

// SampleBuffer accumulates captured samples of arbitrary chunk size and
// hands them out as fixed-size detection blocks
type SampleBuffer struct {
	blockSize int

	// Pending samples, always shorter than maxSamples
	samples    []float32
	maxSamples int

	// Timing and metadata
	lastUpdate   time.Time
	totalSamples uint64
	totalBlocks  uint64

	// Loss tracking
	gaps      uint64 // discontinuities reported by the capture side
	discarded uint64 // samples dropped at gaps or on overflow

	mu sync.Mutex
}

// SampleBufferStats represents buffer statistics for monitoring
type SampleBufferStats struct {
	TotalSamples uint64 `json:"total_samples"`
	TotalBlocks  uint64 `json:"total_blocks"`
	Gaps         uint64 `json:"gaps"`
	Discarded    uint64 `json:"discarded_samples"`
	Buffered     int    `json:"buffered_samples"`
}

// NewSampleBuffer creates a buffer that yields blocks of blockSize samples
// and holds at most maxBlocks blocks of unread audio
func NewSampleBuffer(blockSize, maxBlocks int) (*SampleBuffer, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("block size must be positive, got %d", blockSize)
	}
	if maxBlocks <= 0 {
		maxBlocks = 64
	}

	return &SampleBuffer{
		blockSize:  blockSize,
		maxSamples: blockSize * maxBlocks,
		samples:    make([]float32, 0, blockSize*2),
		lastUpdate: time.Now(),
	}, nil
}

// Write appends captured samples. When the reader falls behind the oldest
// samples are discarded and counted as a gap.
func (b *SampleBuffer) Write(samples []float32) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.samples = append(b.samples, samples...)
	b.totalSamples += uint64(len(samples))
	b.lastUpdate = time.Now()

	if over := len(b.samples) - b.maxSamples; over > 0 {
		// drop whole blocks so alignment with the writer is kept
		drop := (over + b.blockSize - 1) / b.blockSize * b.blockSize
		if drop > len(b.samples) {
			drop = len(b.samples)
		}
		b.samples = append(b.samples[:0], b.samples[drop:]...)
		b.discarded += uint64(drop)
		b.gaps++
	}
}

// MarkGap records a capture discontinuity. The partial block collected
// before the gap is discarded so no block spans the missing audio.
func (b *SampleBuffer) MarkGap() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.gaps++
	partial := len(b.samples) % b.blockSize
	if partial > 0 {
		b.samples = b.samples[:len(b.samples)-partial]
		b.discarded += uint64(partial)
	}
}

// NextBlock copies the next complete block into dst and reports whether one
// was available. dst must hold at least BlockSize samples.
func (b *SampleBuffer) NextBlock(dst []float32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.samples) < b.blockSize || len(dst) < b.blockSize {
		return false
	}

	copy(dst, b.samples[:b.blockSize])
	b.samples = append(b.samples[:0], b.samples[b.blockSize:]...)
	b.totalBlocks++

	return true
}

// AvailableBlocks returns the number of complete blocks ready to read
func (b *SampleBuffer) AvailableBlocks() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples) / b.blockSize
}

// BlockSize returns the block length in samples
func (b *SampleBuffer) BlockSize() int {
	return b.blockSize
}

// GetLastUpdate returns the time of the last write
func (b *SampleBuffer) GetLastUpdate() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastUpdate
}

// Reset discards buffered samples and clears statistics
func (b *SampleBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.samples = b.samples[:0]
	b.totalSamples = 0
	b.totalBlocks = 0
	b.gaps = 0
	b.discarded = 0
	b.lastUpdate = time.Now()
}

// GetStats returns current buffer statistics
func (b *SampleBuffer) GetStats() SampleBufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return SampleBufferStats{
		TotalSamples: b.totalSamples,
		TotalBlocks:  b.totalBlocks,
		Gaps:         b.gaps,
		Discarded:    b.discarded,
		Buffered:     len(b.samples),
	}
}
