package audio

import (
	"sync"

	"github.com/skypro1111/proximity-audio/internal/protocol"
)

// SlicerState represents whether the slicer is inside a tone run
type SlicerState int

const (
	SlicerIdle SlicerState = iota
	SlicerInTone
)

// String returns the state name
func (s SlicerState) String() string {
	if s == SlicerInTone {
		return "in_tone"
	}
	return "idle"
}

// Slicer turns per-block detections into symbols. A symbol is emitted once
// per run of identical tone blocks, as soon as the run reaches minRun
// blocks. Silence or a different tone ends the run.
type Slicer struct {
	minRun int

	state   SlicerState
	current protocol.Symbol
	runLen  int
	emitted bool

	// Statistics
	symbolsEmitted uint64
	shortRuns      uint64

	mu sync.RWMutex
}

// SlicerStats represents slicer statistics
type SlicerStats struct {
	State          string `json:"state"`
	SymbolsEmitted uint64 `json:"symbols_emitted"`
	ShortRuns      uint64 `json:"short_runs"`
}

// NewSlicer creates a slicer requiring minRun consecutive blocks per symbol
func NewSlicer(minRun int) *Slicer {
	if minRun < 1 {
		minRun = 1
	}
	return &Slicer{minRun: minRun}
}

// Push processes one block result and returns a symbol when one completes
func (s *Slicer) Push(r BlockResult) (protocol.Symbol, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !r.Tone {
		s.endRun()
		return 0, false
	}

	if s.state == SlicerInTone && r.Symbol == s.current {
		s.runLen++
	} else {
		s.endRun()
		s.state = SlicerInTone
		s.current = r.Symbol
		s.runLen = 1
	}

	if !s.emitted && s.runLen >= s.minRun {
		s.emitted = true
		s.symbolsEmitted++
		return s.current, true
	}

	return 0, false
}

// endRun closes the current run, counting it when it was too short
func (s *Slicer) endRun() {
	if s.state == SlicerInTone && !s.emitted {
		s.shortRuns++
	}
	s.state = SlicerIdle
	s.runLen = 0
	s.emitted = false
}

// Reset drops any partial run
func (s *Slicer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = SlicerIdle
	s.runLen = 0
	s.emitted = false
}

// State returns the current slicer state
func (s *Slicer) State() SlicerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// GetStats returns slicer statistics
func (s *Slicer) GetStats() SlicerStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return SlicerStats{
		State:          s.state.String(),
		SymbolsEmitted: s.symbolsEmitted,
		ShortRuns:      s.shortRuns,
	}
}
