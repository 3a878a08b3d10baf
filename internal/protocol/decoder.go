package protocol

import "fmt"

// DecoderState represents where the decoder is within a frame
type DecoderState int

const (
	StateSearching DecoderState = iota
	StateLength
	StatePayload
	StateChecksum
	StateEndMarker
)

// String returns the state name
func (s DecoderState) String() string {
	switch s {
	case StateSearching:
		return "searching"
	case StateLength:
		return "length"
	case StatePayload:
		return "payload"
	case StateChecksum:
		return "checksum"
	case StateEndMarker:
		return "end_marker"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// EventKind classifies what a single Feed call produced
type EventKind int

const (
	EventNone EventKind = iota
	EventFrameStarted
	EventFrame
	EventFailed
)

// Event is the outcome of feeding one symbol
type Event struct {
	Kind    EventKind
	Payload []byte // EventFrame only
	Err     error  // EventFailed only
}

// Decoder is the incremental frame decoder. It scans strictly left to right
// and holds at most one frame attempt at a time; start markers seen while a
// frame is in progress are ignored.
type Decoder struct {
	state     DecoderState
	markerRun int

	// byte assembly
	highNibble byte
	haveHigh   bool

	length   int
	payload  []byte
	checksum uint32
	crcBytes int
	endRun   int

	framesDecoded uint64
	failures      uint64
}

// DecoderStats represents decoder statistics
type DecoderStats struct {
	State         string `json:"state"`
	FramesDecoded uint64 `json:"frames_decoded"`
	Failures      uint64 `json:"failures"`
}

// Feed consumes one symbol in capture order
func (d *Decoder) Feed(sym Symbol) Event {
	if d.state == StateSearching {
		if sym == SymbolStart {
			d.markerRun++
			if d.markerRun >= MarkerLength {
				d.beginFrame()
				return Event{Kind: EventFrameStarted}
			}
			return Event{}
		}
		d.markerRun = 0
		return Event{}
	}

	if sym == SymbolStart || !sym.Valid() {
		return Event{}
	}

	if d.state == StateEndMarker {
		if sym != SymbolEnd {
			return d.fail(ErrEndMarkerMissing)
		}
		d.endRun++
		if d.endRun >= MarkerLength {
			return d.succeed()
		}
		return Event{}
	}

	if sym == SymbolEnd {
		return d.fail(fmt.Errorf("%w: end marker inside %s field (declared length %d, have %d)",
			ErrChecksumMismatch, d.state, d.length, len(d.payload)))
	}

	nibble, _ := sym.Nibble()
	if !d.haveHigh {
		d.highNibble = nibble
		d.haveHigh = true
		return Event{}
	}
	d.haveHigh = false

	return d.consumeByte(d.highNibble<<4 | nibble)
}

// consumeByte advances the field state machine by one assembled byte
func (d *Decoder) consumeByte(b byte) Event {
	switch d.state {
	case StateLength:
		if int(b) > MaxPayloadSize {
			return d.fail(fmt.Errorf("%w: declared length %d exceeds maximum %d",
				ErrChecksumMismatch, b, MaxPayloadSize))
		}
		d.length = int(b)
		d.payload = make([]byte, 0, d.length)
		if d.length == 0 {
			d.state = StateChecksum
		} else {
			d.state = StatePayload
		}

	case StatePayload:
		d.payload = append(d.payload, b)
		if len(d.payload) == d.length {
			d.state = StateChecksum
		}

	case StateChecksum:
		d.checksum = d.checksum<<8 | uint32(b)
		d.crcBytes++
		if d.crcBytes == ChecksumSize {
			expected := Checksum(byte(d.length), d.payload)
			if expected != d.checksum {
				return d.fail(fmt.Errorf("%w: got 0x%08x, computed 0x%08x",
					ErrChecksumMismatch, d.checksum, expected))
			}
			d.state = StateEndMarker
		}
	}

	return Event{}
}

func (d *Decoder) beginFrame() {
	d.state = StateLength
	d.markerRun = 0
	d.haveHigh = false
	d.length = 0
	d.payload = nil
	d.checksum = 0
	d.crcBytes = 0
	d.endRun = 0
}

func (d *Decoder) succeed() Event {
	payload := d.payload
	if payload == nil {
		payload = []byte{}
	}
	d.framesDecoded++
	d.Reset()
	return Event{Kind: EventFrame, Payload: payload}
}

func (d *Decoder) fail(err error) Event {
	d.failures++
	d.Reset()
	return Event{Kind: EventFailed, Err: err}
}

// Reset discards any in-progress frame and returns to searching
func (d *Decoder) Reset() {
	d.state = StateSearching
	d.markerRun = 0
	d.haveHigh = false
	d.length = 0
	d.payload = nil
	d.checksum = 0
	d.crcBytes = 0
	d.endRun = 0
}

// State returns the current decoder state
func (d *Decoder) State() DecoderState {
	return d.state
}

// InFrame reports whether a frame attempt is in progress
func (d *Decoder) InFrame() bool {
	return d.state != StateSearching
}

// Pending reports whether any marker or frame symbols are held
func (d *Decoder) Pending() bool {
	return d.state != StateSearching || d.markerRun > 0
}

// Finish reports ErrTruncated when the input ended inside a frame
func (d *Decoder) Finish() error {
	if !d.Pending() {
		return nil
	}
	err := fmt.Errorf("%w: input ended in %s state", ErrTruncated, d.state)
	d.Reset()
	return err
}

// GetStats returns decoder statistics
func (d *Decoder) GetStats() DecoderStats {
	return DecoderStats{
		State:         d.state.String(),
		FramesDecoded: d.framesDecoded,
		Failures:      d.failures,
	}
}

// Decode scans a captured symbol sequence and returns the first valid
// payload. Noise before and after the frame is skipped; a failed attempt
// resumes the scan after the failure point.
func Decode(symbols []Symbol) ([]byte, error) {
	var d Decoder
	var lastErr error

	for _, sym := range symbols {
		ev := d.Feed(sym)
		switch ev.Kind {
		case EventFrame:
			return ev.Payload, nil
		case EventFailed:
			lastErr = ev.Err
		}
	}

	if err := d.Finish(); err != nil {
		return nil, err
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrMarkerNotFound
}
