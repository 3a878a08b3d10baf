package modem

import (
	"errors"
	"fmt"
	"time"

	"github.com/skypro1111/proximity-audio/internal/protocol"
)

// Outcome classifies how a listen attempt ended
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeChecksumMismatch
	OutcomeTimeout
	OutcomeCancelled
	OutcomeHardwareError
	OutcomeSessionAlreadyActive
)

// String returns the outcome name used in logs, metrics and the HTTP API
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeChecksumMismatch:
		return "checksum_mismatch"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeHardwareError:
		return "hardware_error"
	case OutcomeSessionAlreadyActive:
		return "session_already_active"
	default:
		return fmt.Sprintf("unknown(%d)", int(o))
	}
}

// MarshalText encodes the outcome by name
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// ReceiverStats counts what the receiver saw during one attempt
type ReceiverStats struct {
	Blocks         uint64 `json:"blocks"`
	ToneBlocks     uint64 `json:"tone_blocks"`
	Symbols        uint64 `json:"symbols"`
	FramesStarted  uint64 `json:"frames_started"`
	DecodeFailures uint64 `json:"decode_failures"`
	DroppedBuffers uint64 `json:"dropped_buffers"`
	StalledFrames  uint64 `json:"stalled_frames"`
	EmptyReads     uint64 `json:"empty_reads"`
}

// DecodeResult is the single definite outcome of a listen or offline decode.
// Err holds the hardware error for OutcomeHardwareError and otherwise the
// last decode error seen, if any.
type DecodeResult struct {
	Outcome Outcome       `json:"outcome"`
	Payload []byte        `json:"payload,omitempty"`
	Err     error         `json:"-"`
	Stats   ReceiverStats `json:"stats"`
	Elapsed time.Duration `json:"elapsed"`
}

// OK reports whether a payload was decoded
func (r DecodeResult) OK() bool {
	return r.Outcome == OutcomeSuccess
}

// Error returns the error text or an empty string
func (r DecodeResult) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// errorKind names a decode error for metrics labels
func errorKind(err error) string {
	switch {
	case errors.Is(err, protocol.ErrChecksumMismatch):
		return "checksum_mismatch"
	case errors.Is(err, protocol.ErrEndMarkerMissing):
		return "end_marker_missing"
	case errors.Is(err, protocol.ErrTruncated):
		return "truncated"
	case errors.Is(err, protocol.ErrMarkerNotFound):
		return "marker_not_found"
	default:
		return "other"
	}
}
