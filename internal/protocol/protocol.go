package protocol

import (
	"errors"
	"fmt"
	"hash/crc32"
)

// Alphabet and framing constants. Encoder and decoder share these at compile
// time; nothing here is negotiated on the air.
const (
	// BitsPerSymbol is the width of the bit group carried by one data symbol
	BitsPerSymbol = 4

	// DataSymbols is the number of data-bearing symbols (one per nibble value)
	DataSymbols = 1 << BitsPerSymbol

	// Marker symbols sit above the data range
	SymbolStart Symbol = DataSymbols     // start-marker tone
	SymbolEnd   Symbol = DataSymbols + 1 // end-marker tone

	// AlphabetSize is the total number of distinct symbols on the air
	AlphabetSize = DataSymbols + 2

	// MarkerLength is how many marker symbols open and close a frame
	MarkerLength = 2

	// MaxPayloadSize bounds a frame to a few seconds of playback
	MaxPayloadSize = 64

	// Field sizes
	LengthFieldSize = 1 // bytes
	ChecksumSize    = 4 // CRC-32 (IEEE), big-endian on the air

	symbolsPerByte = 8 / BitsPerSymbol

	LengthSymbols   = LengthFieldSize * symbolsPerByte
	ChecksumSymbols = ChecksumSize * symbolsPerByte

	// FrameOverheadSymbols is everything except the payload nibbles
	FrameOverheadSymbols = MarkerLength + LengthSymbols + ChecksumSymbols + MarkerLength
)

// Decode-time and encode-time errors
var (
	ErrPayloadTooLarge  = errors.New("payload too large")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrTruncated        = errors.New("frame truncated")
	ErrMarkerNotFound   = errors.New("start marker not found")
	ErrEndMarkerMissing = errors.New("end marker missing")
)

// Symbol is one discrete unit of the audio alphabet
type Symbol uint8

// Nibble to symbol mapping (Gray code, so the most likely confusion between
// neighbouring tones flips a single bit)
var nibbleToSymbol = [DataSymbols]Symbol{
	0x0, 0x1, 0x3, 0x2, 0x6, 0x7, 0x5, 0x4,
	0xC, 0xD, 0xF, 0xE, 0xA, 0xB, 0x9, 0x8,
}

var symbolToNibble = [DataSymbols]byte{
	0x0, 0x1, 0x3, 0x2, 0x7, 0x6, 0x4, 0x5,
	0xF, 0xE, 0xC, 0xD, 0x8, 0x9, 0xB, 0xA,
}

// SymbolForNibble maps a 4-bit group to its data symbol
func SymbolForNibble(n byte) Symbol {
	return nibbleToSymbol[n&(DataSymbols-1)]
}

// IsData reports whether the symbol carries payload bits
func (s Symbol) IsData() bool {
	return s < DataSymbols
}

// IsMarker reports whether the symbol is a start or end marker
func (s Symbol) IsMarker() bool {
	return s == SymbolStart || s == SymbolEnd
}

// Valid reports whether the symbol belongs to the alphabet
func (s Symbol) Valid() bool {
	return s < AlphabetSize
}

// Nibble returns the 4-bit group carried by a data symbol
func (s Symbol) Nibble() (byte, bool) {
	if !s.IsData() {
		return 0, false
	}
	return symbolToNibble[s], true
}

// String returns a human-readable representation of the symbol
func (s Symbol) String() string {
	switch {
	case s == SymbolStart:
		return "START"
	case s == SymbolEnd:
		return "END"
	case s.IsData():
		return fmt.Sprintf("D%X", byte(s))
	default:
		return fmt.Sprintf("Unknown(%d)", byte(s))
	}
}

// Frame is an immutable encoded unit: start marker, length, payload,
// checksum over length+payload, end marker.
type Frame struct {
	payload  []byte
	checksum uint32
}

// Encode builds a frame around payload. The payload is copied.
func Encode(payload []byte) (*Frame, error) {
	if err := ValidatePayload(payload); err != nil {
		return nil, err
	}

	p := make([]byte, len(payload))
	copy(p, payload)

	return &Frame{
		payload:  p,
		checksum: Checksum(byte(len(p)), p),
	}, nil
}

// ValidatePayload checks that payload fits in a single frame
func ValidatePayload(payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("%w: %d bytes (maximum %d)", ErrPayloadTooLarge, len(payload), MaxPayloadSize)
	}
	return nil
}

// Checksum computes the CRC-32 over the length byte followed by the payload
func Checksum(length byte, payload []byte) uint32 {
	h := crc32.NewIEEE()
	h.Write([]byte{length})
	h.Write(payload)
	return h.Sum32()
}

// Payload returns a copy of the frame payload
func (f *Frame) Payload() []byte {
	out := make([]byte, len(f.payload))
	copy(out, f.payload)
	return out
}

// Length returns the payload byte count
func (f *Frame) Length() int {
	return len(f.payload)
}

// Checksum returns the frame checksum
func (f *Frame) Checksum() uint32 {
	return f.checksum
}

// SymbolCount returns the number of symbols the frame occupies on the air
func (f *Frame) SymbolCount() int {
	return SymbolCountFor(len(f.payload))
}

// SymbolCountFor returns the on-air symbol count for a payload length
func SymbolCountFor(payloadLen int) int {
	return FrameOverheadSymbols + payloadLen*symbolsPerByte
}

// Symbols renders the frame as its on-air symbol sequence
func (f *Frame) Symbols() []Symbol {
	out := make([]Symbol, 0, f.SymbolCount())

	for i := 0; i < MarkerLength; i++ {
		out = append(out, SymbolStart)
	}

	out = appendByte(out, byte(len(f.payload)))
	for _, b := range f.payload {
		out = appendByte(out, b)
	}

	for shift := 24; shift >= 0; shift -= 8 {
		out = appendByte(out, byte(f.checksum>>uint(shift)))
	}

	for i := 0; i < MarkerLength; i++ {
		out = append(out, SymbolEnd)
	}

	return out
}

// appendByte appends a byte high nibble first
func appendByte(dst []Symbol, b byte) []Symbol {
	return append(dst, SymbolForNibble(b>>4), SymbolForNibble(b&0x0F))
}

// String returns a human-readable representation of the frame
func (f *Frame) String() string {
	return fmt.Sprintf("Frame{Len:%d, CRC:0x%08x, Symbols:%d}", len(f.payload), f.checksum, f.SymbolCount())
}
