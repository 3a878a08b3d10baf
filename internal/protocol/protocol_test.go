package protocol

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name        string
		payload     []byte
		expectError error
	}{
		{
			name:    "empty payload",
			payload: []byte{},
		},
		{
			name:    "challenge payload",
			payload: []byte("CHAL-42"),
		},
		{
			name:    "maximum payload",
			payload: bytes.Repeat([]byte{0xA5}, MaxPayloadSize),
		},
		{
			name:        "payload too large",
			payload:     make([]byte, MaxPayloadSize+1),
			expectError: ErrPayloadTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := Encode(tt.payload)

			if tt.expectError != nil {
				if !errors.Is(err, tt.expectError) {
					t.Errorf("Expected error %v, got %v", tt.expectError, err)
				}
				if frame != nil {
					t.Errorf("Expected nil frame on error, got %v", frame)
				}
				return
			}

			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if frame.Length() != len(tt.payload) {
				t.Errorf("Expected length %d, got %d", len(tt.payload), frame.Length())
			}
			if !bytes.Equal(frame.Payload(), tt.payload) {
				t.Errorf("Expected payload %x, got %x", tt.payload, frame.Payload())
			}
			if frame.Checksum() != Checksum(byte(len(tt.payload)), tt.payload) {
				t.Errorf("Unexpected checksum 0x%08x", frame.Checksum())
			}
		})
	}
}

func TestFrameSymbolLayout(t *testing.T) {
	frame, err := Encode([]byte("CHAL-42"))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	symbols := frame.Symbols()
	if len(symbols) != frame.SymbolCount() {
		t.Fatalf("Expected %d symbols, got %d", frame.SymbolCount(), len(symbols))
	}
	if len(symbols) != FrameOverheadSymbols+7*2 {
		t.Errorf("Expected %d symbols for 7 bytes, got %d", FrameOverheadSymbols+14, len(symbols))
	}

	for i := 0; i < MarkerLength; i++ {
		if symbols[i] != SymbolStart {
			t.Errorf("Symbol %d: expected START, got %s", i, symbols[i])
		}
		if symbols[len(symbols)-1-i] != SymbolEnd {
			t.Errorf("Symbol %d from end: expected END, got %s", i, symbols[len(symbols)-1-i])
		}
	}

	for i, sym := range symbols[MarkerLength : len(symbols)-MarkerLength] {
		if !sym.IsData() {
			t.Errorf("Body symbol %d is not a data symbol: %s", i, sym)
		}
	}

	// Length field: 7 = 0x07 -> nibbles 0, 7
	if n, _ := symbols[2].Nibble(); n != 0x0 {
		t.Errorf("Expected length high nibble 0, got %x", n)
	}
	if n, _ := symbols[3].Nibble(); n != 0x7 {
		t.Errorf("Expected length low nibble 7, got %x", n)
	}
}

func TestFramePayloadIsCopied(t *testing.T) {
	payload := []byte("CHAL-42")
	frame, err := Encode(payload)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	payload[0] = 'X'
	if frame.Payload()[0] != 'C' {
		t.Error("Frame payload changed after caller modified input")
	}

	out := frame.Payload()
	out[1] = 'Y'
	if frame.Payload()[1] != 'H' {
		t.Error("Frame payload changed after caller modified returned copy")
	}
}

func TestSymbolNibbleMapping(t *testing.T) {
	seen := make(map[Symbol]bool)
	for n := byte(0); n < DataSymbols; n++ {
		sym := SymbolForNibble(n)
		if !sym.IsData() {
			t.Errorf("Nibble %x mapped to non-data symbol %s", n, sym)
		}
		if seen[sym] {
			t.Errorf("Nibble %x mapped to duplicate symbol %s", n, sym)
		}
		seen[sym] = true

		back, ok := sym.Nibble()
		if !ok || back != n {
			t.Errorf("Nibble %x round-tripped to %x (ok=%v)", n, back, ok)
		}
	}

	if _, ok := SymbolStart.Nibble(); ok {
		t.Error("START should not carry a nibble")
	}
	if !SymbolEnd.IsMarker() || !SymbolStart.IsMarker() {
		t.Error("Markers should report IsMarker")
	}
	if Symbol(AlphabetSize).Valid() {
		t.Error("Symbol beyond alphabet should be invalid")
	}
}

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for length := 0; length <= MaxPayloadSize; length++ {
		payload := make([]byte, length)
		rng.Read(payload)

		frame, err := Encode(payload)
		if err != nil {
			t.Fatalf("Encode(%d bytes) failed: %v", length, err)
		}

		decoded, err := Decode(frame.Symbols())
		if err != nil {
			t.Errorf("Decode(%d bytes) failed: %v", length, err)
			continue
		}
		if !bytes.Equal(decoded, payload) {
			t.Errorf("Round trip mismatch for %d bytes: %x != %x", length, decoded, payload)
		}
	}
}

func TestDecodeWithNoise(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	noise := func(n int) []Symbol {
		out := make([]Symbol, n)
		for i := range out {
			out[i] = Symbol(rng.Intn(DataSymbols))
		}
		return out
	}

	for trial := 0; trial < 200; trial++ {
		payload := make([]byte, rng.Intn(MaxPayloadSize+1))
		rng.Read(payload)

		frame, err := Encode(payload)
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}

		var input []Symbol
		input = append(input, noise(rng.Intn(50))...)
		input = append(input, frame.Symbols()...)
		input = append(input, noise(rng.Intn(50))...)

		decoded, err := Decode(input)
		if err != nil {
			t.Fatalf("Trial %d: decode with noise failed: %v", trial, err)
		}
		if !bytes.Equal(decoded, payload) {
			t.Fatalf("Trial %d: payload mismatch %x != %x", trial, decoded, payload)
		}
	}
}

func TestDecodeSkipsLoneStartInNoise(t *testing.T) {
	frame, _ := Encode([]byte{0x01, 0x02})

	input := []Symbol{0x3, SymbolStart, 0x7, SymbolEnd, 0x1}
	input = append(input, frame.Symbols()...)

	decoded, err := Decode(input)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(decoded, []byte{0x01, 0x02}) {
		t.Errorf("Unexpected payload %x", decoded)
	}
}

// flipBit flips one bit of the byte whose high nibble sits at symbols[pos]
func flipBit(symbols []Symbol, pos int, bit uint) []Symbol {
	out := make([]Symbol, len(symbols))
	copy(out, symbols)

	idx := pos + 1
	mask := byte(1) << bit
	if bit >= 4 {
		idx = pos
		mask = byte(1) << (bit - 4)
	}
	n, _ := out[idx].Nibble()
	out[idx] = SymbolForNibble(n ^ mask)
	return out
}

func TestChecksumSensitivity(t *testing.T) {
	payloads := [][]byte{
		[]byte("CHAL-42"),
		{0x00},
		bytes.Repeat([]byte{0xFF}, 16),
		bytes.Repeat([]byte{0x5A}, MaxPayloadSize),
	}

	for _, payload := range payloads {
		frame, err := Encode(payload)
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		symbols := frame.Symbols()

		// Length byte starts right after the start marker; payload bytes follow
		bytePositions := []int{MarkerLength}
		for i := range payload {
			bytePositions = append(bytePositions, MarkerLength+LengthSymbols+i*2)
		}

		for _, pos := range bytePositions {
			for bit := uint(0); bit < 8; bit++ {
				corrupted := flipBit(symbols, pos, bit)
				decoded, err := Decode(corrupted)
				if err == nil {
					t.Fatalf("len=%d pos=%d bit=%d: expected failure, got payload %x",
						len(payload), pos, bit, decoded)
				}
				if !errors.Is(err, ErrChecksumMismatch) {
					t.Errorf("len=%d pos=%d bit=%d: expected checksum mismatch, got %v",
						len(payload), pos, bit, err)
				}
			}
		}
	}
}

func TestTruncation(t *testing.T) {
	frame, err := Encode([]byte("CHAL-42"))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	symbols := frame.Symbols()

	for cut := 1; cut < len(symbols); cut++ {
		_, err := Decode(symbols[:cut])
		if !errors.Is(err, ErrTruncated) {
			t.Errorf("Prefix of %d/%d symbols: expected truncated, got %v", cut, len(symbols), err)
		}
	}

	if _, err := Decode(nil); !errors.Is(err, ErrMarkerNotFound) {
		t.Errorf("Empty input: expected marker not found, got %v", err)
	}
}

func TestDecodeErrors(t *testing.T) {
	frame, _ := Encode([]byte{0xAB, 0xCD})
	symbols := frame.Symbols()

	withBadTerminator := make([]Symbol, len(symbols))
	copy(withBadTerminator, symbols)
	withBadTerminator[len(symbols)-2] = SymbolForNibble(0x3)

	tests := []struct {
		name        string
		input       []Symbol
		expectError error
	}{
		{
			name:        "noise only",
			input:       []Symbol{0x1, 0x2, 0x3, SymbolEnd, 0x4},
			expectError: ErrMarkerNotFound,
		},
		{
			name:        "end marker replaced by data",
			input:       withBadTerminator,
			expectError: ErrEndMarkerMissing,
		},
		{
			name:        "declared length above maximum",
			input:       []Symbol{SymbolStart, SymbolStart, SymbolForNibble(0xF), SymbolForNibble(0xF)},
			expectError: ErrChecksumMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.input)
			if !errors.Is(err, tt.expectError) {
				t.Errorf("Expected %v, got %v", tt.expectError, err)
			}
		})
	}
}

func TestDecodeResynchronizesAfterFailure(t *testing.T) {
	bad, _ := Encode([]byte("BAD"))
	good, _ := Encode([]byte("GOOD"))

	corrupted := flipBit(bad.Symbols(), MarkerLength+LengthSymbols, 3)

	input := append([]Symbol{}, corrupted...)
	input = append(input, 0x4, 0x9)
	input = append(input, good.Symbols()...)

	decoded, err := Decode(input)
	if err != nil {
		t.Fatalf("Expected recovery after corrupted frame, got %v", err)
	}
	if string(decoded) != "GOOD" {
		t.Errorf("Expected GOOD, got %q", decoded)
	}
}

func TestDecoderIgnoresStartMarkerMidFrame(t *testing.T) {
	frame, _ := Encode([]byte{0x10, 0x20, 0x30})
	symbols := frame.Symbols()

	// A spurious start marker pair inside the payload must not restart the frame
	input := append([]Symbol{}, symbols[:6]...)
	input = append(input, SymbolStart, SymbolStart)
	input = append(input, symbols[6:]...)

	var d Decoder
	var got []byte
	started := 0
	for _, sym := range input {
		ev := d.Feed(sym)
		switch ev.Kind {
		case EventFrameStarted:
			started++
		case EventFrame:
			got = ev.Payload
		case EventFailed:
			t.Fatalf("Unexpected failure: %v", ev.Err)
		}
	}

	if started != 1 {
		t.Errorf("Expected exactly one frame start, got %d", started)
	}
	if !bytes.Equal(got, []byte{0x10, 0x20, 0x30}) {
		t.Errorf("Unexpected payload %x", got)
	}
	stats := d.GetStats()
	if stats.FramesDecoded != 1 || stats.State != "searching" {
		t.Errorf("Unexpected decoder stats %+v", stats)
	}
}

func TestDecoderReset(t *testing.T) {
	frame, _ := Encode([]byte("CHAL-42"))
	symbols := frame.Symbols()

	var d Decoder
	for _, sym := range symbols[:10] {
		d.Feed(sym)
	}
	if !d.InFrame() {
		t.Fatal("Expected decoder to be mid-frame")
	}

	d.Reset()
	if d.Pending() {
		t.Error("Expected no pending state after reset")
	}

	var got []byte
	for _, sym := range symbols {
		if ev := d.Feed(sym); ev.Kind == EventFrame {
			got = ev.Payload
		}
	}
	if string(got) != "CHAL-42" {
		t.Errorf("Expected CHAL-42 after reset, got %q", got)
	}
}

func TestEmptyPayloadRoundTrip(t *testing.T) {
	frame, _ := Encode(nil)
	decoded, err := Decode(frame.Symbols())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded == nil || len(decoded) != 0 {
		t.Errorf("Expected empty non-nil payload, got %#v", decoded)
	}
}
