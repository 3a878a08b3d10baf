// Package protocol implements the symbol codec for the audio proximity channel.
// It frames opaque payloads (start marker, length, payload, CRC-32, end marker),
// maps 4-bit groups onto the symbol alphabet, and decodes captured symbol
// sequences with an incremental, resynchronizing state machine.
package protocol
