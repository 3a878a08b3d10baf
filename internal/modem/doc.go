// Package modem plays frames through an output device and listens for them
// on an input device.
//
// The Transmitter renders a protocol.Frame into tone bursts and plays it
// exactly once. The Receiver runs capture buffers through the block
// detector, the symbol slicer and the incremental frame decoder until a
// checksum-valid frame arrives, the deadline passes, the context is
// cancelled or the device fails. Every attempt ends in one DecodeResult.
package modem
