// Package audio turns protocol symbols into sound and back.
// It renders tone bursts, classifies capture blocks with a Goertzel filter
// bank, slices block detections into symbols, buffers capture chunks into
// fixed-size blocks, and reads and writes 16-bit PCM WAV files.
package audio
