// Package device defines the audio input and output interfaces used by the
// modem and session packages, the hardware error type, and two backends:
// Air, an in-process acoustic medium shared by simulated devices, and
// WAVBackend, which plays into and records from WAV files.
//
// Platform audio drivers live in the host application and are injected
// through the Backend interface.
package device
