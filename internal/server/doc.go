// Package server implements the local HTTP control API. It plays the caller
// role for the session controller: emit a payload, listen for one frame,
// stop the active session and report status, health, configuration and
// Prometheus metrics.
package server
