// Package metrics defines the Prometheus instruments for sessions, symbol
// detection, frame decoding, audio devices and the HTTP API.
package metrics
