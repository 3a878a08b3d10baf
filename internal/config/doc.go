// Package config loads and validates the YAML configuration of the proximity
// audio service. Durations are written in seconds and exposed as
// time.Duration through Get helpers. Missing keys fall back to Default.
package config
