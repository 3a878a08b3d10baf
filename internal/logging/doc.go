// Package logging builds the service's log/slog logger from configuration.
package logging
