// Package logging builds the shared slog logger with console and JSON
// handlers plus the standardized attribute keys used across components.
package logging
