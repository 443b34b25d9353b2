// Package logging configures slog for careindex: JSON records to a
// size-rotated file under ~/.careindex/logs, optionally mirrored to stderr
// in text form when stderr is a terminal.
package logging
