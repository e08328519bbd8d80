// Package logging provides the structured leveled logger shared by every
// pgib component.
//
// # Overview
//
// The logging package provides a structured logging interface with support
// for:
//
//   - Multiple log levels (debug, info, warn, error)
//   - Text and JSON output formats
//   - Field-based contextual logging
//
// # Creating a Logger
//
// Create a logger with configuration:
//
//	logger := logging.New(logging.Config{
//	    Level:  logging.LevelInfo,
//	    Format: logging.FormatJSON,
//	    Output: os.Stderr,
//	})
//
// Or use defaults:
//
//	logger := logging.NewDefault() // Info level, text format, stdout
//
// For testing, use a no-op logger:
//
//	logger := logging.NewNop()
//
// # Log Levels
//
// Four log levels are supported:
//
//	logger.Debug("detailed debugging info", "key", "value")
//	logger.Info("informational message", "key", "value")
//	logger.Warn("warning message", "key", "value")
//	logger.Error("error message", "key", "value")
//
// The CLI's -v verbosity count maps onto a level via LevelFromVerbosity.
//
// # Contextual Fields
//
// Create loggers with persistent fields so every entry a component emits
// carries the path or worker index it's operating on:
//
//	fileLogger := logger.WithFields("path", relPath, "worker", workerID)
//	fileLogger.Info("falling back to full backup", "reason", "short read")
//
// # Output Formats
//
// Text format (human-readable):
//
//	2026-02-18T10:30:00Z [info] falling back to full backup path=base/1/16384 reason=short read
//
// JSON format (machine-parseable):
//
//	{"ts":"2026-02-18T10:30:00Z","level":"info","msg":"falling back to full backup",...}
package logging
