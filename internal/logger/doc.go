// Package logger provides a simple, thread-safe logging facility.
//
// The logger supports four levels: Debug, Info, Warn, and Error.
// Each log entry includes a timestamp, level, an optional tag naming the
// component that wrote it (a worker, the verifier, the controller), and the
// message.
//
// # Basic Usage
//
// Using the default logger:
//
//	logger.Info("", "Run started")
//	logger.Info("worker-3", "Worker finished (%d calls)", n)
//	logger.Warn("verifier", "Count mismatch: expected %d, observed %d", exp, obs)
//
// Creating a custom logger:
//
//	l := logger.New(os.Stderr, logger.LevelDebug)
//	l.Debug("bench", "Debug message")
//
// # Log Levels
//
// Messages below the configured level are filtered:
//   - LevelDebug: all messages
//   - LevelInfo: Info, Warn, Error
//   - LevelWarn: Warn, Error
//   - LevelError: Error only
//
// ParseLevel maps the CLI --log-level values (debug, info, warn, error).
//
// # Thread Safety
//
// All logging operations are protected by a mutex and safe for concurrent use.
package logger
