// Package log provides a simple, leveled logging interface for the runflow engine.
//
// # Log Levels
//
// Five levels, in order of increasing severity:
//
//   - LogLevelDebug: Detailed debugging information for development
//   - LogLevelInfo: General informational messages about normal operation
//   - LogLevelWarn: Warning messages for potentially problematic situations
//   - LogLevelError: Error messages for failures that need attention
//   - LogLevelNone: Disables all logging output
//
// # Example Usage
//
//	// Create a logger with INFO level
//	logger := log.NewDefaultLogger(log.LogLevelInfo)
//
//	logger.Info("run started: %s", runID)
//	logger.Warn("tool produced undeclared key: %s", key)
//	logger.Error("run failed: %v", err)
//
// # golog Integration
//
// For users who prefer the github.com/kataras/golog library, a minimal
// wrapper is provided:
//
//	glogger := golog.New()
//	glogger.SetPrefix("[myapp] ")
//	logger := log.NewGologLogger(glogger)
//
// The wrapper implements the same Logger interface and respects runflow log
// levels while using golog's formatting.
//
// # Thread Safety
//
// DefaultLogger is safe for concurrent use; Go's standard log.Logger handles
// synchronization internally.
package log
