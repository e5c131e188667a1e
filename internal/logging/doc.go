// Package logging provides the structured log sink for the jsonwire server.
//
// The package wraps a zap logger behind an explicitly constructed Logger
// service. The listener and every connection worker receive the same *Logger
// by injection; there is no package-level instance.
//
// # Lifecycle
//
//	log, err := logging.New(logging.Config{
//	    Level:   "info",
//	    Console: true,
//	    Dir:     "./logs",
//	})
//	if err != nil {
//	    return err // startup cannot continue without a log sink
//	}
//	defer log.Close()
//
// New opens the file sink eagerly, so a directory that cannot be written fails
// at startup. Close flushes the zap core and closes the file.
//
// # Outputs
//
// Entries are written as timestamped console lines to stdout and, when Dir is
// set, to a lumberjack-managed file. The default file name is the creation time
// formatted as 2006_01_02_150405.log. Rotation is size based.
//
// # Log Levels
//
//   - Debug: raw received chunks (hex + ascii dumps), framed documents, sends
//   - Info: accepts, disconnects, reaps, startup
//   - Warn: heartbeat timeouts, dropped responses, dispatch failures
//   - Error: accept failures, connection init failures, I/O errors
//
// The level is atomic and can be changed at runtime with SetLevel, which is
// how the config watcher applies a reloaded log.level.
//
// # Thread Safety
//
// All methods are safe for concurrent use. zap serializes writes to each sink.
package logging
