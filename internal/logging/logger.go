package logging

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevelEnvVar is the environment variable that controls logging verbosity
// when no level is configured. When unset or empty, logging is silent.
// Valid values: "debug", "info", "warn", "error"
const LogLevelEnvVar = "JSONWIRE_LOG_LEVEL"

// OffLevel sits above every zap level, so a sink at OffLevel writes nothing
// until SetLevel lowers it.
const OffLevel = zapcore.FatalLevel + 1

// FileNameLayout names a log file after the time the logger was created
const FileNameLayout = "2006_01_02_150405"

// Config controls where and how much the Logger writes
type Config struct {
	Level string // debug, info, warn, error, off; empty = off unless LogLevelEnvVar is set

	Console bool   // Write to stdout
	Dir     string // Directory for the log file (empty = no file)
	File    string // File name inside Dir (empty = FileNameLayout + ".log")

	MaxSizeMB  int  // Rotate after this many megabytes (0 = lumberjack default)
	MaxBackups int  // Rotated files to keep (0 = all)
	MaxAgeDays int  // Days to keep rotated files (0 = forever)
	Compress   bool // Gzip rotated files
}

// Logger is a timestamped, append-only log sink shared by the listener and all
// connection workers. All methods are safe for concurrent use.
type Logger struct {
	zap   *zap.Logger
	level zap.AtomicLevel
	file  *lumberjack.Logger
	path  string
	sinks int
}

// New creates a Logger writing to stdout and/or a rotating file.
// Call Close when done to flush and release the file.
func New(cfg Config) (*Logger, error) {
	level := cfg.Level
	if level == "" {
		level = os.Getenv(LogLevelEnvVar)
	}

	// No level and no sink: nothing can ever be written
	if level == "" && !cfg.Console && cfg.Dir == "" {
		return Nop(), nil
	}

	// No level but a sink: build it switched off so a reload can turn it on
	initial := OffLevel
	if level != "" {
		initial = ParseLevel(level)
	}
	atomicLevel := zap.NewAtomicLevelAt(initial)

	var cores []zapcore.Core
	l := &Logger{level: atomicLevel}

	if cfg.Console {
		consoleEncoder := zap.NewDevelopmentEncoderConfig()
		consoleEncoder.EncodeLevel = zapcore.CapitalColorLevelEncoder
		consoleEncoder.EncodeTime = zapcore.ISO8601TimeEncoder
		consoleEncoder.EncodeCaller = zapcore.ShortCallerEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleEncoder),
			zapcore.Lock(os.Stdout),
			atomicLevel,
		))
	}

	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		name := cfg.File
		if name == "" {
			name = time.Now().Format(FileNameLayout) + ".log"
		}
		l.path = filepath.Join(cfg.Dir, name)

		// Open eagerly so an unwritable sink fails startup instead of the first write
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		_ = f.Close()

		l.file = &lumberjack.Logger{
			Filename:   l.path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			LocalTime:  true,
			Compress:   cfg.Compress,
		}

		fileEncoder := zap.NewDevelopmentEncoderConfig()
		fileEncoder.EncodeLevel = zapcore.CapitalLevelEncoder
		fileEncoder.EncodeTime = zapcore.ISO8601TimeEncoder
		fileEncoder.EncodeCaller = zapcore.ShortCallerEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(fileEncoder),
			zapcore.AddSync(l.file),
			atomicLevel,
		))
	}

	if len(cores) == 0 {
		return nil, fmt.Errorf("failed to initialize logger: no output configured")
	}

	l.sinks = len(cores)
	l.zap = zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))
	return l, nil
}

// Nop returns a Logger that discards everything
func Nop() *Logger {
	return &Logger{
		zap:   zap.NewNop(),
		level: zap.NewAtomicLevelAt(OffLevel),
	}
}

// NewWithCore wraps an existing zap core. Used by tests to observe log output.
func NewWithCore(core zapcore.Core) *Logger {
	return &Logger{
		zap:   zap.New(core),
		level: zap.NewAtomicLevelAt(zapcore.DebugLevel),
		sinks: 1,
	}
}

// ParseLevel maps a level name to a zap level. Unknown names map to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "off", "none", "silent":
		return OffLevel
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// SetLevel changes the minimum level at runtime. It reports false when the
// Logger has no sink, so the change cannot take effect.
func (l *Logger) SetLevel(level string) bool {
	l.level.SetLevel(ParseLevel(level))
	return l.sinks > 0
}

// Level returns the current minimum level
func (l *Logger) Level() zapcore.Level {
	return l.level.Level()
}

// Path returns the log file path, or "" when no file sink is configured
func (l *Logger) Path() string {
	return l.path
}

// Zap exposes the underlying zap logger
func (l *Logger) Zap() *zap.Logger {
	return l.zap
}

// With returns a child Logger that adds fields to every entry
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{
		zap:   l.zap.With(fields...),
		level: l.level,
		file:  l.file,
		path:  l.path,
		sinks: l.sinks,
	}
}

// Info logs an info message
func (l *Logger) Info(msg string, fields ...zap.Field) {
	l.zap.Info(msg, fields...)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, fields ...zap.Field) {
	l.zap.Debug(msg, fields...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, fields ...zap.Field) {
	l.zap.Warn(msg, fields...)
}

// Error logs an error message
func (l *Logger) Error(msg string, fields ...zap.Field) {
	l.zap.Error(msg, fields...)
}

// Connection logs a connection lifecycle event
func (l *Logger) Connection(event string, fields ...zap.Field) {
	l.zap.Info("Connection event", append([]zap.Field{zap.String("event", event)}, fields...)...)
}

// RawBytes logs raw bytes at debug level (useful for debugging framing issues)
func (l *Logger) RawBytes(label string, data []byte, fields ...zap.Field) {
	if !l.zap.Core().Enabled(zapcore.DebugLevel) {
		return
	}
	l.zap.Debug(label, append(fields,
		zap.Int("length", len(data)),
		zap.String("hex", hexDump(data)),
		zap.String("ascii", asciiDump(data)),
	)...)
}

// Sync flushes any buffered log entries
func (l *Logger) Sync() error {
	return l.zap.Sync()
}

// Close flushes the logger and closes the file sink
func (l *Logger) Close() error {
	// Sync on stdout returns EINVAL on some platforms; it carries no data loss
	_ = l.zap.Sync()
	if l.file != nil {
		if err := l.file.Close(); err != nil {
			return fmt.Errorf("failed to close log file: %w", err)
		}
	}
	return nil
}

func hexDump(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	// Limit to first 256 bytes for logging
	if len(data) > 256 {
		return hex.EncodeToString(data[:256]) + "..."
	}
	return hex.EncodeToString(data)
}

func asciiDump(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	if len(data) > 256 {
		data = data[:256]
	}

	result := make([]byte, len(data))
	for i, b := range data {
		if b >= 32 && b <= 126 {
			result[i] = b
		} else {
			result[i] = '.'
		}
	}
	return string(result)
}
