package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents logging verbosity
type Level int

const (
	ErrorLevel Level = iota
	InfoLevel
	DebugLevel
	TraceLevel
)

var levelNames = map[Level]string{
	ErrorLevel: "ERROR",
	InfoLevel:  "INFO",
	DebugLevel: "DEBUG",
	TraceLevel: "TRACE",
}

// traceLevel sits below zap's debug level so trace records keep their own
// level in the log file
const traceLevel = zapcore.DebugLevel - 1

// zapLevel maps a verbosity to the level written to the log file
func (l Level) zapLevel() zapcore.Level {
	switch l {
	case ErrorLevel:
		return zapcore.ErrorLevel
	case InfoLevel:
		return zapcore.InfoLevel
	case DebugLevel:
		return zapcore.DebugLevel
	}
	return traceLevel
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// Logger writes plain messages to the console and, when a log directory is
// configured, timestamped records to a log file.
type Logger struct {
	level   Level
	mu      sync.Mutex
	logFile *os.File
	console *zap.Logger
	file    *zap.Logger
}

// New creates a logger writing to stdout/stderr and, if logDir is set, to a
// new file inside logDir.
func New(level Level, logDir string) (*Logger, error) {
	l := NewWithWriters(level, os.Stdout, os.Stderr)

	if logDir != "" {
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}

		logPath := filepath.Join(logDir, fmt.Sprintf("lcov-import-%s.log", time.Now().Format("20060102-150405")))
		f, err := os.Create(logPath)
		if err != nil {
			return nil, fmt.Errorf("create log file: %w", err)
		}
		l.logFile = f
		// verbosity is filtered before records reach the core
		all := zap.LevelEnablerFunc(func(zapcore.Level) bool { return true })
		l.file = zap.New(zapcore.NewCore(fileEncoder(), zapcore.AddSync(f), all))
	}

	return l, nil
}

// NewWithWriters creates a console-only logger on the given writers
func NewWithWriters(level Level, stdout, stderr io.Writer) *Logger {
	enc := consoleEncoder()
	belowError := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool { return lvl < zapcore.ErrorLevel })
	atLeastError := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool { return lvl >= zapcore.ErrorLevel })

	core := zapcore.NewTee(
		zapcore.NewCore(enc, zapcore.AddSync(stdout), belowError),
		zapcore.NewCore(enc, zapcore.AddSync(stderr), atLeastError),
	)

	return &Logger{
		level:   level,
		console: zap.New(core),
	}
}

// Discard returns a logger that drops everything
func Discard() *Logger {
	return &Logger{level: ErrorLevel, console: zap.NewNop()}
}

func consoleEncoder() zapcore.Encoder {
	return zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		MessageKey: "msg",
		LineEnding: zapcore.DefaultLineEnding,
	})
}

func fileEncoder() zapcore.Encoder {
	cfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05"),
		EncodeLevel:    encodeFileLevel,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	return zapcore.NewConsoleEncoder(cfg)
}

func encodeFileLevel(lvl zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if lvl == traceLevel {
		enc.AppendString(TraceLevel.String())
		return
	}
	zapcore.CapitalLevelEncoder(lvl, enc)
}

// Level returns the configured verbosity
func (l *Logger) Level() Level {
	return l.level
}

// Close flushes and closes the log file
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_ = l.console.Sync()
	if l.file != nil {
		_ = l.file.Sync()
	}
	if l.logFile != nil {
		err := l.logFile.Close()
		l.logFile = nil
		l.file = nil
		return err
	}
	return nil
}

// log writes a levelled message. The file gets every message at or below the
// configured verbosity, at the matching level.
func (l *Logger) log(level Level, format string, args ...interface{}) {
	if level > l.level {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	msg := fmt.Sprintf(format, args...)

	if l.file != nil {
		l.file.Log(level.zapLevel(), msg)
	}

	if level == ErrorLevel {
		l.console.Error("❌ " + msg)
	} else {
		l.console.Info(msg)
	}
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(ErrorLevel, format, args...)
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(InfoLevel, format, args...)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(DebugLevel, format, args...)
}

// Trace logs a trace message
func (l *Logger) Trace(format string, args ...interface{}) {
	l.log(TraceLevel, format, args...)
}

// tagged writes an always-shown message with a console prefix and a file tag
func (l *Logger) tagged(lvl zapcore.Level, tag, prefix, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	msg := fmt.Sprintf(format, args...)

	if l.file != nil {
		l.file.Log(lvl, fmt.Sprintf("[%s] %s", tag, msg))
	}
	l.console.Info(prefix + msg)
}

// Progress logs a progress message (always shown)
func (l *Logger) Progress(format string, args ...interface{}) {
	l.tagged(zapcore.InfoLevel, "PROGRESS", "⏳ ", format, args...)
}

// Success logs a success message (always shown)
func (l *Logger) Success(format string, args ...interface{}) {
	l.tagged(zapcore.InfoLevel, "SUCCESS", "✅ ", format, args...)
}

// Warning logs a warning message (always shown)
func (l *Logger) Warning(format string, args ...interface{}) {
	l.tagged(zapcore.WarnLevel, "WARNING", "⚠️  ", format, args...)
}

// ParseLevel parses a string into a log level
func ParseLevel(s string) (Level, error) {
	switch s {
	case "error":
		return ErrorLevel, nil
	case "info":
		return InfoLevel, nil
	case "debug":
		return DebugLevel, nil
	case "trace":
		return TraceLevel, nil
	default:
		return InfoLevel, fmt.Errorf("invalid log level: %s (valid: error, info, debug, trace)", s)
	}
}
