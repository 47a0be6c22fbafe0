package utils

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger defines a simple interface for logging.
// Components depend on it instead of zap directly so tests can pass NoOpLogger.
type Logger interface {
	Debugf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
	Fatalf(format string, v ...interface{})
}

// LogLevel defines the verbosity of the logger.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	case LevelFatal:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// Callbacks run around every log line so a live progress bar can clear
// its line first and redraw afterwards.
var (
	logCallbacksMu sync.RWMutex
	beforeLog      func()
	afterLog       func()
)

// RegisterLogCallbacks installs the before/after hooks.
func RegisterLogCallbacks(before, after func()) {
	logCallbacksMu.Lock()
	beforeLog, afterLog = before, after
	logCallbacksMu.Unlock()
}

// UnregisterLogCallbacks removes any installed hooks.
func UnregisterLogCallbacks() {
	RegisterLogCallbacks(nil, nil)
}

func withLogCallbacks(fn func()) {
	logCallbacksMu.RLock()
	before, after := beforeLog, afterLog
	logCallbacksMu.RUnlock()
	if before != nil {
		before()
	}
	fn()
	if after != nil {
		after()
	}
}

// zapLogger adapts a zap.SugaredLogger to Logger.
type zapLogger struct {
	sugar *zap.SugaredLogger
}

// NewDefaultLogger creates a console logger writing to stderr.
// In silent mode everything below warnings is discarded.
func NewDefaultLogger(level LogLevel, noColor bool, silent bool) Logger {
	if silent && level < LevelWarn {
		level = LevelWarn
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = "T"
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	encCfg.CallerKey = ""
	encCfg.StacktraceKey = ""
	if noColor {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	} else {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		zap.NewAtomicLevelAt(level.zapLevel()),
	)
	return &zapLogger{sugar: zap.New(core).Sugar()}
}

// NewZapLogger wraps an existing zap logger.
func NewZapLogger(l *zap.Logger) Logger {
	return &zapLogger{sugar: l.Sugar()}
}

func (l *zapLogger) Debugf(format string, v ...interface{}) {
	if !l.sugar.Desugar().Core().Enabled(zapcore.DebugLevel) {
		return
	}
	withLogCallbacks(func() { l.sugar.Debugf(format, v...) })
}

func (l *zapLogger) Infof(format string, v ...interface{}) {
	if !l.sugar.Desugar().Core().Enabled(zapcore.InfoLevel) {
		return
	}
	withLogCallbacks(func() { l.sugar.Infof(format, v...) })
}

func (l *zapLogger) Warnf(format string, v ...interface{}) {
	withLogCallbacks(func() { l.sugar.Warnf(format, v...) })
}

func (l *zapLogger) Errorf(format string, v ...interface{}) {
	withLogCallbacks(func() { l.sugar.Errorf(format, v...) })
}

func (l *zapLogger) Fatalf(format string, v ...interface{}) {
	withLogCallbacks(func() { _ = l.sugar.Sync() })
	l.sugar.Fatalf(format, v...)
}

// NoOpLogger discards everything.
type NoOpLogger struct{}

func (l *NoOpLogger) Debugf(format string, args ...interface{}) {}
func (l *NoOpLogger) Infof(format string, args ...interface{})  {}
func (l *NoOpLogger) Warnf(format string, args ...interface{})  {}
func (l *NoOpLogger) Errorf(format string, args ...interface{}) {}
func (l *NoOpLogger) Fatalf(format string, args ...interface{}) {}

// StringToLogLevel converts a log level string to LogLevel type.
// Defaults to LevelInfo if the string is unrecognized.
func StringToLogLevel(levelStr string) LogLevel {
	switch strings.ToLower(levelStr) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		fmt.Fprintf(os.Stderr, "Unknown log level string '%s', defaulting to INFO.\n", levelStr)
		return LevelInfo
	}
}
