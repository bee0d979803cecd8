package models

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogLevel int

const (
	LogLevelInfo LogLevel = iota
	LogLevelWarning
	LogLevelError
	LogLevelDebug
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarning:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	case LogLevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case LogLevelWarning:
		return zapcore.WarnLevel
	case LogLevelError:
		return zapcore.ErrorLevel
	case LogLevelDebug:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseLogLevel maps "DEBUG", "INFO", "WARN", "ERROR" to a LogLevel. Unknown
// values fall back to INFO.
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return LogLevelDebug
	case "WARN", "WARNING":
		return LogLevelWarning
	case "ERROR":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

type LoadLogger struct {
	zap     *zap.Logger
	sugar   *zap.SugaredLogger
	logPath string
}

// NewLoadLogger writes to stdout and to a timestamped file under logDir.
func NewLoadLogger(logDir string, level LogLevel) (*LoadLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %v", err)
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	filename := fmt.Sprintf("chatload_%s.log", timestamp)
	logPath := filepath.Join(logDir, filename)

	logger, err := loggerConfig(level, "stdout", logPath).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %v", err)
	}

	return &LoadLogger{
		zap:     logger,
		sugar:   logger.Sugar(),
		logPath: logPath,
	}, nil
}

// NewLoadLoggerFromZap wraps an existing zap logger, e.g. zaptest.NewLogger(t).
func NewLoadLoggerFromZap(logger *zap.Logger) *LoadLogger {
	return &LoadLogger{
		zap:   logger,
		sugar: logger.Sugar(),
	}
}

// NewNopLoadLogger discards everything.
func NewNopLoadLogger() *LoadLogger {
	return NewLoadLoggerFromZap(zap.NewNop())
}

// loggerConfig leaves sampling off: every session error and invalid frame
// must reach the log, however often the same line repeats.
func loggerConfig(level LogLevel, outputs ...string) zap.Config {
	return zap.Config{
		Level:            zap.NewAtomicLevelAt(level.zapLevel()),
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    encoderConfig(),
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.RFC3339TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}
}

func (ll *LoadLogger) Close() error {
	// Sync on stdout returns EINVAL on some platforms; nothing to report.
	_ = ll.zap.Sync()
	return nil
}

func (ll *LoadLogger) Path() string {
	return ll.logPath
}

func (ll *LoadLogger) Info(format string, v ...any) {
	ll.sugar.Infof(format, v...)
}

func (ll *LoadLogger) Warning(format string, v ...any) {
	ll.sugar.Warnf(format, v...)
}

func (ll *LoadLogger) Error(format string, v ...any) {
	ll.sugar.Errorf(format, v...)
}

func (ll *LoadLogger) Debug(format string, v ...any) {
	ll.sugar.Debugf(format, v...)
}

// Run-specific logging methods
func (ll *LoadLogger) LogRunStart(runID string, targetURL string, stages []Stage) {
	ll.Info("=== LOAD TEST STARTED ===")
	ll.Info("Run: %s", runID)
	ll.Info("Target: %s", targetURL)
	ll.Info("Stages: %d (total %v, peak %d users)", len(stages), TotalDuration(stages), MaxTarget(stages))
	for i, st := range stages {
		ll.Info("  stage %d: %v -> %d users", i+1, st.Duration.Duration, st.Target)
	}
}

func (ll *LoadLogger) LogRunEnd(runID string, spawned int, elapsed time.Duration) {
	ll.Info("=== LOAD TEST ENDED ===")
	ll.Info("Run: %s", runID)
	ll.Info("Virtual users spawned: %d", spawned)
	ll.Info("Elapsed: %v", elapsed.Round(time.Millisecond))
}

func (ll *LoadLogger) LogStageChange(stage int, target int) {
	ll.Info("--- STAGE %d STARTED (target %d users) ---", stage, target)
}

func (ll *LoadLogger) LogSessionConnected(sessionID int, latency time.Duration) {
	ll.Debug("[VU-%d] connected in %v", sessionID, latency)
}

func (ll *LoadLogger) LogSessionClosed(sessionID int, state SessionState) {
	ll.Debug("[VU-%d] session finished: %s", sessionID, state)
}

func (ll *LoadLogger) LogSessionError(sessionID int, err error) {
	ll.Error("[VU-%d] %v", sessionID, err)
}

func (ll *LoadLogger) LogInvalidFrame(sessionID int, raw string, err error) {
	ll.Warning("[VU-%d] invalid frame %q: %v", sessionID, raw, err)
}

func (ll *LoadLogger) LogError(operation string, err error) {
	ll.Error("Error in %s: %v", operation, err)
}
