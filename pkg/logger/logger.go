package logger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"opswatch/pkg/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Log *zap.Logger
var sugar *zap.SugaredLogger

// noRequestID is printed in place of the request id outside of request handling
const noRequestID = "0"

const timeLayout = "2006-01-02 15:04:05.000"

func init() {
	// Development logger until InitWith runs
	defaultConfig := zap.NewDevelopmentConfig()
	defaultConfig.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	defaultConfig.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(timeLayout)

	defaultLogger, _ := defaultConfig.Build(zap.AddCallerSkip(1))
	setGlobal(defaultLogger)
}

func setGlobal(l *zap.Logger) {
	Log = l
	sugar = l.Sugar()
}

// Init initializes logger from the global configuration
func Init() error {
	return InitWith(config.GlobalConfig.Logger)
}

// InitWith builds the global logger from an explicit logger configuration
func InitWith(cfg config.LoggerConfig) error {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout(timeLayout),
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	syncer, err := newSyncer(cfg)
	if err != nil {
		return err
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), syncer, zap.NewAtomicLevelAt(level))
	setGlobal(zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)))
	return nil
}

func newSyncer(cfg config.LoggerConfig) (zapcore.WriteSyncer, error) {
	switch cfg.Output {
	case "file", "both":
		file, err := openLogFile(cfg.File.Path)
		if err != nil {
			return nil, err
		}
		if cfg.Output == "both" {
			return zapcore.NewMultiWriteSyncer(zapcore.AddSync(os.Stdout), zapcore.AddSync(file)), nil
		}
		return zapcore.AddSync(file), nil
	default: // console
		return zapcore.AddSync(os.Stdout), nil
	}
}

// openLogFile opens path for appending, creating its directory first
func openLogFile(path string) (*os.File, error) {
	if path == "" {
		path = "logs/opswatch.log"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return file, nil
}

type requestIDKey struct{}

// WithRequestID returns a context whose log lines are prefixed with the request id
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext returns the request id carried by ctx, if any
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(requestIDKey{}).(string)
	return id, ok && id != ""
}

func prefix(ctx context.Context) string {
	if id, ok := RequestIDFromContext(ctx); ok {
		return id + "\t"
	}
	return noRequestID + "\t"
}

func DebugCtx(ctx context.Context, format string, args ...interface{}) {
	sugar.Debugf(prefix(ctx)+format, args...)
}

func InfoCtx(ctx context.Context, format string, args ...interface{}) {
	sugar.Infof(prefix(ctx)+format, args...)
}

func WarnCtx(ctx context.Context, format string, args ...interface{}) {
	sugar.Warnf(prefix(ctx)+format, args...)
}

func ErrorCtx(ctx context.Context, format string, args ...interface{}) {
	sugar.Errorf(prefix(ctx)+format, args...)
}

func FatalCtx(ctx context.Context, format string, args ...interface{}) {
	sugar.Fatalf(prefix(ctx)+format, args...)
}

// Sync flushes any buffered log entries
func Sync() error {
	return Log.Sync()
}
