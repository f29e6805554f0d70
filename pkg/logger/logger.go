package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/patchline/relay/internal/common/config"
)

var (
	timezoneOnce sync.Once
	timezone     *time.Location
)

// levelByName maps the lowercased config string to its zapcore.Level.
// Anything not in this table falls back to InfoLevel in getLogLevel.
var levelByName = map[string]zapcore.Level{
	"debug":  zapcore.DebugLevel,
	"info":   zapcore.InfoLevel,
	"warn":   zapcore.WarnLevel,
	"error":  zapcore.ErrorLevel,
	"dpanic": zapcore.DPanicLevel,
	"panic":  zapcore.PanicLevel,
	"fatal":  zapcore.FatalLevel,
}

// NewLogger builds a zap.Logger from cfg, filling in defaults first.
// Output is either stdout or a lumberjack-rotated file; cfg.ServiceName,
// if set, is stamped onto every record so a log aggregator can split this
// binary's output from the rest of a deployment without relying on the
// filename.
func NewLogger(cfg *config.LoggerConfig) (*zap.Logger, error) {
	setLoggerDefaults(cfg)

	encoder := getEncoder(cfg)
	var syncer zapcore.WriteSyncer
	if cfg.Output == "file" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
			return nil, fmt.Errorf("logger: create log directory: %w", err)
		}
		syncer = getLogWriter(cfg)
	} else {
		syncer = zapcore.AddSync(os.Stdout)
	}

	core := zapcore.NewCore(encoder, syncer, getLogLevel(cfg.Level))
	opts := []zap.Option{zap.AddCaller()}
	if cfg.ServiceName != "" {
		opts = append(opts, zap.Fields(zap.String("service", cfg.ServiceName)))
	}
	if cfg.Stacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	return zap.New(core, opts...), nil
}

// setLoggerDefaults fills in every unset field of cfg with this package's
// defaults, in place.
func setLoggerDefaults(cfg *config.LoggerConfig) {
	defaults := config.LoggerConfig{
		Level:      "info",
		Format:     "json",
		Output:     "stdout",
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     7,
		TimeZone:   "Local",
		TimeFormat: "2006-01-02 15:04:05",
	}

	if cfg.Level == "" {
		cfg.Level = defaults.Level
	}
	if cfg.Format == "" {
		cfg.Format = defaults.Format
	}
	if cfg.Output == "" {
		cfg.Output = defaults.Output
	}
	if cfg.MaxSize == 0 {
		cfg.MaxSize = defaults.MaxSize
	}
	if cfg.MaxBackups == 0 {
		cfg.MaxBackups = defaults.MaxBackups
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = defaults.MaxAge
	}
	if cfg.TimeZone == "" {
		cfg.TimeZone = defaults.TimeZone
	}
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = defaults.TimeFormat
	}
}

// getEncoder builds the zapcore.Encoder matching cfg.Format, with
// timestamps rendered in cfg.TimeZone/cfg.TimeFormat.
func getEncoder(cfg *config.LoggerConfig) zapcore.Encoder {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeTime: func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(t.In(resolveTimeZone(cfg)).Format(cfg.TimeFormat))
		},
	}
	if cfg.Color && cfg.Format == "console" {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if cfg.Format == "json" {
		return zapcore.NewJSONEncoder(encoderConfig)
	}
	return zapcore.NewConsoleEncoder(encoderConfig)
}

// resolveTimeZone resolves cfg.TimeZone to a *time.Location once per
// process; an unset or unrecognized zone falls back to time.Local.
func resolveTimeZone(cfg *config.LoggerConfig) *time.Location {
	timezoneOnce.Do(func() {
		loc, err := time.LoadLocation(cfg.TimeZone)
		if cfg.TimeZone == "" || err != nil || loc == nil {
			timezone = time.Local
			return
		}
		timezone = loc
	})
	return timezone
}

// getLogWriter wraps cfg's rotation settings in a lumberjack.Logger.
func getLogWriter(cfg *config.LoggerConfig) zapcore.WriteSyncer {
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		LocalTime:  true,
		Compress:   cfg.Compress,
	})
}

// getLogLevel converts a config level string to its zapcore.Level,
// defaulting to InfoLevel for anything unrecognized (including "").
func getLogLevel(level string) zapcore.Level {
	if l, ok := levelByName[strings.ToLower(level)]; ok {
		return l
	}
	return zapcore.InfoLevel
}
