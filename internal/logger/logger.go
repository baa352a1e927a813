package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Output formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// LoggerConfig defines the configuration for the logger.
type LoggerConfig struct {
	Level      string // debug, info, warn or error
	Format     string // json (default) or text
	FilePath   string // rotated log file, empty for console only
	MaxSize    int    // MB before rotation
	MaxBackups int
	MaxAge     int // days
	Compress   bool
	Console    bool // also write to stderr
}

// NewLogger returns a logrus.Logger writing to a rotated file and, optionally,
// stderr. Stdout is left to command output.
func NewLogger(config LoggerConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		return nil, err
	}
	formatter, err := newFormatter(config.Format)
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(formatter)

	var writers []io.Writer
	if config.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(config.FilePath), 0755); err != nil {
			return nil, err
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   config.FilePath,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		})
	}
	if config.Console || len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}
	logger.SetOutput(io.MultiWriter(writers...))

	return logger, nil
}

func newFormatter(format string) (logrus.Formatter, error) {
	switch strings.ToLower(format) {
	case "", FormatJSON:
		return &logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
				logrus.FieldKeyFunc:  "function",
			},
		}, nil
	case FormatText:
		return &logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05",
		}, nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// WithFile returns a logger entry with the specified file context.
func WithFile(logger *logrus.Logger, filePath string) *logrus.Entry {
	return logger.WithField("file", filePath)
}

// WithOperation returns a logger entry with the specified operation context.
func WithOperation(logger *logrus.Logger, operation string) *logrus.Entry {
	return logger.WithField("operation", operation)
}

// WithFileOperation returns a logger entry with both file and operation context.
func WithFileOperation(logger *logrus.Logger, filePath, operation string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"file":      filePath,
		"operation": operation,
	})
}

// WithStage returns a logger entry for one pipeline stage acting on a source.
func WithStage(logger *logrus.Logger, stage, source string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"stage":  stage,
		"source": source,
	})
}

// Discard returns a logger that drops everything.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
