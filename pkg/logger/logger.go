package logger

import (
	"os"
	"path/filepath"

	"solar-pump-rl/pkg/config"

	"github.com/sirupsen/logrus"
)

var Log *logrus.Logger

// Initialize sets up the logger from cfg. Every entry is stamped with fields,
// typically the controller ID or a training run ID, unless the entry already
// carries a value under the same key.
func Initialize(cfg *config.LoggingConfig, fields logrus.Fields) {
	Log = logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		Log.Warnf("Invalid log level '%s', using 'info'", cfg.Level)
		level = logrus.InfoLevel
	}
	Log.SetLevel(level)
	Log.SetFormatter(formatter(cfg.Format))
	Log.SetOutput(output(cfg.Output))

	if len(fields) > 0 {
		Log.AddHook(&fieldHook{fields: fields})
	}

	Log.Debugf("Logger initialized at level %s", level)
}

func formatter(format string) logrus.Formatter {
	switch format {
	case "json", "":
		return &logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		}
	case "text":
		return &logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		}
	default:
		Log.Warnf("Invalid log format '%s', using 'json'", format)
		return &logrus.JSONFormatter{}
	}
}

// output resolves stdout, stderr or a file path. Log files usually sit next
// to the plots and models, so a missing parent directory is created.
func output(target string) *os.File {
	switch target {
	case "stdout", "":
		return os.Stdout
	case "stderr":
		return os.Stderr
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		Log.Warnf("Failed to create log directory for '%s', using stdout: %v", target, err)
		return os.Stdout
	}
	file, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		Log.Warnf("Failed to open log file '%s', using stdout: %v", target, err)
		return os.Stdout
	}
	return file
}

type fieldHook struct {
	fields logrus.Fields
}

func (h *fieldHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *fieldHook) Fire(entry *logrus.Entry) error {
	for k, v := range h.fields {
		if _, ok := entry.Data[k]; !ok {
			entry.Data[k] = v
		}
	}
	return nil
}

// GetLogger returns the global logger instance
func GetLogger() *logrus.Logger {
	if Log == nil {
		Log = logrus.New()
		Log.SetLevel(logrus.InfoLevel)
		Log.SetFormatter(&logrus.JSONFormatter{})
	}
	return Log
}
