// Package logging configures the process wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/rustyeddy/straddle/config"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup applies cfg to logger. With a file configured, output goes to both
// stdout and a size rotated file. The returned closer releases the file.
func Setup(logger *logrus.Logger, cfg config.LoggingConfig) (io.Closer, error) {
	level := logrus.InfoLevel
	if cfg.Level != "" {
		lvl, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("logging.level: %w", err)
		}
		level = lvl
	}
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	if cfg.File == "" {
		logger.SetOutput(os.Stdout)
		return io.NopCloser(nil), nil
	}

	rot := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
	}
	logger.SetOutput(io.MultiWriter(os.Stdout, rot))
	return rot, nil
}
