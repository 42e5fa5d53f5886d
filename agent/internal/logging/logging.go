// Package logging builds the agent's slog logger.
//
// Output always goes to stdout. When rotation is enabled a second handler
// writes to <log_path>/<log_name>.log rotated by lumberjack, keeping 30
// files so roughly a month of daily history survives.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options mirror the logging block of the agent config.
type Options struct {
	Mode     string // DEBUG, INFO, WARN, ERROR
	Path     string
	Name     string
	Rotation bool
}

// New builds the root logger. The returned closer stops the file writer and
// is a no-op when rotation is off.
func New(opts Options) (*slog.Logger, io.Closer) {
	level := parseLevel(opts.Mode)

	var w io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}

	if opts.Rotation && opts.Path != "" {
		name := opts.Name
		if name == "" {
			name = "agent"
		}
		lj := &lumberjack.Logger{
			Filename:   filepath.Join(opts.Path, name+".log"),
			MaxSize:    50, // MB before size-based rollover
			MaxBackups: 30,
			MaxAge:     30,
			Compress:   false,
		}
		w = io.MultiWriter(os.Stdout, lj)
		closer = lj
	}

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(handler), closer
}

func parseLevel(mode string) slog.Level {
	switch strings.ToUpper(mode) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
