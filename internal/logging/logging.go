// Package logging builds the process logger.
//
// The logger is constructed once in main and passed down explicitly; nothing
// in the service reads slog.Default. Init additionally installs it as the
// slog default (for libraries that log through the default) and refuses to
// run twice.
package logging

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"

	"github.com/sakif/newsletter/internal/config"
	"github.com/sakif/newsletter/internal/correlation"
)

// ErrAlreadyInitialized is returned by Init after the first successful call.
var ErrAlreadyInitialized = errors.New("logging: already initialized")

var initialized atomic.Bool

// New builds a logger writing to w. Records logged with a request context are
// stamped with the request's correlation data.
func New(cfg config.LogSettings, w io.Writer) *slog.Logger {
	level := ParseLevel(cfg.Level)

	var base slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		base = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		base = tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.DateTime,
			NoColor:    !isTerminal(w),
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == "error" && a.Value.Kind() == slog.KindAny {
					if err, ok := a.Value.Any().(error); ok {
						return tint.Err(err)
					}
				}
				return a
			},
		})
	}

	return slog.New(correlation.NewHandler(base))
}

// Init builds the process logger and installs it as the slog default. It must
// be called once; later calls return ErrAlreadyInitialized and change nothing.
func Init(cfg config.LogSettings, w io.Writer) (*slog.Logger, error) {
	if !initialized.CompareAndSwap(false, true) {
		return nil, ErrAlreadyInitialized
	}
	logger := New(cfg, w)
	slog.SetDefault(logger)
	return logger, nil
}

// ParseLevel maps a config level name to a slog level. Unknown names mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return term.IsTerminal(int(f.Fd()))
	}
	return false
}
