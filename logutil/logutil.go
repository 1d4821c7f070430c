// Package logutil centralizes this server's slog setup. accel, registry
// and pipeline receive a *slog.Logger at construction and fall back to
// slog.Default() when given nil; the concrete tools in package tools
// pass nil and so log through slog.Default(), and mpsync does not log.
package logutil

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// NewLogger builds a *slog.Logger with a text handler writing to w (or
// os.Stderr if w is nil), at the given level, with source file/line
// attached and trimmed to a base name the way the reference project's
// setupLogging does for its terminal handler.
func NewLogger(level slog.Level, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			if attr.Key == slog.SourceKey {
				if source, ok := attr.Value.Any().(*slog.Source); ok {
					source.File = filepath.Base(source.File)
				}
			}
			return attr
		},
	})
	return slog.New(handler)
}

// Trunc bounds s to at most n runes, appending an ellipsis marker when it
// had to cut. Intended for logging buffer/field contents that could
// otherwise blow out a log line (e.g. a Sync payload dump at debug level).
func Trunc(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
