// Package logging wraps log/slog with the three message levels spec.md §7
// names (MsgExtError, MsgError, MsgWarning) and a per-subsystem verbosity
// mask, the way the teacher's util/logger and util/debug packages wrap
// slog and gate debug tracing respectively.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Message levels, ordered so a higher value is more severe. MsgWarning and
// above reach stderr even in quiet mode, once the configured slog.Level
// lets them through (Enabled filters on it first); the
// quell flags described in spec.md §7 are implemented by callers choosing
// not to log, not by the handler.
const (
	MsgExtError = slog.Level(12) // extended/verbose error detail
	MsgError    = slog.Level(8)
	MsgWarning  = slog.Level(4)
	MsgInfo     = slog.LevelInfo
	MsgDebug    = slog.LevelDebug
)

// Handler is a slog.Handler that writes "time level message attrs" lines
// to an optional log file and mirrors warnings/errors to stderr, adapted
// from the teacher's util/logger.LogHandler.
type Handler struct {
	out   io.Writer
	inner slog.Handler
	mu    *sync.Mutex
	quiet bool // when true, only MsgWarning+ reach stderr
}

// NewHandler builds a Handler writing to file (nil is fine, meaning no
// persistent log) with the given minimum level.
func NewHandler(file io.Writer, level slog.Leveler, quiet bool) *Handler {
	return &Handler{
		out: file,
		inner: slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
			Level: level,
		}),
		mu:    &sync.Mutex{},
		quiet: quiet,
	}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{out: h.out, inner: h.inner.WithAttrs(attrs), mu: h.mu, quiet: h.quiet}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{out: h.out, inner: h.inner.WithGroup(name), mu: h.mu, quiet: h.quiet}
}

func levelName(l slog.Level) string {
	switch {
	case l >= MsgExtError:
		return "EXTERROR"
	case l >= MsgError:
		return "ERROR"
	case l >= MsgWarning:
		return "WARNING"
	case l >= MsgInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	strs := []string{r.Time.Format("2006/01/02 15:04:05"), levelName(r.Level) + ":", r.Message}
	r.Attrs(func(a slog.Attr) bool {
		strs = append(strs, a.Value.String())
		return true
	})
	line := strings.Join(strs, " ") + "\n"
	b := []byte(line)

	h.mu.Lock()
	defer h.mu.Unlock()

	var err error
	if h.out != nil {
		_, err = h.out.Write(b)
	}
	if !h.quiet || r.Level >= MsgWarning {
		_, err = os.Stderr.Write(b)
	}
	return err
}

// New builds a *slog.Logger on top of a Handler and also installs it as
// the process default, matching main.go's slog.SetDefault(Logger).
func New(file io.Writer, level slog.Leveler, quiet bool) *slog.Logger {
	l := slog.New(NewHandler(file, level, quiet))
	slog.SetDefault(l)
	return l
}
