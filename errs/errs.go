// Package errs defines the error taxonomy shared across the avrctl core:
// config parsing, part/programmer lookup, transport, protocol, device and
// file-format failures. Callers distinguish kinds with errors.Is against
// the exported sentinels, and recover structured detail with errors.As
// against *Error.
package errs

import "fmt"

// Sentinels for the kinds spec.md §7 enumerates. Compare with errors.Is,
// never by switching on a string or a Kind constant.
var (
	ErrConfig      = kind("config error")
	ErrNotFound    = kind("not found")
	ErrTransport   = kind("transport error")
	ErrProtocol    = kind("protocol error")
	ErrDevice      = kind("device error")
	ErrFile        = kind("file error")
	ErrUnsupported = kind("unsupported")
)

type kind string

func (k kind) Error() string { return string(k) }

// Error wraps an underlying cause with a Kind sentinel and, where
// applicable, the (file, line) coordinates the teacher's config parser
// reports.
type Error struct {
	Kind error  // one of the Err* sentinels above
	File string // source coordinate, empty if not file-based
	Line int    // 1-based, 0 if not file-based
	Msg  string
	Err  error // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.File != "" {
		if e.Line > 0 {
			return fmt.Sprintf("%s: %s:%d: %s", e.Kind, e.File, e.Line, e.Msg)
		}
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.File, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap exposes both the kind sentinel (so errors.Is(err, errs.ErrDevice)
// works) and the wrapped cause (so the original error survives).
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// New builds a plain, non-file-coordinate error of the given kind.
func New(k error, msg string) error {
	return &Error{Kind: k, Msg: msg}
}

// Newf builds a plain error of the given kind with formatting.
func Newf(k error, format string, a ...any) error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, a...)}
}

// At builds a file-coordinate error, matching the teacher config parser's
// "line: %d" style reports.
func At(k error, file string, line int, format string, a ...any) error {
	return &Error{Kind: k, File: file, Line: line, Msg: fmt.Sprintf(format, a...)}
}

// Wrap attaches a Kind to an existing error without discarding it.
func Wrap(k error, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: k, Msg: msg, Err: err}
}
