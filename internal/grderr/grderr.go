// Package grderr defines the error taxonomy shared across the server so
// callers can branch on what went wrong instead of matching strings.
package grderr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error. Zero value is KindUnknown and should not be
// constructed directly by callers.
type Kind int

const (
	KindUnknown Kind = iota
	// KindInvalidArgument means a caller-supplied value failed validation
	// (malformed PDU, out-of-range surface ID, bad config value).
	KindInvalidArgument
	// KindNotSupported means the operation is understood but this server
	// (or the negotiated capability set) does not implement it.
	KindNotSupported
	// KindPermissionDenied means the caller lacks authority for the
	// operation (PAM rejection, UID mismatch on a handover socket).
	KindPermissionDenied
	// KindWouldBlock means the operation could not complete without
	// waiting (frame queue full, outstanding ACK budget exhausted) and
	// the caller should retry or drop the unit of work.
	KindWouldBlock
	// KindNeedsKeyframe means the encoder state requires a full frame
	// before further delta encoding can proceed (first frame, codec
	// switch, client-reported decode loss).
	KindNeedsKeyframe
	// KindCancelled means the operation was abandoned because its
	// context was cancelled or the owning session tore down.
	KindCancelled
	// KindFailed is a generic operational failure (I/O error, a
	// collaborator process exited, a syscall failed) that doesn't fit a
	// more specific kind.
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindNotSupported:
		return "not_supported"
	case KindPermissionDenied:
		return "permission_denied"
	case KindWouldBlock:
		return "would_block"
	case KindNeedsKeyframe:
		return "needs_keyframe"
	case KindCancelled:
		return "cancelled"
	case KindFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Error is the concrete error type carrying a Kind, a message, and an
// optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, grderr.ErrWouldBlock) match any *Error of that kind,
// not just a specific sentinel instance.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind around a caused-by error.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func InvalidArgument(format string, args ...any) *Error { return newf(KindInvalidArgument, format, args...) }
func NotSupported(format string, args ...any) *Error    { return newf(KindNotSupported, format, args...) }
func PermissionDenied(format string, args ...any) *Error { return newf(KindPermissionDenied, format, args...) }
func WouldBlock(format string, args ...any) *Error      { return newf(KindWouldBlock, format, args...) }
func NeedsKeyframe(format string, args ...any) *Error   { return newf(KindNeedsKeyframe, format, args...) }
func Cancelled(format string, args ...any) *Error       { return newf(KindCancelled, format, args...) }
func Failed(format string, args ...any) *Error          { return newf(KindFailed, format, args...) }

// sentinels usable with errors.Is(err, grderr.ErrWouldBlock) without
// constructing a throwaway *Error at the call site.
var (
	ErrInvalidArgument  = &Error{Kind: KindInvalidArgument}
	ErrNotSupported     = &Error{Kind: KindNotSupported}
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied}
	ErrWouldBlock       = &Error{Kind: KindWouldBlock}
	ErrNeedsKeyframe    = &Error{Kind: KindNeedsKeyframe}
	ErrCancelled        = &Error{Kind: KindCancelled}
	ErrFailed           = &Error{Kind: KindFailed}
)

// Of extracts the Kind of err, walking the chain with errors.As. Returns
// KindUnknown if err is nil or isn't a *Error anywhere in its chain.
func Of(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
