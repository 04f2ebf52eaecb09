package randread

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures on the open and request paths.
type ErrorKind string

const (
	KindOpen      ErrorKind = "OPEN"
	KindIO        ErrorKind = "IO"
	KindShortRead ErrorKind = "SHORT_READ"
	KindRange     ErrorKind = "RANGE"
	KindAlignment ErrorKind = "ALIGNMENT"
	KindCapacity  ErrorKind = "CAPACITY"
	KindClosed    ErrorKind = "CLOSED"
	KindInvalid   ErrorKind = "INVALID"
)

// Error codes refine a kind where callers may want to branch on the cause.
const (
	CodeNotFound          = "NOT_FOUND"
	CodePermission        = "PERMISSION"
	CodeDirectUnsupported = "DIRECT_UNSUPPORTED"
	CodeRingUnsupported   = "RING_UNSUPPORTED"
	CodeBadLength         = "BAD_LENGTH"
	CodeEmpty             = "EMPTY"
	CodeLayoutMismatch    = "LAYOUT_MISMATCH"
	CodeMapFailed         = "MAP_FAILED"
)

// Error is the structured error returned by every store.
type Error struct {
	Kind    ErrorKind
	Code    string
	Op      string
	Path    string
	Key     uint64
	HasKey  bool
	Message string
	Cause   error
}

// Sentinels for errors.Is. Matching is by Kind only.
var (
	ErrOpen      = &Error{Kind: KindOpen}
	ErrIO        = &Error{Kind: KindIO}
	ErrShortRead = &Error{Kind: KindShortRead}
	ErrRange     = &Error{Kind: KindRange}
	ErrAlignment = &Error{Kind: KindAlignment}
	ErrCapacity  = &Error{Kind: KindCapacity}
	ErrClosed    = &Error{Kind: KindClosed}
	ErrInvalid   = &Error{Kind: KindInvalid}
)

func (e *Error) Error() string {
	s := fmt.Sprintf("[%s", e.Kind)
	if e.Code != "" {
		s += ":" + e.Code
	}
	s += "] "
	if e.Op != "" {
		s += e.Op + " "
	}
	if e.Path != "" {
		s += e.Path + " "
	}
	if e.HasKey {
		s += fmt.Sprintf("key=%d ", e.Key)
	}
	s += e.Message
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind. A target with a
// non-empty Code must match the code too.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// KindOf extracts the kind from an error chain. Returns "" for foreign errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf extracts the code from an error chain.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func openError(path, code, message string, cause error) *Error {
	return &Error{Kind: KindOpen, Code: code, Op: "open", Path: path, Message: message, Cause: cause}
}

func rangeError(key, n uint64) *Error {
	return &Error{
		Kind:    KindRange,
		Op:      "get",
		Key:     key,
		HasKey:  true,
		Message: fmt.Sprintf("key out of range (records=%d)", n),
	}
}

func ioError(op string, key uint64, cause error) *Error {
	return &Error{Kind: KindIO, Op: op, Key: key, HasKey: true, Message: "read failed", Cause: cause}
}

func shortRead(op string, key uint64, got, want int) *Error {
	return &Error{
		Kind:    KindShortRead,
		Op:      op,
		Key:     key,
		HasKey:  true,
		Message: fmt.Sprintf("short read: got %d bytes want %d", got, want),
	}
}

func alignmentError(op string, key uint64, cause error) *Error {
	return &Error{
		Kind:    KindAlignment,
		Op:      op,
		Key:     key,
		HasKey:  true,
		Message: "transfer rejected: offset, length or buffer not block aligned",
		Cause:   cause,
	}
}

func closedError(op string) *Error {
	return &Error{Kind: KindClosed, Op: op, Message: "store is closed"}
}

func invalidError(op, message string) *Error {
	return &Error{Kind: KindInvalid, Op: op, Message: message}
}
