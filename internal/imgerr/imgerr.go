// Package imgerr defines the failure kinds of the image pipeline.
//
// Callers at the pipeline boundary only see a boolean result, but every stage
// reports a typed *Error so the cause can be logged and matched with errors.Is.
package imgerr

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	// KindUnreadableSource means the source could not be opened at all.
	KindUnreadableSource Kind = "unreadable_source"
	// KindDecodeFailed means the bytes were readable but no usable image came out.
	KindDecodeFailed Kind = "decode_failed"
	// KindWriteFailed means the output file could not be created or written.
	KindWriteFailed Kind = "write_failed"
	// KindInvalidSpec means the compression parameters were rejected at entry.
	KindInvalidSpec Kind = "invalid_spec"
	// KindUnknown is reported for errors that did not come from this package.
	KindUnknown Kind = "unknown"
)

// Sentinels for errors.Is matching on kind alone.
var (
	ErrUnreadableSource = &Error{Kind: KindUnreadableSource}
	ErrDecodeFailed     = &Error{Kind: KindDecodeFailed}
	ErrWriteFailed      = &Error{Kind: KindWriteFailed}
	ErrInvalidSpec      = &Error{Kind: KindInvalidSpec}
)

// Error is a stage failure.
type Error struct {
	Kind Kind
	Op   string // stage that failed, e.g. "probe", "decode", "encode"
	Path string // source name or output path
	Err  error
}

// New returns an *Error of the given kind.
func New(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Path != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Path)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind. A target carrying an
// Op or Path must match those too.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	if t.Op != "" && t.Op != e.Op {
		return false
	}
	return t.Path == "" || t.Path == e.Path
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
