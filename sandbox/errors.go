package sandbox

import (
	"errors"
	"fmt"
)

// ErrorKind tells which step of an execution failed.
type ErrorKind string

const (
	KindCreate          ErrorKind = "create"
	KindCopy            ErrorKind = "copy"
	KindAttach          ErrorKind = "attach"
	KindStart           ErrorKind = "start"
	KindDrain           ErrorKind = "drain"
	KindTimeout         ErrorKind = "timeout"
	KindCanceled        ErrorKind = "canceled"
	KindMalformedOutput ErrorKind = "malformed_output"
)

var (
	ErrAmbiguousImage   = errors.New("more than one image matches the tag")
	ErrAmbiguousNetwork = errors.New("more than one network matches the name")
	ErrNoDigest         = errors.New("image build produced no digest")
)

// Error is a pipeline failure. No outcome is produced alongside it.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
