// Package fault classifies errors crossing the chat and brain ports so the
// conversation routine can decide between retrying in place and escalating.
package fault

import (
	"errors"
	"fmt"
)

// Kind discriminates how a fault is handled by the routine.
type Kind string

const (
	// KindTransient covers automation faults from the browser session:
	// stale elements, missing elements, operation timeouts. Retried in
	// place, logging suppressed.
	KindTransient Kind = "transient"
	// KindSemantic covers the two state-specific failures, user selection
	// and answer fetching. Retried in place like transient faults but
	// always logged.
	KindSemantic Kind = "semantic"
	// KindUnexpected covers everything else. Escalated immediately.
	KindUnexpected Kind = "unexpected"
)

// Fault is an error tagged with a handling kind.
type Fault struct {
	Kind Kind
	Err  error
}

func (f *Fault) Error() string {
	return f.Err.Error()
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// Transient wraps err as a transient automation fault.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &Fault{Kind: KindTransient, Err: err}
}

// Transientf creates a transient automation fault from a format string.
func Transientf(format string, args ...any) error {
	return &Fault{Kind: KindTransient, Err: fmt.Errorf(format, args...)}
}

// Semantic wraps err as a semantic failure.
func Semantic(err error) error {
	if err == nil {
		return nil
	}
	return &Fault{Kind: KindSemantic, Err: err}
}

// KindOf returns the handling kind of err. Errors that carry no tag are
// unexpected.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindUnexpected
}

// Retryable reports whether err may be retried in place by the routine.
func Retryable(err error) bool {
	k := KindOf(err)
	return k == KindTransient || k == KindSemantic
}

// ErrUserSelection is returned when a partner was found but no backend
// session could be opened for them.
var ErrUserSelection = errors.New("user selection not possible")

// ErrFetchAnswer is returned when the backend produced no usable reply.
var ErrFetchAnswer = errors.New("fetch answer not possible")
