package batch

import (
	"errors"

	"github.com/rotisserie/eris"
)

// Kind classifies a batch-fatal failure.
type Kind string

// Failure kinds. Row-level failures never surface here; they are recorded
// in the row's result.
const (
	KindInput     Kind = "input"
	KindSession   Kind = "session"
	KindCancelled Kind = "cancelled"
	KindInternal  Kind = "internal"
)

// Failure is returned by Run when the batch ends with an error event.
type Failure struct {
	Kind Kind
	Err  error
}

func (f *Failure) Error() string {
	return "batch: " + string(f.Kind) + " failure: " + f.Err.Error()
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Message is the text sent to the subscriber: the root cause, without the
// wrapping context.
func (f *Failure) Message() string {
	msg := eris.Cause(f.Err).Error()
	switch f.Kind {
	case KindSession:
		return "browser session failed: " + msg
	case KindCancelled:
		return "batch cancelled: " + msg
	}
	return msg
}

func kindOf(err error) Kind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}

// IsInputFailure reports whether err means the input had nothing to process.
func IsInputFailure(err error) bool {
	return kindOf(err) == KindInput
}

// IsSessionFailure reports whether err means the browser session could not
// be acquired or was lost mid-batch.
func IsSessionFailure(err error) bool {
	return kindOf(err) == KindSession
}
