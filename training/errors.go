package training

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error kinds. A run aborts on the first error of any kind.
var (
	// ErrConfiguration marks an invalid configuration or collaborator set.
	ErrConfiguration = errors.New("configuration error")
	// ErrResumeLoad marks a missing, malformed or incompatible checkpoint.
	ErrResumeLoad = errors.New("resume load error")
	// ErrIO marks a failed write of the log, a checkpoint or another artifact.
	ErrIO = errors.New("io error")
)

// Error is returned by Orchestrator operations. errors.Is matches both Kind and
// the underlying cause.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func configError(op string, err error) error {
	return &Error{Kind: ErrConfiguration, Op: op, Err: err}
}

func resumeError(op string, err error) error {
	return &Error{Kind: ErrResumeLoad, Op: op, Err: err}
}

func ioError(op string, err error) error {
	return &Error{Kind: ErrIO, Op: op, Err: err}
}
