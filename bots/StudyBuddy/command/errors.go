package command

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrPermissionDenied means the user lacks the administrator capability
	ErrPermissionDenied = errors.New("permission denied")
	// ErrNoPrivateMessage means the command needs a group chat
	ErrNoPrivateMessage = errors.New("command can't be used in private messages")
)

// MissingArgumentError is returned when a required argument isn't supplied
type MissingArgumentError struct {
	Param string
}

func (e *MissingArgumentError) Error() string {
	return fmt.Sprintf("missing argument %q", e.Param)
}

// MissingArgument creates a MissingArgumentError for the parameter
func MissingArgument(param string) error {
	return &MissingArgumentError{Param: param}
}

// BadArgumentError is returned when an argument can't be converted to the
// expected type or format
type BadArgumentError struct {
	Arg string
	Err error
}

func (e *BadArgumentError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("bad argument %q", e.Arg)
	}
	return fmt.Sprintf("bad argument %q: %v", e.Arg, e.Err)
}

func (e *BadArgumentError) Unwrap() error {
	return e.Err
}

// BadArgument creates a BadArgumentError for the argument
func BadArgument(arg string, err error) error {
	return &BadArgumentError{Arg: arg, Err: err}
}
