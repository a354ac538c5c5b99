package commands

import (
	"errors"
	"fmt"
)

// Process exit codes.
const (
	CodeOK     = 0
	CodeErrors = 1
	CodeFatal  = 2
)

// ExitError carries a process exit code. Err is nil when the command has
// already reported the problem on stdout.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps an error returned by the root command to the process exit
// code. Errors without a code are unrecoverable.
func ExitCode(err error) int {
	if err == nil {
		return CodeOK
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return CodeFatal
}

// Message returns the text to print for err, or "" when the command has
// already reported it.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var ee *ExitError
	if errors.As(err, &ee) && ee.Err == nil {
		return ""
	}
	return err.Error()
}
