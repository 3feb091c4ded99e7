package pipeline

import (
	"github.com/cockroachdb/errors"
)

// Process exit codes.
const (
	ExitSuccess = 0
	ExitFailure = 1
	ExitUsage   = 2
)

// Error categories. Match them with errors.Is; the wrapped cause and its
// stack trace stay available through %+v.
var (
	ErrArgument   = errors.New("invalid argument")
	ErrResolution = errors.New("pipeline driver resolution failed")
	ErrRemoteCall = errors.New("remote call failed")
	ErrTimeout    = errors.New("execution timed out")
)

// ExitCode maps a final execution status to the process exit code.
func ExitCode(status ExecutionStatus) int {
	if status == StatusSucceeded {
		return ExitSuccess
	}
	return ExitFailure
}

// ArgumentError marks err as an invalid argument.
func ArgumentError(err error, format string, args ...interface{}) error {
	return errors.Mark(errors.Wrapf(err, format, args...), ErrArgument)
}

// ResolutionError marks err as a driver resolution failure.
func ResolutionError(err error, format string, args ...interface{}) error {
	return errors.Mark(errors.Wrapf(err, format, args...), ErrResolution)
}

// RemoteCallError marks err as a failed call to the orchestration service.
func RemoteCallError(err error, format string, args ...interface{}) error {
	return errors.Mark(errors.Wrapf(err, format, args...), ErrRemoteCall)
}
