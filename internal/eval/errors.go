package eval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chat2edit/internal/command"
	"chat2edit/internal/provider"
)

// ErrHostFatal marks faults in the host or a provider rather than in the
// model's commands. They end the turn instead of becoming feedback.
var ErrHostFatal = errors.New("host fatal error")

// NameResolutionError reports a command that names an unbound variable or
// an unknown function.
type NameResolutionError struct {
	Name     string
	Function bool
}

func (e *NameResolutionError) Error() string {
	if e.Function {
		return fmt.Sprintf("function '%s' is not defined", e.Name)
	}
	return fmt.Sprintf("name '%s' is not defined", e.Name)
}

// ProviderExecutionError wraps a failure raised by a provider function.
type ProviderExecutionError struct {
	Function string
	Err      error
}

func (e *ProviderExecutionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Function, e.Err)
}

func (e *ProviderExecutionError) Unwrap() error { return e.Err }

// HostFatalError is a fault the model cannot fix, e.g. a function returning
// an object the provider does not persist.
type HostFatalError struct {
	Command string
	Err     error
}

func (e *HostFatalError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("host fatal error: %v", e.Err)
	}
	return fmt.Sprintf("host fatal error in `%s`: %v", e.Command, e.Err)
}

func (e *HostFatalError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrHostFatal) match.
func (e *HostFatalError) Is(target error) bool { return target == ErrHostFatal }

// panicError is a recovered panic from a provider function.
type panicError struct {
	value any
	stack string
}

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.value) }

// errorKind names an error the way the feedback text shows it.
func errorKind(err error) string {
	var nre *NameResolutionError
	var pe *panicError
	var ae *provider.ArgumentError
	var parseErr *command.ParseError
	switch {
	case errors.As(err, &nre):
		return "NameError"
	case errors.As(err, &parseErr):
		return "SyntaxError"
	case errors.As(err, &ae):
		return "ValueError"
	case errors.Is(err, provider.ErrInvalidArguments):
		return "TypeError"
	case errors.Is(err, context.DeadlineExceeded):
		return "TimeoutError"
	case errors.Is(err, context.Canceled):
		return "CancelledError"
	case errors.As(err, &pe):
		return "RuntimeError"
	}
	return "Error"
}

// errorMessage strips the provider wrapper so the model sees the cause.
func errorMessage(err error) string {
	var pee *ProviderExecutionError
	if errors.As(err, &pee) {
		err = pee.Err
	}
	return strings.TrimPrefix(err.Error(), provider.ErrInvalidArguments.Error()+": ")
}

// FeedbackText renders a failed command for the model.
func FeedbackText(cmd string, err error) string {
	return fmt.Sprintf("Unexpected error occurred while executing command `%s`: `%s: %s`.", cmd, errorKind(err), errorMessage(err))
}
