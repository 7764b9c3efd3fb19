package provider

import (
	"errors"
	"fmt"
)

// Registry and provider errors.
var (
	// ErrFunctionNotFound is returned when a function is not registered.
	ErrFunctionNotFound = errors.New("function not found")

	// ErrFunctionNameInvalid is returned when a function name is not an identifier.
	ErrFunctionNameInvalid = errors.New("function name must be an identifier")

	// ErrFunctionImplNil is returned when a function has no implementation.
	ErrFunctionImplNil = errors.New("function implementation cannot be nil")

	// ErrFunctionAlreadyRegistered is returned when registering a duplicate.
	ErrFunctionAlreadyRegistered = errors.New("function already registered")

	// ErrInvalidParams is returned for malformed parameter lists.
	ErrInvalidParams = errors.New("invalid parameter list")

	// ErrInvalidArguments is returned when call arguments do not bind.
	ErrInvalidArguments = errors.New("invalid arguments")

	// ErrUnknownProvider is returned by New for unregistered variants.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrUnsupportedFile is returned when a file cannot become objects.
	ErrUnsupportedFile = errors.New("unsupported file")

	// ErrNotConvertible is returned when a value cannot become a file.
	ErrNotConvertible = errors.New("value cannot be converted to a file")

	// ErrUnboundAttachment is returned when a response attaches a value with no name.
	ErrUnboundAttachment = errors.New("attachment is not bound to a variable")
)

// ArgumentError reports an argument a function could not use. Its text is
// shown to the model as error feedback.
type ArgumentError struct {
	Func   string
	Param  string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("Argument '%s' in '%s' %s", e.Param, e.Func, e.Reason)
}

func (e *ArgumentError) Unwrap() error { return ErrInvalidArguments }
