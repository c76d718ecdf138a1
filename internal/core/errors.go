package core

import "fmt"

// DataRequiredError signals that a model or criterion needs more observed
// data before it can proceed. Callers may treat it as a recoverable
// condition rather than a failure.
type DataRequiredError struct {
	// Message describes which data is missing.
	Message string
}

// Error returns the string representation of the error.
func (e *DataRequiredError) Error() string {
	if e.Message == "" {
		return "more data is required before generation can proceed"
	}
	return e.Message
}

// NewDataRequiredErrorf creates a DataRequiredError with a formatted message.
func NewDataRequiredErrorf(format string, args ...interface{}) *DataRequiredError {
	return &DataRequiredError{Message: fmt.Sprintf(format, args...)}
}

// UnsupportedError signals misuse of the API: calling an operation on an
// object that does not support it.
type UnsupportedError struct {
	Message string
}

// Error returns the string representation of the error.
func (e *UnsupportedError) Error() string {
	return e.Message
}

// NewUnsupportedErrorf creates an UnsupportedError with a formatted message.
func NewUnsupportedErrorf(format string, args ...interface{}) *UnsupportedError {
	return &UnsupportedError{Message: fmt.Sprintf(format, args...)}
}

// UserInputError signals that caller-provided input is malformed. These
// errors are fatal and non-retryable: the input must be corrected.
type UserInputError struct {
	Message string
}

// Error returns the string representation of the error.
func (e *UserInputError) Error() string {
	return e.Message
}

// NewUserInputErrorf creates a UserInputError with a formatted message.
func NewUserInputErrorf(format string, args ...interface{}) *UserInputError {
	return &UserInputError{Message: fmt.Sprintf(format, args...)}
}
