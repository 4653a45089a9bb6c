/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package command

// Type is command error type.
type Type int32

const (
	// ValidationError is error type for invalid command requests.
	ValidationError Type = iota

	// ExecuteError is error type for command execution failure.
	ExecuteError

	// NotFoundError is error type for requests naming an absent resource.
	NotFoundError
)

// Code is the error code of command errors.
type Code int32

const (
	// UnknownStatus default error code for unknown errors.
	UnknownStatus Code = iota
)

// Group is an error code range reserved for one command group.
// New groups follow the [0-9]*000 pattern.
type Group int32

const (
	// Common error group for general command errors.
	Common Group = 1000

	// CredentialStore error group for credential store command errors.
	CredentialStore Group = 2000
)

// Error is a command error condition, the nil value representing no error.
type Error interface {
	error
	// Code returns error code for this command error.
	Code() Code
	// Type returns error type for this command error.
	Type() Type
}

// NewValidationError returns new command validation error.
func NewValidationError(code Code, err error) Error {
	return &commandError{err, code, ValidationError}
}

// NewExecuteError returns new command execute error.
func NewExecuteError(code Code, err error) Error {
	return &commandError{err, code, ExecuteError}
}

// NewNotFoundError returns new command error for an absent resource.
func NewNotFoundError(code Code, err error) Error {
	return &commandError{err, code, NotFoundError}
}

type commandError struct {
	error
	code    Code
	errType Type
}

func (c *commandError) Code() Code {
	return c.code
}

func (c *commandError) Type() Type {
	return c.errType
}

func (c *commandError) Unwrap() error {
	return c.error
}
