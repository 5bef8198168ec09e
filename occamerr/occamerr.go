// Package occamerr defines the tagged error taxonomy shared by every OCCAM
// core component. Collaborators (CLI, HTTP/WS server, MCP wrapper) match on
// Code rather than parsing message text.
package occamerr

import (
	"errors"
	"fmt"
)

// Code identifies the category of a core error, per spec §7.
type Code string

// Error codes. Parse/validation codes are fatal to the request that produced
// them; FitNonConverged and Cancelled are warnings/clean-stops, not failures;
// Internal poisons a single model's evaluation without aborting a search.
const (
	InvalidCardinality Code = "InvalidCardinality"
	DuplicateAbbrev    Code = "DuplicateAbbrev"
	InvalidData        Code = "InvalidData"
	ParseModel         Code = "ParseModel"
	InvalidParams      Code = "InvalidParams"
	FitNonConverged    Code = "FitNonConverged"
	Cancelled          Code = "Cancelled"
	Internal           Code = "Internal"
)

// Error is the tagged {code, message} shape exposed across the core boundary.
// It wraps an optional underlying error for errors.Is/errors.As chains.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}

	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped error for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an Error that wraps an underlying cause.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Is reports whether err carries the given Code, unwrapping through the
// standard errors chain.
func Is(err error, code Code) bool {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Code == code
	}

	return false
}
