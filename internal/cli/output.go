package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the flow ended without completing, e.g. insufficient funds
	ExitCommandError = 2 // bad flags, unreachable ledger, broken configuration
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps err with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Errors that are not an
// ExitError map to ExitCommandError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCommandError
}

type response struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// printer writes command results as text lines or as one JSON document.
type printer struct {
	format string
	w      io.Writer
}

// result prints data. In text mode the lines are written instead.
func (p printer) result(data any, lines ...string) error {
	if p.format == "json" {
		return json.NewEncoder(p.w).Encode(response{Status: "ok", Data: data})
	}
	for _, l := range lines {
		if _, err := fmt.Fprintln(p.w, l); err != nil {
			return err
		}
	}
	return nil
}

// failure prints an unsuccessful outcome and returns the matching ExitError.
func (p printer) failure(data any, message string) error {
	if p.format == "json" {
		if err := json.NewEncoder(p.w).Encode(response{Status: "error", Data: data, Error: message}); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(p.w, message)
	}
	return NewExitError(ExitFailure, message)
}
