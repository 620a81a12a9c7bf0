package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/kern/internal/bytecode"
	"github.com/roach88/kern/internal/compiler"
	"github.com/roach88/kern/internal/config"
	"github.com/roach88/kern/internal/engine"
	"github.com/roach88/kern/internal/vm"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Run halted, validation failed, scenarios failed, replay diverged
	ExitCommandError = 2 // Usage or environment error (bad flags, missing files, unreadable database)
)

// Error codes reported in JSON responses. Rule-set load codes (E001-E008)
// come from the compiler; these cover the rest of the CLI.
const (
	ErrCodeConfig     = "E020" // Configuration invalid or unreadable
	ErrCodeDatabase   = "E021" // Database open/read failure
	ErrCodeAssemble   = "E022" // Assembly or bytecode decode failure
	ErrCodeVariable   = "E023" // Bad --var flag
	ErrCodeHalt       = "E030" // Run halted
	ErrCodeVMFault    = "E031" // Program faulted
	ErrCodeValidation = "E040" // Rule set failed validation
	ErrCodeReplay     = "E041" // Replay diverged
	ErrCodeTestFailed = "E042" // One or more scenarios failed
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
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

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError, and
// ExitSuccess for nil.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// ErrorCode picks the response code for an error from its type.
func ErrorCode(err error) string {
	var loadErr *compiler.LoadError
	var valErr compiler.ValidationError
	var vmErr *vm.Error
	var decErr *bytecode.DecodeError
	switch {
	case errors.As(err, &loadErr):
		return loadErr.Code
	case engine.IsHalt(err):
		return ErrCodeHalt
	case errors.As(err, &vmErr):
		return ErrCodeVMFault
	case bytecode.IsAsmError(err), errors.As(err, &decErr):
		return ErrCodeAssemble
	case config.IsValidationError(err):
		return ErrCodeConfig
	case errors.As(err, &valErr):
		return valErr.Code
	default:
		return compiler.ErrCodeGeneric
	}
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// newFormatter builds the formatter every command writes through.
func newFormatter(opts *RootOptions, out, errOut io.Writer) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    out,
		ErrWriter: errOut, // verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
}

// JSON reports whether the formatter writes JSON.
func (f *OutputFormatter) JSON() bool { return f.Format == "json" }

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
	RunID  string    `json:"run_id,omitempty"`
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // "E001", "E030", etc.
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.JSON() {
		return f.encode(CLIResponse{Status: "ok", Data: data})
	}

	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.JSON() {
		return f.encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail writes err in the configured format and returns it wrapped with
// the exit code.
func (f *OutputFormatter) Fail(exitCode int, message string, err error) error {
	return f.FailCode(exitCode, ErrorCode(err), message, err)
}

// FailCode is Fail with an explicit response code.
func (f *OutputFormatter) FailCode(exitCode int, code, message string, err error) error {
	_ = f.Error(code, fmt.Sprintf("%s: %v", message, err), nil)
	return WrapExitError(exitCode, message, err)
}

// Response writes a complete response, used when a failing command still
// has a payload to report.
func (f *OutputFormatter) Response(resp CLIResponse) error {
	return f.encode(resp)
}

func (f *OutputFormatter) encode(v any) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
