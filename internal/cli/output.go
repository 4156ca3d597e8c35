package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/projtrack/internal/project"
	"github.com/roach88/projtrack/internal/resilience"
	"github.com/roach88/projtrack/internal/store"
	"github.com/roach88/projtrack/internal/tracker"
)

// Exit codes for CLI commands.
const (
	ExitSuccess            = 0 // Successful execution
	ExitFailure            = 1 // Operation failed (integrity check failed, write queued, etc.)
	ExitCommandError       = 2 // Command error (bad arguments, unknown project, bad config)
	ExitManualIntervention = 3 // Store could not be recovered automatically
)

// Error codes reported in CLIError.Code.
const (
	ErrCodeGeneric      = "E001" // Generic/unknown error
	ErrCodeConfig       = "E002" // Configuration error
	ErrCodeInvalidArgs  = "E003" // Invalid arguments
	ErrCodeNotFound     = "E005" // Project or record not found
	ErrCodeStore        = "E201" // Store operation failed
	ErrCodeQueued       = "E202" // Write stored for later replay
	ErrCodeManual       = "E203" // Manual intervention required
	ErrCodeIntegrity    = "E204" // Integrity check failed
	ErrCodeNoBackup     = "E205" // No backup available
	ErrCodeBackupFailed = "E206" // Backup, restore or prune failed
	ErrCodeReplayFailed = "E207" // Pending operation replay failed
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code
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
// Returns ExitFailure (1) if the error is not an ExitError.
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

// classify picks the error code and exit code for err.
func classify(err error) (string, int) {
	var ie *resilience.IntegrityError
	var be *resilience.BackupError
	switch {
	case resilience.IsManualIntervention(err):
		return ErrCodeManual, ExitManualIntervention
	case errors.Is(err, tracker.ErrUnknownCommand),
		errors.Is(err, tracker.ErrInvalidArgs),
		errors.Is(err, tracker.ErrInvalidFilename),
		errors.Is(err, project.ErrInvalidStatus),
		errors.Is(err, store.ErrInvalidParams):
		return ErrCodeInvalidArgs, ExitCommandError
	case errors.Is(err, tracker.ErrProjectNotFound),
		errors.Is(err, store.ErrNotFound):
		return ErrCodeNotFound, ExitCommandError
	case resilience.IsQueued(err):
		return ErrCodeQueued, ExitFailure
	case errors.As(err, &ie):
		return ErrCodeIntegrity, ExitFailure
	case errors.As(err, &be):
		return ErrCodeBackupFailed, ExitFailure
	}
	var doe *resilience.DatabaseOperationError
	if errors.As(err, &doe) {
		return ErrCodeStore, ExitFailure
	}
	return ErrCodeGeneric, ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status  string      `json:"status"`             // "ok" or "error"
	Data    interface{} `json:"data,omitempty"`     // success payload
	Error   *CLIError   `json:"error,omitempty"`    // error details
	TraceID string      `json:"trace_id,omitempty"` // optional trace correlation
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string      `json:"code"`              // "E001", "E002", etc.
	Message string      `json:"message"`           // human-readable message
	Details interface{} `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data interface{}) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	// Human-readable text output
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details interface{}) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	// Human-readable error
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail reports err and returns the ExitError the command should return.
func (f *OutputFormatter) Fail(err error, details interface{}) error {
	code, exit := classify(err)
	_ = f.Error(code, err.Error(), details)
	return WrapExitError(exit, code, err)
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...interface{}) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
