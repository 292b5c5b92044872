package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/mbfit/internal/calc"
	"github.com/roach88/mbfit/internal/store"
)

// Process exit codes.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the work itself failed: failed fill jobs, no usable fit, interruption
	ExitCommandError = 2 // the command could not start: bad flags or settings, unreachable database
)

// ExitError carries the exit code a command should end with.
type ExitError struct {
	Code    int // ExitFailure or ExitCommandError
	Message string
	Err     error // cause, may be nil
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError returns an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return WrapExitError(code, message, nil)
}

// WrapExitError attaches an exit code and message to err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode maps err to a process exit code. Errors that are not
// ExitErrors exit with ExitFailure.
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

// ErrorCode classifies err for the JSON error envelope.
func ErrorCode(err error) string {
	switch {
	case store.IsValidation(err):
		return string(store.ErrCodeValidation)
	case store.IsNotFound(err):
		return string(store.ErrCodeNotFound)
	case store.IsState(err):
		return string(store.ErrCodeState)
	case GetExitCode(err) == ExitCommandError:
		return "COMMAND"
	default:
		return "FAILURE"
	}
}

// OutputFormatter writes command results as text or as one JSON Envelope.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // verbose diagnostics; defaults to Writer
	Verbose   bool
}

// Envelope is the JSON document a command writes: Data on success, Error
// on failure.
type Envelope struct {
	Status string     `json:"status"` // "ok" or "error"
	Data   any        `json:"data,omitempty"`
	Error  *ErrorBody `json:"error,omitempty"`
}

// ErrorBody describes a failed command.
type ErrorBody struct {
	Code    string        `json:"code"` // see ErrorCode
	Message string        `json:"message"`
	Details *ErrorDetails `json:"details,omitempty"`
}

// ErrorDetails names the ledger entity or calculation an error is about.
type ErrorDetails struct {
	ConfigurationID string `json:"configuration_id,omitempty"`
	Model           string `json:"model,omitempty"`
	Status          string `json:"status,omitempty"`
	Field           string `json:"field,omitempty"`
	Missing         string `json:"missing,omitempty"`
	LogRef          string `json:"log_ref,omitempty"`
}

// errorDetails pulls the ledger key, rejected field or calculation log out
// of err. It returns nil when err carries none of them.
func errorDetails(err error) *ErrorDetails {
	var (
		d  ErrorDetails
		ve *store.ValidationError
		nf *store.NotFoundError
		se *store.StateError
	)
	switch {
	case errors.As(err, &se):
		d.ConfigurationID = se.Key.ConfigurationID
		d.Model = se.Key.Model.String()
		d.Status = string(se.Status)
	case errors.As(err, &nf):
		d.Missing = fmt.Sprintf("%s %s", nf.Kind, nf.ID)
	case errors.As(err, &ve):
		d.Field = ve.Field
	}
	d.LogRef = calc.LogRef(err)
	if d == (ErrorDetails{}) {
		return nil
	}
	return &d
}

// Success writes data. Text output prints data with %v, so result types
// implement String.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(Envelope{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Fail writes err classified by ErrorCode. JSON output always carries the
// details; text output shows them only when verbose.
func (f *OutputFormatter) Fail(err error) error {
	body := &ErrorBody{Code: ErrorCode(err), Message: err.Error(), Details: errorDetails(err)}
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(Envelope{Status: "error", Error: body})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", body.Code, body.Message)
	if f.Verbose && body.Details != nil {
		d := body.Details
		for _, kv := range [][2]string{
			{"configuration", d.ConfigurationID},
			{"model", d.Model},
			{"status", d.Status},
			{"field", d.Field},
			{"missing", d.Missing},
			{"log", d.LogRef},
		} {
			if kv[1] != "" {
				fmt.Fprintf(f.Writer, "  %-13s %s\n", kv[0]+":", kv[1])
			}
		}
	}
	return nil
}

// VerboseLog writes a diagnostic line when verbose. It goes to ErrWriter so
// JSON on Writer stays a single document.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}
