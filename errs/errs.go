// Package errs provides structured error types and helpers for the
// goxfeed client.
package errs

import (
	"errors"
	"strconv"
	"strings"
)

// Code identifies an error category.
type Code string

const (
	// CodeTransport indicates a connection reset, timeout or protocol
	// violation on one of the stream transports. Drives the owning loop
	// back into its reconnect cycle, never fatal to the process.
	CodeTransport Code = "transport"
	// CodeAuthMissing indicates that no secret key is configured. The
	// authenticated action is skipped and logged.
	CodeAuthMissing Code = "auth_missing"
	// CodeSoftAPI indicates a well-formed failure response from the
	// exchange. Idempotent requests may be resubmitted verbatim.
	CodeSoftAPI Code = "soft_api"
	// CodeHardAPI indicates a malformed or undecodable response. The
	// offending item is logged and dropped.
	CodeHardAPI Code = "hard_api"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
)

// E captures structured error information produced across the client.
type E struct {
	Op       string
	Code     Code
	HTTP     int
	RawMsg   string
	Message  string
	Endpoint string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the operation and error code.
func New(op string, code Code, opts ...Option) *E {
	e := &E{
		Op:   strings.TrimSpace(op),
		Code: code,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithHTTP records the associated HTTP status code.
func WithHTTP(status int) Option {
	return func(e *E) {
		e.HTTP = status
	}
}

// WithRawMessage captures the raw exchange error message.
func WithRawMessage(msg string) Option {
	return func(e *E) {
		e.RawMsg = msg
	}
}

// WithEndpoint records the API endpoint involved in the failure.
func WithEndpoint(endpoint string) Option {
	trimmed := strings.TrimSpace(endpoint)
	return func(e *E) {
		e.Endpoint = trimmed
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	op := strings.TrimSpace(e.Op)
	if op == "" {
		op = "unknown"
	}
	parts = append(parts, "op="+op)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.Endpoint != "" {
		parts = append(parts, "endpoint="+e.Endpoint)
	}
	if e.HTTP > 0 {
		parts = append(parts, "http="+strconv.Itoa(e.HTTP))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.RawMsg != "" {
		parts = append(parts, "raw_msg="+strconv.Quote(e.RawMsg))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// HasCode reports whether err carries the given code anywhere in its
// chain.
func HasCode(err error, code Code) bool {
	for err != nil {
		var envelope *E
		if errors.As(err, &envelope) {
			if envelope.Code == code {
				return true
			}
			err = envelope.cause
			continue
		}
		return false
	}
	return false
}

// AuthMissing returns a standardized error for actions that require a
// secret key when none is configured.
func AuthMissing(op string) *E {
	return New(op, CodeAuthMissing, WithMessage("no secret key configured"))
}
