package evaluator

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport matches any failure to obtain a response from the model endpoint.
	ErrTransport = errors.New("ai transport error")
	// ErrParse matches any response that does not satisfy the evaluation contract.
	ErrParse = errors.New("ai response parse error")
)

// ClientError is returned once every retry attempt against the endpoint has failed.
type ClientError struct {
	Provider string
	Attempts int
	Err      error
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("%s request failed after %d attempt(s): %v", e.Provider, e.Attempts, e.Err)
}

func (e *ClientError) Unwrap() error { return e.Err }

func (e *ClientError) Is(target error) bool { return target == ErrTransport }

// ParseError reports a malformed or incomplete model response. It is never retried.
type ParseError struct {
	Reason string
	Raw    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid AI response: %s", e.Reason)
}

func (e *ParseError) Is(target error) bool { return target == ErrParse }

func parseErrorf(raw, format string, args ...interface{}) *ParseError {
	return &ParseError{Reason: fmt.Sprintf(format, args...), Raw: raw}
}
