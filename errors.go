package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"google.golang.org/genai"
)

const (
	defaultFailureMessage = "Failed to process Gemini turn"
	defaultRetryHint      = "Please wait a moment and try again."
)

// MalformedResponseError means the backend answered with something that is
// not the expected JSON object.
type MalformedResponseError struct {
	Raw string
	Err error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed backend response: %v", e.Err)
	}
	return "malformed backend response: not a JSON object"
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// RateLimitedError means the backend refused the call because of quota.
type RateLimitedError struct {
	Message   string
	RetryHint string
}

func (e *RateLimitedError) Error() string {
	return "rate limited: " + e.RetryHint
}

// BackendError is any other upstream or transport failure.
type BackendError struct {
	Status  int
	Message string
	Err     error
}

func (e *BackendError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("backend failure (%d): %s", e.Status, e.Message)
	}
	return "backend failure: " + e.Message
}

func (e *BackendError) Unwrap() error { return e.Err }

var retryPattern = regexp.MustCompile(`(?i)retry (?:in|after) ([0-9]+(?:\.[0-9]+)?)\s*(ms|s|m|h)\b`)

// classifyError maps an error from the genai client onto the adapter's
// taxonomy. Errors that are already classified pass through.
func classifyError(err error) error {
	var (
		malformed *MalformedResponseError
		limited   *RateLimitedError
		backend   *BackendError
	)
	if errors.As(err, &malformed) || errors.As(err, &limited) || errors.As(err, &backend) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &BackendError{Status: http.StatusGatewayTimeout, Message: "reasoning backend timed out", Err: err}
	}

	code, status, msg, details, ok := apiErrorFields(err)
	if !ok {
		return &BackendError{Message: err.Error(), Err: err}
	}

	if code == http.StatusTooManyRequests || status == "RESOURCE_EXHAUSTED" {
		return &RateLimitedError{Message: msg, RetryHint: retryHint(msg, details)}
	}

	if msg == "" {
		msg = defaultFailureMessage
	}
	return &BackendError{Status: code, Message: msg, Err: err}
}

func apiErrorFields(err error) (code int, status, msg string, details []map[string]any, ok bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, apiErr.Status, apiErr.Message, apiErr.Details, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code, apiErrPtr.Status, apiErrPtr.Message, apiErrPtr.Details, true
	}
	return 0, "", "", nil, false
}

// retryHint builds a human-readable wait hint from the RetryInfo detail or
// a "retry in 12s" fragment of the message.
func retryHint(msg string, details []map[string]any) string {
	for _, d := range details {
		if s, ok := d["retryDelay"].(string); ok {
			if wait, err := time.ParseDuration(s); err == nil {
				return waitHint(wait)
			}
		}
	}

	if m := retryPattern.FindStringSubmatch(msg); m != nil {
		if wait, err := time.ParseDuration(m[1] + strings.ToLower(m[2])); err == nil {
			return waitHint(wait)
		}
	}
	return defaultRetryHint
}

func waitHint(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Second {
		d = time.Second
	}
	return fmt.Sprintf("Please wait %s and try again.", d)
}

// httpStatus picks the response code for a failed turn.
func httpStatus(err error) int {
	var (
		limited *RateLimitedError
		backend *BackendError
	)
	switch {
	case errors.As(err, &limited):
		return http.StatusTooManyRequests
	case errors.As(err, &backend) && backend.Status >= 400 && backend.Status < 600:
		return backend.Status
	default:
		return http.StatusInternalServerError
	}
}

// userMessage is the text shown in the chat when a turn fails.
func userMessage(err error) string {
	var (
		malformed *MalformedResponseError
		limited   *RateLimitedError
		backend   *BackendError
	)
	switch {
	case errors.As(err, &limited):
		return "I'm being rate limited right now. " + limited.RetryHint
	case errors.As(err, &malformed):
		return "I couldn't make sense of my own answer. Please send that clue again."
	case errors.As(err, &backend):
		return "Something went wrong while I was thinking: " + backend.Message
	default:
		return "Something went wrong while I was thinking. Please try again."
	}
}
