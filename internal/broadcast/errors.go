package broadcast

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// APIError is implemented by every error a platform client may return. The
// status code drives the composite HTTP status.
type APIError interface {
	error
	StatusCode() int
}

// ValidationError reports bad input detected before any network call. A
// disabled platform also answers with one of these.
type ValidationError struct {
	Platform Target
	Reason   string
}

func (e *ValidationError) Error() string {
	if e.Platform == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Platform, e.Reason)
}

// StatusCode always maps validation failures to 400.
func (e *ValidationError) StatusCode() int { return http.StatusBadRequest }

// RequestError reports a non-2xx answer from a third-party API. Body carries
// the raw upstream response so callers can see what the platform said.
type RequestError struct {
	Platform Target
	Status   int
	Message  string
	Body     string
}

func (e *RequestError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: upstream status %d", e.Platform, e.Status)
	}
	return fmt.Sprintf("%s: %s (status %d)", e.Platform, e.Message, e.Status)
}

// StatusCode returns the upstream status, floored to 502 when the upstream
// answer carried no usable error status.
func (e *RequestError) StatusCode() int {
	if e.Status >= http.StatusBadRequest {
		return e.Status
	}
	return http.StatusBadGateway
}

// CaughtError wraps an unexpected failure (panic, transport error, SDK bug).
type CaughtError struct {
	Platform Target
	Err      error
}

func (e *CaughtError) Error() string {
	return fmt.Sprintf("%s: unexpected: %v", e.Platform, e.Err)
}

func (e *CaughtError) Unwrap() error { return e.Err }

// StatusCode always maps unexpected failures to 500.
func (e *CaughtError) StatusCode() int { return http.StatusInternalServerError }

// CompositeError wraps every per-platform result of a broadcast with at
// least one failure. Successes remain visible through Results.
type CompositeError struct {
	Results []PlatformResult
}

func (e *CompositeError) Error() string {
	failed := make([]string, 0, len(e.Results))
	for _, r := range e.Results {
		if !r.Succeeded() {
			failed = append(failed, string(r.Target))
		}
	}
	return fmt.Sprintf("%d of %d platforms failed: %s", len(failed), len(e.Results), strings.Join(failed, ", "))
}

// StatusCode returns the maximum status across the failed results, so the
// worst individual outcome decides the composite answer.
func (e *CompositeError) StatusCode() int {
	worst := 0
	for _, r := range e.Results {
		if r.Succeeded() {
			continue
		}
		if code := Classify(r.Target, r.Err).StatusCode(); code > worst {
			worst = code
		}
	}
	if worst == 0 {
		return http.StatusInternalServerError
	}
	return worst
}

// Classify coerces any error into the APIError taxonomy. Errors already in
// the taxonomy pass through; everything else becomes a CaughtError for the
// given platform.
func Classify(target Target, err error) APIError {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve
	}
	var re *RequestError
	if errors.As(err, &re) {
		return re
	}
	var ce *CaughtError
	if errors.As(err, &ce) {
		return ce
	}
	return &CaughtError{Platform: target, Err: err}
}

// ErrorPayload is the wire shape of one platform's failure.
type ErrorPayload struct {
	Module  Target `json:"module"`
	Status  int    `json:"status"`
	Message string `json:"message"`
	Body    string `json:"body,omitempty"`
}

// NewErrorPayload serializes err for the composite response body.
func NewErrorPayload(target Target, err error) ErrorPayload {
	apiErr := Classify(target, err)
	payload := ErrorPayload{
		Module:  target,
		Status:  apiErr.StatusCode(),
		Message: apiErr.Error(),
	}
	var re *RequestError
	if errors.As(err, &re) {
		payload.Body = re.Body
	}
	return payload
}
