package shipper

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors. Every typed error below matches one of these with errors.Is.
var (
	// ErrValidation indicates request data violates a carrier's field rules.
	ErrValidation = errors.New("validation failed")

	// ErrAuthenticationFailed indicates carrier authentication failed.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrCarrierAPI indicates the carrier answered with an error or could not be reached.
	ErrCarrierAPI = errors.New("carrier api error")

	// ErrResponseParse indicates a successful carrier response lacked required fields.
	ErrResponseParse = errors.New("carrier response could not be parsed")

	// ErrCarrierNotFound indicates the requested carrier is not registered.
	ErrCarrierNotFound = errors.New("carrier not found")
)

// ErrorKind classifies a CarrierAPIError.
type ErrorKind string

const (
	KindTimeout         ErrorKind = "timeout"
	KindUnreachable     ErrorKind = "unreachable"
	KindRateUnavailable ErrorKind = "rate_unavailable"
	KindBookingRejected ErrorKind = "booking_rejected"
)

// FieldViolation is a single rejected field.
type FieldViolation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists the fields a carrier would reject.
type ValidationError struct {
	Carrier    string
	Violations []FieldViolation
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, fmt.Sprintf("field '%s' %s", v.Field, v.Message))
	}
	return fmt.Sprintf("%s validation failed: %s", e.Carrier, strings.Join(msgs, "; "))
}

// Is implements errors.Is for ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Fields returns a map of field names to error messages.
func (e *ValidationError) Fields() map[string]string {
	fields := make(map[string]string, len(e.Violations))
	for _, v := range e.Violations {
		fields[v.Field] = v.Message
	}
	return fields
}

// AuthError represents a credential exchange failure or a rejection that
// persisted after the permitted retry.
type AuthError struct {
	Carrier    string
	Message    string
	StatusCode int
	Rejected   bool // the carrier refused a presented credential
	Payload    []byte
	Cause      error
}

// NewAuthError creates a new AuthError.
func NewAuthError(carrier, message string) *AuthError {
	return &AuthError{Carrier: carrier, Message: message}
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s auth error: %s: %v", e.Carrier, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s auth error: %s", e.Carrier, e.Message)
}

// Unwrap returns the underlying cause.
func (e *AuthError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for AuthError.
func (e *AuthError) Is(target error) bool {
	return target == ErrAuthenticationFailed
}

// WithCause adds a cause to the error.
func (e *AuthError) WithCause(err error) *AuthError {
	e.Cause = err
	return e
}

// WithStatusCode adds an HTTP status code to the error.
func (e *AuthError) WithStatusCode(code int) *AuthError {
	e.StatusCode = code
	return e
}

// WithPayload attaches the raw carrier response body.
func (e *AuthError) WithPayload(body []byte) *AuthError {
	e.Payload = body
	return e
}

// WithRejected marks the error as a carrier-side credential rejection.
func (e *AuthError) WithRejected(rejected bool) *AuthError {
	e.Rejected = rejected
	return e
}

// CarrierAPIError represents a failed rate or booking call.
type CarrierAPIError struct {
	Carrier        string
	Kind           ErrorKind
	Code           string
	Message        string
	StatusCode     int
	Payload        []byte
	OutcomeUnknown bool // the carrier may have acted on the request
	Cause          error
}

// NewCarrierAPIError creates a new CarrierAPIError.
func NewCarrierAPIError(carrier string, kind ErrorKind, message string) *CarrierAPIError {
	return &CarrierAPIError{
		Carrier: carrier,
		Kind:    kind,
		Message: message,
	}
}

// Error implements the error interface.
func (e *CarrierAPIError) Error() string {
	code := string(e.Kind)
	if e.Code != "" {
		code = fmt.Sprintf("%s/%s", e.Kind, e.Code)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s error (%s): %s: %v", e.Carrier, code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error (%s): %s", e.Carrier, code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *CarrierAPIError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for CarrierAPIError. Two CarrierAPIErrors match
// when their kinds match.
func (e *CarrierAPIError) Is(target error) bool {
	if target == ErrCarrierAPI {
		return true
	}
	t, ok := target.(*CarrierAPIError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithCause adds a cause to the error.
func (e *CarrierAPIError) WithCause(err error) *CarrierAPIError {
	e.Cause = err
	return e
}

// WithStatusCode adds an HTTP status code to the error.
func (e *CarrierAPIError) WithStatusCode(code int) *CarrierAPIError {
	e.StatusCode = code
	return e
}

// WithCode adds the carrier's own error code.
func (e *CarrierAPIError) WithCode(code string) *CarrierAPIError {
	e.Code = code
	return e
}

// WithPayload attaches the raw carrier response body.
func (e *CarrierAPIError) WithPayload(body []byte) *CarrierAPIError {
	e.Payload = body
	return e
}

// WithOutcomeUnknown marks whether the carrier may have acted on the request.
func (e *CarrierAPIError) WithOutcomeUnknown(unknown bool) *CarrierAPIError {
	e.OutcomeUnknown = unknown
	return e
}

// ResponseParseError represents a success response missing required fields.
type ResponseParseError struct {
	Carrier string
	Message string
	Payload []byte
	Cause   error
}

// NewResponseParseError creates a new ResponseParseError.
func NewResponseParseError(carrier, message string) *ResponseParseError {
	return &ResponseParseError{Carrier: carrier, Message: message}
}

// Error implements the error interface.
func (e *ResponseParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s response parse error: %s: %v", e.Carrier, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s response parse error: %s", e.Carrier, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ResponseParseError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for ResponseParseError.
func (e *ResponseParseError) Is(target error) bool {
	return target == ErrResponseParse
}

// WithCause adds a cause to the error.
func (e *ResponseParseError) WithCause(err error) *ResponseParseError {
	e.Cause = err
	return e
}

// WithPayload attaches the raw carrier response body.
func (e *ResponseParseError) WithPayload(body []byte) *ResponseParseError {
	e.Payload = body
	return e
}

// UnsupportedCarrierError is returned when a carrier name is not registered.
type UnsupportedCarrierError struct {
	Carrier string
}

// Error implements the error interface.
func (e *UnsupportedCarrierError) Error() string {
	return fmt.Sprintf("%v: %s", ErrCarrierNotFound, e.Carrier)
}

// Is implements errors.Is for UnsupportedCarrierError.
func (e *UnsupportedCarrierError) Is(target error) bool {
	return target == ErrCarrierNotFound
}

// IsOutcomeUnknown reports whether err leaves the carrier-side result undetermined.
func IsOutcomeUnknown(err error) bool {
	var apiErr *CarrierAPIError
	if errors.As(err, &apiErr) {
		return apiErr.OutcomeUnknown
	}
	return false
}

// IsAuthRejection reports whether err is a carrier refusing a presented credential.
func IsAuthRejection(err error) bool {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Rejected
	}
	return false
}

// IsRetryable returns true if the caller may safely resubmit the whole
// operation. Outcome-unknown errors are never retryable.
func IsRetryable(err error) bool {
	var apiErr *CarrierAPIError
	if !errors.As(err, &apiErr) || apiErr.OutcomeUnknown {
		return false
	}
	switch apiErr.Kind {
	case KindUnreachable:
		return true
	case KindRateUnavailable, KindBookingRejected:
		return apiErr.StatusCode >= http.StatusInternalServerError
	default:
		return false
	}
}

// KindOf returns a short label for err, suitable for metrics.
func KindOf(err error) string {
	var (
		apiErr   *CarrierAPIError
		authErr  *AuthError
		parseErr *ResponseParseError
		valErr   *ValidationError
	)
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &apiErr):
		return string(apiErr.Kind)
	case errors.As(err, &authErr):
		return "auth"
	case errors.As(err, &parseErr):
		return "parse"
	case errors.As(err, &valErr):
		return "validation"
	case errors.Is(err, ErrCarrierNotFound):
		return "unsupported_carrier"
	default:
		return "internal"
	}
}
