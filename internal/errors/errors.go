// Package errors implements the structured error taxonomy used across the
// hybrid inference core (spec.md §7). Every internal failure is eventually
// classified into an *AppError so that callers at the public boundary see a
// small, stable vocabulary instead of raw transport or provider errors.
package errors

import (
	"fmt"
	"net/http"
)

// ErrorType is a closed taxonomy of failure categories. Values are grouped
// by the subsystem that raises them; the grouping is documented, not
// enforced by the type system.
type ErrorType string

const (
	// Generic / HTTP-shaped
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeInternal   ErrorType = "internal"

	// Cloud transport (component F)
	ErrorTypeNoTokenAvailable ErrorType = "no_token_available"
	ErrorTypeInvalidRequest   ErrorType = "invalid_request"
	ErrorTypeNetwork          ErrorType = "network_error"
	ErrorTypeAPIError         ErrorType = "api_error"
	ErrorTypeDecoding         ErrorType = "decoding_error"
	ErrorTypeRateLimited      ErrorType = "rate_limited"
	ErrorTypeServiceUnavail   ErrorType = "service_unavailable"

	// Streaming (component D/F)
	ErrorTypeConnectionFailed    ErrorType = "connection_failed"
	ErrorTypeInvalidStreamFormat ErrorType = "invalid_stream_format"
	ErrorTypeDecodingFailed      ErrorType = "decoding_failed"
	ErrorTypeStreamCancelled     ErrorType = "stream_cancelled"
	ErrorTypeProviderError       ErrorType = "provider_error"

	// Local engine (component G)
	ErrorTypeModelNotLoaded     ErrorType = "model_not_loaded"
	ErrorTypeModelLoadFailed    ErrorType = "model_load_failed"
	ErrorTypeInferenceFailed    ErrorType = "inference_failed"
	ErrorTypeInsufficientVRAM   ErrorType = "insufficient_vram"
	ErrorTypeThermalThrottling  ErrorType = "thermal_throttling"
	ErrorTypeInvalidModelFormat ErrorType = "invalid_model_format"
	ErrorTypeQuantizationFailed ErrorType = "quantization_failed"
	ErrorTypeTokenizerNotFound  ErrorType = "tokenizer_not_found"
	ErrorTypeGenerationFailed   ErrorType = "generation_failed"

	// Router (component H)
	ErrorTypeIntentAnalysisFailed    ErrorType = "intent_analysis_failed"
	ErrorTypeInvalidAnalysisResponse ErrorType = "invalid_analysis_response"
	ErrorTypeRoutingFailed           ErrorType = "routing_failed"
	ErrorTypeAllEnginesUnavailable   ErrorType = "all_engines_unavailable"
	ErrorTypePIIRedactionRequired    ErrorType = "pii_redaction_required"
	ErrorTypeSafetyViolation         ErrorType = "safety_violation"

	// Runtime
	ErrorTypeInitializationFailed      ErrorType = "initialization_failed"
	ErrorTypeNoInferenceEngineAvail    ErrorType = "no_inference_engine_available"
	ErrorTypeHardwareNotSupported      ErrorType = "hardware_not_supported"
	ErrorTypeBothEnginesFailed         ErrorType = "both_engines_failed"

	// SLA envelope (component I)
	ErrorTypeInvalidInput             ErrorType = "invalid_input"
	ErrorTypeTimeoutExceeded          ErrorType = "timeout_exceeded"
	ErrorTypeCancellationRequested    ErrorType = "cancellation_requested"
	ErrorTypeMemoryBudgetExceeded     ErrorType = "memory_budget_exceeded"
	ErrorTypeDeterministicViolation   ErrorType = "deterministic_violation"
	ErrorTypeExecutionFailed          ErrorType = "execution_failed"
)

var statusByType = map[ErrorType]int{
	ErrorTypeValidation:              http.StatusBadRequest,
	ErrorTypeInternal:                http.StatusInternalServerError,
	ErrorTypeNoTokenAvailable:        http.StatusUnauthorized,
	ErrorTypeInvalidRequest:          http.StatusBadRequest,
	ErrorTypeNetwork:                 http.StatusBadGateway,
	ErrorTypeAPIError:                http.StatusBadGateway,
	ErrorTypeDecoding:                http.StatusBadGateway,
	ErrorTypeRateLimited:             http.StatusTooManyRequests,
	ErrorTypeServiceUnavail:          http.StatusServiceUnavailable,
	ErrorTypeConnectionFailed:        http.StatusBadGateway,
	ErrorTypeInvalidStreamFormat:     http.StatusBadGateway,
	ErrorTypeDecodingFailed:          http.StatusBadGateway,
	ErrorTypeStreamCancelled:         http.StatusRequestTimeout,
	ErrorTypeProviderError:           http.StatusBadGateway,
	ErrorTypeModelNotLoaded:          http.StatusFailedDependency,
	ErrorTypeModelLoadFailed:         http.StatusInternalServerError,
	ErrorTypeInferenceFailed:         http.StatusInternalServerError,
	ErrorTypeInsufficientVRAM:        http.StatusInsufficientStorage,
	ErrorTypeThermalThrottling:       http.StatusServiceUnavailable,
	ErrorTypeInvalidModelFormat:      http.StatusUnprocessableEntity,
	ErrorTypeQuantizationFailed:      http.StatusInternalServerError,
	ErrorTypeTokenizerNotFound:       http.StatusNotFound,
	ErrorTypeGenerationFailed:        http.StatusInternalServerError,
	ErrorTypeIntentAnalysisFailed:    http.StatusInternalServerError,
	ErrorTypeInvalidAnalysisResponse: http.StatusInternalServerError,
	ErrorTypeRoutingFailed:           http.StatusInternalServerError,
	ErrorTypeAllEnginesUnavailable:   http.StatusServiceUnavailable,
	ErrorTypePIIRedactionRequired:    http.StatusForbidden,
	ErrorTypeSafetyViolation:         http.StatusForbidden,
	ErrorTypeInitializationFailed:    http.StatusInternalServerError,
	ErrorTypeNoInferenceEngineAvail:  http.StatusServiceUnavailable,
	ErrorTypeHardwareNotSupported:    http.StatusNotImplemented,
	ErrorTypeBothEnginesFailed:       http.StatusBadGateway,
	ErrorTypeInvalidInput:            http.StatusBadRequest,
	ErrorTypeTimeoutExceeded:         http.StatusGatewayTimeout,
	ErrorTypeCancellationRequested:   http.StatusRequestTimeout,
	ErrorTypeMemoryBudgetExceeded:    http.StatusInsufficientStorage,
	ErrorTypeDeterministicViolation:  http.StatusConflict,
	ErrorTypeExecutionFailed:         http.StatusInternalServerError,
}

// AppError is the structured error every public-facing call returns.
type AppError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Details    string
	Cause      error
}

func New(t ErrorType, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		StatusCode: statusFor(t),
	}
}

func Newf(t ErrorType, format string, args ...interface{}) *AppError {
	return New(t, fmt.Sprintf(format, args...))
}

func Wrap(cause error, t ErrorType, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		StatusCode: statusFor(t),
		Cause:      cause,
	}
}

func Wrapf(cause error, t ErrorType, format string, args ...interface{}) *AppError {
	return Wrap(cause, t, fmt.Sprintf(format, args...))
}

func statusFor(t ErrorType) int {
	if code, ok := statusByType[t]; ok {
		return code
	}
	return http.StatusInternalServerError
}

func (e *AppError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Details != "" {
		msg += fmt.Sprintf(" (%s)", e.Details)
	}
	return msg
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithDetailsf(format string, args ...interface{}) *AppError {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

// Is allows errors.Is(err, ErrorTypeX) style checks against a sentinel built
// with New(t, "").
func (e *AppError) Is(target error) bool {
	other, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Type == other.Type
}

// NewAPIError builds the api_error(status, body) variant.
func NewAPIError(status int, body string) *AppError {
	return New(ErrorTypeAPIError, fmt.Sprintf("provider returned status %d", status)).WithDetails(body)
}

// NewRateLimited builds the streaming rate_limited(retry_after) variant.
func NewRateLimited(retryAfter fmt.Stringer) *AppError {
	err := New(ErrorTypeRateLimited, "provider rate limited the request")
	if retryAfter != nil {
		err.WithDetailsf("retry_after=%s", retryAfter.String())
	}
	return err
}

// NewTimeoutExceeded builds the SLA timeout_exceeded(s) variant.
func NewTimeoutExceeded(seconds float64) *AppError {
	return Newf(ErrorTypeTimeoutExceeded, "execution exceeded %.1fs timeout", seconds)
}

// NewMemoryBudgetExceeded builds the SLA memory_budget_exceeded(limit, observed) variant.
func NewMemoryBudgetExceeded(limitMB, observedMB int64) *AppError {
	return Newf(ErrorTypeMemoryBudgetExceeded, "memory budget exceeded: limit=%dMB observed=%dMB", limitMB, observedMB)
}

// NewDeterministicViolation builds the SLA deterministic_violation(text) variant.
func NewDeterministicViolation(text string) *AppError {
	return New(ErrorTypeDeterministicViolation, "deterministic execution violated").WithDetails(text)
}

// BothEnginesFailed composes the two underlying errors structurally rather
// than flattening to a single message (an explicit Open Question in
// spec.md §9 — see DESIGN.md).
type BothEnginesFailed struct {
	Local error
	Cloud error
}

func (b *BothEnginesFailed) Error() string {
	return fmt.Sprintf("both_engines_failed: local=%v cloud=%v", b.Local, b.Cloud)
}

func (b *BothEnginesFailed) Unwrap() []error {
	return []error{b.Local, b.Cloud}
}

// NewBothEnginesFailed wraps a BothEnginesFailed as an AppError cause.
func NewBothEnginesFailed(local, cloud error) *AppError {
	return Wrap(&BothEnginesFailed{Local: local, Cloud: cloud}, ErrorTypeBothEnginesFailed, "both local and cloud engines failed")
}
