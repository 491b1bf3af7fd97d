// Package errors defines CoreError, the structured application error
// that corelog's configuration validation (config and pressure)
// returns; other packages return plain fmt.Errorf errors. It keeps
// the teacher's AppError shape (code/component/operation/cause/
// severity/metadata/timestamp with a ToMap for structured logging) but
// replaces the free-form string codes with the spec's fixed set of
// error kinds.
package errors

import (
	"fmt"
	"runtime"
	"time"
)

// Severity classifies how serious a CoreError is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Code is one of the fixed error kinds the logging pipeline raises.
// These model the spec's error taxonomy as Code constants rather than
// distinct Go error types, so every CoreError shares one shape for
// logging, metrics labeling, and ToMap.
type Code string

const (
	CodeProducer      Code = "PRODUCER_ERROR"
	CodePipeline      Code = "PIPELINE_ERROR"
	CodeSink          Code = "SINK_ERROR"
	CodeConfiguration Code = "CONFIGURATION_ERROR"
	CodeIntegrity     Code = "INTEGRITY_ERROR"
	CodeBackpressure  Code = "BACKPRESSURE_ERROR"
)

// CoreError is the structured error carried through the pipeline and
// written to diagnostics.exception / audit metadata.
type CoreError struct {
	Code       Code
	Message    string
	Component  string
	Operation  string
	Cause      error
	StackTrace string
	Metadata   map[string]any
	Timestamp  time.Time
	Severity   Severity
}

// New constructs a CoreError at SeverityMedium, capturing the caller's
// file:line as a minimal stack trace.
func New(code Code, component, operation, message string) *CoreError {
	_, file, line, _ := runtime.Caller(1)
	return &CoreError{
		Code:       code,
		Message:    message,
		Component:  component,
		Operation:  operation,
		StackTrace: fmt.Sprintf("%s:%d", file, line),
		Metadata:   make(map[string]any),
		Timestamp:  time.Now(),
		Severity:   SeverityMedium,
	}
}

// NewCritical constructs a CoreError at SeverityCritical.
func NewCritical(code Code, component, operation, message string) *CoreError {
	e := New(code, component, operation, message)
	e.Severity = SeverityCritical
	return e
}

// Error implements the error interface.
func (e *CoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Component, e.Operation, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
}

// Unwrap lets errors.Is/errors.As see through CoreError to its cause.
func (e *CoreError) Unwrap() error { return e.Cause }

// Wrap sets cause and returns the receiver for chaining.
func (e *CoreError) Wrap(cause error) *CoreError {
	e.Cause = cause
	return e
}

// WithMetadata attaches one metadata key/value and returns the
// receiver for chaining.
func (e *CoreError) WithMetadata(key string, value any) *CoreError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	e.Metadata[key] = value
	return e
}

// WithSeverity overrides the default severity and returns the
// receiver for chaining.
func (e *CoreError) WithSeverity(s Severity) *CoreError {
	e.Severity = s
	return e
}

// IsCritical reports whether the error is SeverityCritical.
func (e *CoreError) IsCritical() bool { return e.Severity == SeverityCritical }

// ToMap renders the error as a flat map suitable for
// envelope.BuildOptions.Extra or audit event metadata.
func (e *CoreError) ToMap() map[string]any {
	out := map[string]any{
		"error_code":      string(e.Code),
		"error_message":   e.Message,
		"error_component": e.Component,
		"error_operation": e.Operation,
		"error_severity":  string(e.Severity),
		"error_timestamp": e.Timestamp,
	}
	if e.StackTrace != "" {
		out["error_stack_trace"] = e.StackTrace
	}
	if e.Cause != nil {
		out["error_cause"] = e.Cause.Error()
	}
	for k, v := range e.Metadata {
		out[fmt.Sprintf("error_meta_%s", k)] = v
	}
	return out
}

// Convenience constructors, one per error kind.

func ProducerError(operation, message string) *CoreError {
	return New(CodeProducer, "producer", operation, message)
}

func PipelineError(operation, message string) *CoreError {
	return New(CodePipeline, "pipeline", operation, message)
}

func SinkError(operation, message string) *CoreError {
	return New(CodeSink, "sink", operation, message)
}

func ConfigurationError(operation, message string) *CoreError {
	return NewCritical(CodeConfiguration, "config", operation, message)
}

func IntegrityError(operation, message string) *CoreError {
	return NewCritical(CodeIntegrity, "audit", operation, message)
}

func BackpressureError(operation, message string) *CoreError {
	return New(CodeBackpressure, "pressure", operation, message)
}

// IsCoreError reports whether err is a *CoreError.
func IsCoreError(err error) bool {
	_, ok := err.(*CoreError)
	return ok
}

// AsCoreError extracts a *CoreError from err, if it is one.
func AsCoreError(err error) (*CoreError, bool) {
	e, ok := err.(*CoreError)
	return e, ok
}
