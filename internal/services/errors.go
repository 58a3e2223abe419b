package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
	ErrPolicy        = errors.New("policy violation")
	ErrCancelled     = errors.New("cancelled")
)

// ErrorKind is the stable classification recorded in logs for a failure.
type ErrorKind string

const (
	KindExternalTool  ErrorKind = "external_tool"
	KindValidation    ErrorKind = "validation"
	KindConfiguration ErrorKind = "configuration"
	KindNotFound      ErrorKind = "not_found"
	KindTimeout       ErrorKind = "timeout"
	KindTransient     ErrorKind = "transient"
	KindPolicy        ErrorKind = "policy"
	KindCancelled     ErrorKind = "cancelled"
	KindUnknown       ErrorKind = "unknown"
)

// ServiceError carries a marker, the stage/operation that failed and the
// underlying cause. errors.Is matches both the marker and the cause.
type ServiceError struct {
	Marker    error
	Stage     string
	Operation string
	Message   string
	Cause     error
}

func (e *ServiceError) Error() string {
	detail := buildDetail(e.Stage, e.Operation, e.Message)
	if e.Cause != nil {
		return fmt.Sprintf("%v: %s: %v", e.Marker, detail, e.Cause)
	}
	return fmt.Sprintf("%v: %s", e.Marker, detail)
}

func (e *ServiceError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Marker}
	}
	return []error{e.Marker, e.Cause}
}

// ErrorKind satisfies the classifier interface used by status reporting.
func (e *ServiceError) ErrorKind() string {
	return string(kindForMarker(e.Marker))
}

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	if marker == nil {
		marker = ErrTransient
	}
	return &ServiceError{
		Marker:    marker,
		Stage:     strings.TrimSpace(stage),
		Operation: strings.TrimSpace(operation),
		Message:   strings.TrimSpace(message),
		Cause:     err,
	}
}

// ErrorDetails is the structured view of a failure used by the orchestrator
// when it records a job failure.
type ErrorDetails struct {
	Kind      ErrorKind
	Stage     string
	Operation string
	Message   string
	Hint      string
	Cause     error
}

// Details extracts structured failure information from err.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{Kind: KindUnknown}
	}
	details := ErrorDetails{Kind: Classify(err), Message: strings.TrimSpace(err.Error())}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		details.Stage = svcErr.Stage
		details.Operation = svcErr.Operation
		details.Cause = svcErr.Cause
		if msg := buildDetail("", svcErr.Operation, svcErr.Message); msg != "service failure" {
			details.Message = msg
			if svcErr.Cause != nil {
				details.Message = msg + ": " + strings.TrimSpace(svcErr.Cause.Error())
			}
		}
	}
	details.Hint = hintForKind(details.Kind)
	return details
}

// Classify maps err onto an ErrorKind using the sentinel markers.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	case errors.Is(err, ErrPolicy):
		return KindPolicy
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrTransient):
		return KindTransient
	case errors.Is(err, ErrExternalTool):
		return KindExternalTool
	default:
		return KindUnknown
	}
}

// Retryable reports whether err is classified as transient.
func Retryable(err error) bool {
	switch Classify(err) {
	case KindTransient, KindTimeout:
		return true
	default:
		return false
	}
}

func kindForMarker(marker error) ErrorKind {
	if marker == nil {
		return KindUnknown
	}
	return Classify(marker)
}

func hintForKind(kind ErrorKind) string {
	switch kind {
	case KindPolicy:
		return "source is outside configured policy; adjust validation bounds or skip this media"
	case KindValidation:
		return "check the request or media record for invalid values"
	case KindConfiguration:
		return "check scribe configuration"
	case KindNotFound:
		return "verify the referenced record exists"
	case KindTimeout, KindTransient:
		return "retry later by submitting the media again"
	case KindExternalTool:
		return "check external tool output and availability"
	case KindCancelled:
		return "job was cancelled by an operator"
	default:
		return "check logs for details"
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
