package bridge

import (
	"errors"
	"fmt"
)

// Code classifies a pipeline or protocol failure.
type Code string

const (
	CodeProtocolViolation   Code = "protocol_violation"
	CodeEmptyUtterance      Code = "empty_utterance"
	CodeUnsupportedFormat   Code = "unsupported_format"
	CodeConversionFailed    Code = "conversion_failed"
	CodeTimeout             Code = "timeout"
	CodeUpstreamUnavailable Code = "upstream_unavailable"
	CodeUpstreamRejected    Code = "upstream_rejected"
	CodeMalformedResponse   Code = "malformed_response"
	CodeUnrecognizedShape   Code = "unrecognized_shape"
	CodeNoText              Code = "no_text"
)

// StageError is the uniform failure contract every adapter returns. Stage
// names the pipeline hop ("transcode", "stt", "n8n", "tts"); Retryable is
// only honored for side-effect-free stages.
type StageError struct {
	Stage     string
	Code      Code
	Detail    string
	Retryable bool
	Err       error
}

func (e *StageError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Stage, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", e.Stage, e.Code, e.Detail)
}

func (e *StageError) Unwrap() error { return e.Err }

// NewStageError builds a non-retryable stage error.
func NewStageError(stage string, code Code, detail string) *StageError {
	return &StageError{Stage: stage, Code: code, Detail: detail}
}

// CodeOf extracts the failure code, defaulting to upstream_unavailable for
// errors that did not come from an adapter.
func CodeOf(err error) Code {
	var se *StageError
	if errors.As(err, &se) {
		return se.Code
	}
	return CodeUpstreamUnavailable
}
