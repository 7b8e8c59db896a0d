package core

import "errors"

// Failure kinds for the structured outcome reported to callers.
const (
	KindEmptyInput            = "empty_input"
	KindBackendUnavailable    = "backend_unavailable"
	KindBackendNotReady       = "backend_not_ready"
	KindSynthesisAborted      = "synthesis_aborted"
	KindEncodingFailed        = "encoding_failed"
	KindArgumentUnsatisfiable = "argument_unsatisfiable"
	KindBackendFailure        = "backend_failure"
)

// Failure taxonomy. Every failure that reaches a caller wraps exactly one of
// these sentinels so transport layers can map it to a stable error kind.
var (
	// ErrEmptyInput indicates the request text was blank after normalization.
	ErrEmptyInput = errors.New("no usable text after normalization")
	// ErrBackendUnavailable indicates the backend failed to load or a probe
	// definitively failed; the condition is not retried.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrBackendNotReady indicates a load is in progress; callers should retry
	// later rather than wait on the load.
	ErrBackendNotReady = errors.New("backend not ready")
	// ErrSynthesisAborted indicates a chunk failed after its one permitted
	// retry; the whole request is discarded.
	ErrSynthesisAborted = errors.New("synthesis aborted")
	// ErrEncodingFailed indicates both the primary and fallback WAV encoders
	// failed.
	ErrEncodingFailed = errors.New("audio encoding failed")
	// ErrArgumentUnsatisfiable indicates a requested optional capability
	// cannot be dispatched with the supplied request fields.
	ErrArgumentUnsatisfiable = errors.New("operation arguments unsatisfiable")
	// ErrCapabilityUnsupported is the explicit signal a backend returns when
	// an optional operation exists but is not usable on the loaded model.
	ErrCapabilityUnsupported = errors.New("capability not supported by backend")
)

// FailureKind maps a pipeline error to its stable outcome kind. Unclassified
// backend errors report as a generic backend failure.
func FailureKind(err error) string {
	switch {
	case errors.Is(err, ErrEmptyInput):
		return KindEmptyInput
	case errors.Is(err, ErrBackendUnavailable):
		return KindBackendUnavailable
	case errors.Is(err, ErrBackendNotReady):
		return KindBackendNotReady
	case errors.Is(err, ErrSynthesisAborted):
		return KindSynthesisAborted
	case errors.Is(err, ErrEncodingFailed):
		return KindEncodingFailed
	case errors.Is(err, ErrArgumentUnsatisfiable):
		return KindArgumentUnsatisfiable
	default:
		return KindBackendFailure
	}
}
