package core

import "context"

// Capability names for the optional backend operations negotiated at runtime.
const (
	CapabilityClone  = "voice_clone"
	CapabilityDesign = "voice_design"
)

// Args is the argument mapping handed to an adaptively dispatched backend
// operation. Keys are the backend's own parameter names.
type Args map[string]any

// ParamSpec describes one parameter a backend operation accepts. A required
// parameter without a default must be present in the dispatched Args or the
// call is skipped.
type ParamSpec struct {
	Name       string
	Required   bool
	HasDefault bool
}

// OperationSpec declares the parameter set of one backend operation. Backends
// expose their real, version-specific parameter names here; the dispatcher
// never assumes a fixed set.
type OperationSpec struct {
	Name   string
	Params []ParamSpec
}

// Accepts reports whether the operation declares a parameter with the given
// name.
func (op OperationSpec) Accepts(name string) bool {
	for _, p := range op.Params {
		if p.Name == name {
			return true
		}
	}

	return false
}

// Metadata reports backend identity and device state.
type Metadata struct {
	// SampleRate is the backend's output rate in Hz; zero means unreported
	// and callers fall back to the configured default.
	SampleRate int
	Ready      bool
	Device     string
}

// Backend is the narrow contract every synthesis engine must satisfy.
// Synthesize is invoked once per text chunk and must be idempotent with
// respect to a retried invocation.
type Backend interface {
	// ID identifies this backend instance. A reloaded backend is a new
	// instance with a new ID and therefore a fresh capability cache entry.
	ID() string
	Metadata(ctx context.Context) Metadata
	Synthesize(ctx context.Context, chunk string, req SynthesisRequest) (AudioSegment, error)
}

// VoiceCloner is the optional cloning operation. Declared method existence is
// necessary but not sufficient; the capability probe confirms usability with
// one synthetic invocation.
type VoiceCloner interface {
	CloneSpec() OperationSpec
	SynthesizeClone(ctx context.Context, args Args) (AudioSegment, error)
}

// VoiceDesigner is the optional description-driven voice design operation.
type VoiceDesigner interface {
	DesignSpec() OperationSpec
	SynthesizeDesign(ctx context.Context, args Args) (AudioSegment, error)
}

// PromptCreator is implemented by design-capable backends that can build a
// reusable per-style prompt artifact. The returned object is opaque to the
// orchestrator and cached by description text.
type PromptCreator interface {
	CreateDesignPrompt(ctx context.Context, description string) (any, error)
}

// DeviceResetter is implemented by backends that can attempt a best-effort
// device-state reset (cache flush) after a recoverable device failure.
type DeviceResetter interface {
	ResetDevice(ctx context.Context) error
}

// ObjectStore is the key-value blob store used by the worker to move request
// text and generated audio.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}
