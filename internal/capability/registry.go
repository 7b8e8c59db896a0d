// Package capability confirms at runtime which optional synthesis operations
// a backend instance can actually perform.
//
// Declared interface shape is never trusted on its own: each capability is
// probed once per backend instance with one minimal synthetic invocation, and
// the verdict is cached for the life of the process. A reloaded backend is a
// new instance and gets its own cache entries.
package capability

import (
	"context"
	"errors"
	"sync"

	"github.com/book-expert/logger"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/piper-hub/synth-service/internal/core"
	"github.com/piper-hub/synth-service/internal/dispatch"
)

// Canonical probe inputs. Deliberately tiny: the probe exists to classify
// support, not to produce useful audio.
const (
	probeText        = "Hello."
	probeLanguage    = "english"
	probeDescription = "Test voice design."
	probeInstruct    = "Neutral."
)

// promptCacheSize bounds the per-process voice-design prompt cache.
const promptCacheSize = 128

// State is the probe verdict for one (backend instance, capability) pair.
type State int

// Capability states. Transitions are Unknown to Supported or Unknown to
// Unsupported only; a verdict never reverts.
const (
	Unknown State = iota
	Supported
	Unsupported
)

// String returns the state name for status reporting.
func (s State) String() string {
	switch s {
	case Supported:
		return "supported"
	case Unsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Status pairs a state with the recorded reason when unsupported.
type Status struct {
	State  State
	Reason string
}

type entry struct {
	once   sync.Once
	status Status
}

// Registry is the process-lifetime capability cache plus the voice-design
// prompt cache. It is safe for concurrent use; a probe runs at most once per
// (backend instance, capability) even under concurrent first need.
type Registry struct {
	mu              sync.Mutex
	entries         map[string]map[string]*entry
	prompts         *lru.Cache[string, any]
	defaultRefAudio string
	log             *logger.Logger
}

// NewRegistry creates an empty registry. defaultRefAudio, when configured, is
// the reference clip used for the synthetic clone probe.
func NewRegistry(defaultRefAudio string, log *logger.Logger) (*Registry, error) {
	prompts, err := lru.New[string, any](promptCacheSize)
	if err != nil {
		return nil, err
	}

	return &Registry{
		entries:         make(map[string]map[string]*entry),
		prompts:         prompts,
		defaultRefAudio: defaultRefAudio,
		log:             log,
	}, nil
}

// Resolve returns the capability status for the backend, probing on first
// need. The verdict is final for this backend instance. req is the request
// that triggered the probe; it supplies the probe's test input where the
// capability needs one (the reference clip for cloning), so a capability is
// never marked unsupported just because no process-wide default is
// configured.
func (r *Registry) Resolve(
	ctx context.Context,
	backend core.Backend,
	name string,
	req core.SynthesisRequest,
) Status {
	e := r.entry(backend.ID(), name)

	e.once.Do(func() {
		e.status = r.probe(ctx, backend, name, req)
		r.log.Info(
			"Capability %q on backend %s: %s (%s)",
			name, backend.ID(), e.status.State, e.status.Reason,
		)
	})

	return e.status
}

// Snapshot reports the current capability states for one backend instance,
// for status queries. Unprobed capabilities are absent.
func (r *Registry) Snapshot(backendID string) map[string]Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := make(map[string]Status)

	for name, e := range r.entries[backendID] {
		if e.status.State != Unknown {
			snapshot[name] = e.status
		}
	}

	return snapshot
}

// DesignPrompt returns the reusable voice-design prompt artifact for a style
// description, creating and caching it when the backend can build one. The
// artifact is opaque and never leaves this subsystem or the dispatcher.
func (r *Registry) DesignPrompt(ctx context.Context, backend core.Backend, description string) any {
	if description == "" {
		return nil
	}

	creator, ok := backend.(core.PromptCreator)
	if !ok {
		return nil
	}

	key := backend.ID() + "\x00" + description
	if prompt, hit := r.prompts.Get(key); hit {
		return prompt
	}

	prompt, err := creator.CreateDesignPrompt(ctx, description)
	if err != nil {
		r.log.Warn("Failed to create design prompt for %q: %v", description, err)

		return nil
	}

	r.prompts.Add(key, prompt)

	return prompt
}

func (r *Registry) entry(backendID, name string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	byName, ok := r.entries[backendID]
	if !ok {
		byName = make(map[string]*entry)
		r.entries[backendID] = byName
	}

	e, ok := byName[name]
	if !ok {
		e = &entry{}
		byName[name] = e
	}

	return e
}

func (r *Registry) probe(
	ctx context.Context,
	backend core.Backend,
	name string,
	req core.SynthesisRequest,
) Status {
	switch name {
	case core.CapabilityClone:
		return r.probeClone(ctx, backend, req.RefAudioPath)
	case core.CapabilityDesign:
		return r.probeDesign(ctx, backend)
	default:
		return Status{State: Unsupported, Reason: "unknown capability " + name}
	}
}

func (r *Registry) probeClone(ctx context.Context, backend core.Backend, refAudio string) Status {
	cloner, ok := backend.(core.VoiceCloner)
	if !ok {
		return Status{State: Unsupported, Reason: "backend declares no clone operation"}
	}

	if refAudio == "" {
		refAudio = r.defaultRefAudio
	}

	probeReq := core.SynthesisRequest{
		Text:         probeText,
		Language:     probeLanguage,
		RefAudioPath: refAudio,
	}

	args, err := dispatch.Build(cloner.CloneSpec(), probeReq, nil)
	if err != nil {
		return Status{State: Unsupported, Reason: err.Error()}
	}

	_, err = cloner.SynthesizeClone(ctx, args)

	return classify(err)
}

func (r *Registry) probeDesign(ctx context.Context, backend core.Backend) Status {
	designer, ok := backend.(core.VoiceDesigner)
	if !ok {
		return Status{State: Unsupported, Reason: "backend declares no design operation"}
	}

	spec := designer.DesignSpec()

	var prompt any
	if _, wantsPrompt := dispatch.PromptParam(spec); wantsPrompt {
		prompt = r.DesignPrompt(ctx, backend, probeDescription)
		if prompt == nil {
			return Status{State: Unsupported, Reason: "design prompt unavailable"}
		}
	}

	probeReq := core.SynthesisRequest{
		Text:             probeText,
		Language:         probeLanguage,
		StyleDescription: probeDescription,
		Instruct:         probeInstruct,
	}

	args, err := dispatch.Build(spec, probeReq, prompt)
	if err != nil {
		return Status{State: Unsupported, Reason: err.Error()}
	}

	_, err = designer.SynthesizeDesign(ctx, args)

	return classify(err)
}

// classify maps a probe invocation result to a final verdict. Any failure is
// conservatively unsupported; the distinction between a backend-reported
// unsupported signal and an unexpected probe error lives in the reason text.
func classify(err error) Status {
	if err == nil {
		return Status{State: Supported}
	}

	if errors.Is(err, core.ErrCapabilityUnsupported) {
		return Status{State: Unsupported, Reason: err.Error()}
	}

	return Status{State: Unsupported, Reason: "probe failed: " + err.Error()}
}
