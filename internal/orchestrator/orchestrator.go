// Package orchestrator ties the synthesis pipeline together: normalize,
// chunk, capability-aware dispatch, gated per-chunk execution, and audio
// assembly.
//
// The backend is a single shared, device-bound resource that is not safe for
// concurrent use, so the serialization gate holds one mutex from capability
// planning (whose first-need probe touches the device) through final
// encoding. Requests queue on the gate in arrival order and are not
// cancellable once they hold it.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/book-expert/logger"

	"github.com/piper-hub/synth-service/internal/audio"
	"github.com/piper-hub/synth-service/internal/capability"
	"github.com/piper-hub/synth-service/internal/chunk"
	"github.com/piper-hub/synth-service/internal/config"
	"github.com/piper-hub/synth-service/internal/core"
	"github.com/piper-hub/synth-service/internal/dispatch"
	"github.com/piper-hub/synth-service/internal/executor"
	"github.com/piper-hub/synth-service/internal/text"
)

// VoiceImitation is the voice selector that substitutes the configured
// default reference audio when the caller supplies none.
const VoiceImitation = "imitation"

// Status is the orchestrator's answer to a status query: backend readiness
// plus every probed capability with its disabled reason.
type Status struct {
	Ready        bool
	Loading      bool
	LoadError    string
	Device       string
	SampleRate   int
	Capabilities map[string]capability.Status
}

// Orchestrator owns the pipeline components and the process-scoped caches.
// Create one per process; it is safe for concurrent use.
type Orchestrator struct {
	cfg        config.SynthesisConfig
	normalizer *text.Normalizer
	chunker    *chunk.Chunker
	assembler  *audio.Assembler
	registry   *capability.Registry
	loader     *backendLoader
	gate       *serialGate
	log        *logger.Logger
}

// New creates an orchestrator. The backend is loaded lazily on first use via
// load; a failed load is remembered and reported, not retried.
func New(cfg config.SynthesisConfig, load LoadFunc, log *logger.Logger) (*Orchestrator, error) {
	chunker, err := chunk.New(cfg.MaxChunkChars)
	if err != nil {
		return nil, fmt.Errorf("invalid chunk configuration: %w", err)
	}

	registry, err := capability.NewRegistry(cfg.DefaultRefAudio, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create capability registry: %w", err)
	}

	gap := time.Duration(cfg.ChunkGapMS) * time.Millisecond

	return &Orchestrator{
		cfg:        cfg,
		normalizer: text.NewNormalizer(),
		chunker:    chunker,
		assembler:  audio.NewAssembler(gap, cfg.FallbackSampleRate, log),
		registry:   registry,
		loader:     newBackendLoader(load),
		gate:       newSerialGate(!cfg.AllowOverlap),
		log:        log,
	}, nil
}

// Synthesize runs one request through the full pipeline and returns the
// encoded audio. Failures wrap exactly one sentinel from the core taxonomy.
func (o *Orchestrator) Synthesize(
	ctx context.Context,
	req core.SynthesisRequest,
) (core.SynthesisResult, error) {
	req = o.applyRequestDefaults(req)

	normalized, err := o.normalizer.Normalize(req.Text)
	if err != nil {
		return core.SynthesisResult{}, err
	}

	chunks := o.chunker.Split(normalized)

	backend, err := o.loader.acquire(ctx)
	if err != nil {
		return core.SynthesisResult{}, err
	}

	// Planning may trigger a first-need capability probe, which performs a
	// real backend inference, so it must hold the gate too.
	o.gate.lock()
	defer o.gate.unlock()

	invoke, err := o.planInvoker(ctx, backend, req)
	if err != nil {
		return core.SynthesisResult{}, err
	}

	exec := executor.New(backend, !o.cfg.DisableDeviceRetry, o.log)

	segments, err := exec.Run(ctx, chunks, invoke)
	if err != nil {
		return core.SynthesisResult{}, err
	}

	sampleRate := 0
	if len(segments) > 0 {
		sampleRate = segments[0].SampleRate
	}

	assembled := o.assembler.Assemble(segments, sampleRate)

	encoded, err := o.assembler.Encode(assembled)
	if err != nil {
		return core.SynthesisResult{}, err
	}

	o.log.Info(
		"Synthesized %d chunk(s), %d samples at %d Hz",
		len(chunks), len(assembled.Samples), assembled.SampleRate,
	)

	return core.SynthesisResult{
		WAV:        encoded,
		SampleRate: assembled.SampleRate,
		Chunks:     len(chunks),
		Duration:   assembled.Duration(),
	}, nil
}

// Status reports backend readiness and the capability snapshot without
// triggering a load or a probe.
func (o *Orchestrator) Status(ctx context.Context) Status {
	backend, state, loadErr := o.loader.peek()

	status := Status{
		Loading:      state == loadInProgress,
		Capabilities: map[string]capability.Status{},
	}

	if loadErr != nil {
		status.LoadError = loadErr.Error()
	}

	if state != loadReady {
		return status
	}

	meta := backend.Metadata(ctx)
	status.Ready = meta.Ready
	status.Device = meta.Device
	status.SampleRate = meta.SampleRate
	status.Capabilities = o.registry.Snapshot(backend.ID())

	return status
}

// applyRequestDefaults fills unset request fields from the process
// configuration. The imitation voice substitutes the configured default
// reference audio when the caller supplied none.
func (o *Orchestrator) applyRequestDefaults(req core.SynthesisRequest) core.SynthesisRequest {
	if req.Language == "" {
		req.Language = o.cfg.DefaultLanguage
	}

	if req.Instruct == "" {
		req.Instruct = o.cfg.DefaultInstruct
	}

	if req.RefAudioPath == "" && req.Voice == VoiceImitation {
		req.RefAudioPath = o.cfg.DefaultRefAudio
	}

	if req.Gen.Temperature <= 0 {
		req.Gen.Temperature = o.cfg.Temperature
	}

	if req.Gen.TopP <= 0 {
		req.Gen.TopP = o.cfg.TopP
	}

	if req.Gen.RepetitionPenalty <= 0 {
		req.Gen.RepetitionPenalty = o.cfg.RepetitionPenalty
	}

	if req.Gen.MaxNewTokens <= 0 {
		req.Gen.MaxNewTokens = o.cfg.MaxNewTokens
	}

	return req
}

// planInvoker selects the backend call for this request: cloning when
// reference audio is present, voice design when a style description is
// present and the capability is confirmed, plain synthesis otherwise. Design
// falls back to plain synthesis silently; cloning is explicit and fails when
// unusable.
func (o *Orchestrator) planInvoker(
	ctx context.Context,
	backend core.Backend,
	req core.SynthesisRequest,
) (executor.Invoker, error) {
	if req.RefAudioPath != "" {
		return o.planClone(ctx, backend, req)
	}

	if req.StyleDescription != "" {
		if invoke := o.planDesign(ctx, backend, req); invoke != nil {
			return invoke, nil
		}
	}

	return func(ctx context.Context, c core.TextChunk) (core.AudioSegment, error) {
		return backend.Synthesize(ctx, c.Text, req)
	}, nil
}

func (o *Orchestrator) planClone(
	ctx context.Context,
	backend core.Backend,
	req core.SynthesisRequest,
) (executor.Invoker, error) {
	status := o.registry.Resolve(ctx, backend, core.CapabilityClone, req)
	if status.State != capability.Supported {
		return nil, fmt.Errorf("voice cloning: %s: %w", status.Reason, core.ErrBackendUnavailable)
	}

	cloner := backend.(core.VoiceCloner)
	spec := cloner.CloneSpec()

	// Plan-time dispatch check so an unsatisfiable request fails before any
	// chunk inference runs.
	if _, err := dispatch.Build(spec, req, nil); err != nil {
		return nil, err
	}

	return func(ctx context.Context, c core.TextChunk) (core.AudioSegment, error) {
		chunkReq := req
		chunkReq.Text = c.Text

		args, err := dispatch.Build(spec, chunkReq, nil)
		if err != nil {
			return core.AudioSegment{}, err
		}

		return cloner.SynthesizeClone(ctx, args)
	}, nil
}

// planDesign returns nil when the design path is unavailable for any reason;
// the caller falls back to plain synthesis, which still carries the style
// description as instruct text.
func (o *Orchestrator) planDesign(
	ctx context.Context,
	backend core.Backend,
	req core.SynthesisRequest,
) executor.Invoker {
	status := o.registry.Resolve(ctx, backend, core.CapabilityDesign, req)
	if status.State != capability.Supported {
		return nil
	}

	designer, ok := backend.(core.VoiceDesigner)
	if !ok {
		return nil
	}

	spec := designer.DesignSpec()

	var prompt any
	if _, wantsPrompt := dispatch.PromptParam(spec); wantsPrompt {
		prompt = o.registry.DesignPrompt(ctx, backend, req.StyleDescription)
		if prompt == nil {
			return nil
		}
	}

	if _, err := dispatch.Build(spec, req, prompt); err != nil {
		o.log.Warn("Voice design not dispatchable, falling back: %v", err)

		return nil
	}

	return func(ctx context.Context, c core.TextChunk) (core.AudioSegment, error) {
		chunkReq := req
		chunkReq.Text = c.Text

		args, err := dispatch.Build(spec, chunkReq, prompt)
		if err != nil {
			return core.AudioSegment{}, err
		}

		return designer.SynthesizeDesign(ctx, args)
	}
}
