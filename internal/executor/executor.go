// Package executor drives per-chunk backend inference with crash-aware retry.
//
// A GPU-bound backend can fail in ways that leave device state corrupted. The
// executor classifies every backend failure by its message: recognized
// device-corruption failures get a best-effort device reset and exactly one
// retry of the same chunk; anything else aborts the request immediately. A
// second failure on the same chunk is always fatal, and a synthesis response
// is all-or-nothing, so partial audio is discarded on abort.
package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/book-expert/logger"

	"github.com/piper-hub/synth-service/internal/core"
)

// FailureClass partitions backend failures for the retry decision.
type FailureClass int

// Failure classes. Unclassified failures are Fatal.
const (
	Fatal FailureClass = iota
	Recoverable
)

// deviceFailureIndicators are the message fragments that mark a failure as a
// device-corruption failure worth one recovery attempt. Matching is
// case-insensitive substring search over the full wrapped error text.
var deviceFailureIndicators = []string{
	"out of memory",
	"illegal memory access",
	"device-side assert",
	"cuda error",
	"cublas",
	"cudnn",
	"cufft",
}

// Classify maps a backend failure to its failure class by inspecting the
// error text for known device-corruption indicators.
func Classify(err error) FailureClass {
	if err == nil {
		return Fatal
	}

	message := strings.ToLower(err.Error())

	for _, indicator := range deviceFailureIndicators {
		if strings.Contains(message, indicator) {
			return Recoverable
		}
	}

	return Fatal
}

// Invoker performs one dispatched backend call for one chunk.
type Invoker func(ctx context.Context, chunk core.TextChunk) (core.AudioSegment, error)

// Executor sequences chunk inference against a single backend.
type Executor struct {
	backend       core.Backend
	retryOnDevice bool
	log           *logger.Logger
}

// New creates an executor for the backend. retryOnDevice disables all retry
// behavior when false; every failure is then fatal.
func New(backend core.Backend, retryOnDevice bool, log *logger.Logger) *Executor {
	return &Executor{
		backend:       backend,
		retryOnDevice: retryOnDevice,
		log:           log,
	}
}

// Run synthesizes every chunk in order and returns one segment per chunk. On
// any abort the partial segments are discarded and only the error is
// returned.
func (e *Executor) Run(
	ctx context.Context,
	chunks []core.TextChunk,
	invoke Invoker,
) ([]core.AudioSegment, error) {
	segments := make([]core.AudioSegment, 0, len(chunks))

	for _, chunk := range chunks {
		segment, err := e.runChunk(ctx, chunk, invoke)
		if err != nil {
			return nil, err
		}

		segments = append(segments, segment)
	}

	return segments, nil
}

func (e *Executor) runChunk(
	ctx context.Context,
	chunk core.TextChunk,
	invoke Invoker,
) (core.AudioSegment, error) {
	segment, err := invoke(ctx, chunk)
	if err == nil {
		return segment, nil
	}

	if !e.retryOnDevice || Classify(err) != Recoverable {
		return core.AudioSegment{}, fmt.Errorf("chunk %d: %w", chunk.Index, err)
	}

	e.log.Warn("Device failure on chunk %d, attempting recovery: %v", chunk.Index, err)
	e.resetDevice(ctx)

	segment, retryErr := invoke(ctx, chunk)
	if retryErr != nil {
		// Recovered device state is not guaranteed; a repeat failure on the
		// same chunk aborts the whole request.
		return core.AudioSegment{}, fmt.Errorf(
			"chunk %d failed again after device recovery (%v): %w",
			chunk.Index, retryErr, core.ErrSynthesisAborted,
		)
	}

	e.log.Info("Chunk %d succeeded after device recovery", chunk.Index)

	return segment, nil
}

// resetDevice performs the best-effort cache flush when the backend supports
// it. Reset failure is logged and the retry proceeds anyway.
func (e *Executor) resetDevice(ctx context.Context) {
	resetter, ok := e.backend.(core.DeviceResetter)
	if !ok {
		return
	}

	if err := resetter.ResetDevice(ctx); err != nil {
		e.log.Warn("Device reset failed: %v", err)
	}
}
