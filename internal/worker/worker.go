// Package worker provides a NATS worker that processes synthesis jobs.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/piper-hub/synth-service/internal/core"
	"github.com/piper-hub/synth-service/internal/events"
)

// handleMessageTimeout bounds one whole job, including queueing for the
// serialization gate.
const handleMessageTimeout = 5 * time.Minute

var (
	// ErrNoText indicates a job with neither inline text nor a text key.
	ErrNoText = errors.New("job carries no text and no text key")
	// ErrTopPRange indicates that the TopP parameter is out of the valid range [0.0, 1.0].
	ErrTopPRange = errors.New("top_p must be between 0.0 and 1.0")
	// ErrRepetitionPenaltyRange indicates that the RepetitionPenalty parameter is below 1.0.
	ErrRepetitionPenaltyRange = errors.New("repetition penalty must be >= 1.0")
	// ErrTemperatureRange indicates a negative Temperature parameter.
	ErrTemperatureRange = errors.New("temperature must be >= 0.0")
	// ErrMaxTokensNegative indicates a negative maximum generated length.
	ErrMaxTokensNegative = errors.New("max_new_tokens must be non-negative")
)

// Synthesizer runs one synthesis request through the pipeline.
type Synthesizer interface {
	Synthesize(ctx context.Context, req core.SynthesisRequest) (core.SynthesisResult, error)
}

// NatsWorker listens for synthesis jobs on a NATS subject and processes them.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	textStore      core.ObjectStore
	audioStore     core.ObjectStore
	synthesizer    Synthesizer
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	textStore core.ObjectStore,
	audioStore core.ObjectStore,
	synthesizer Synthesizer,
	log *logger.Logger,
) (*NatsWorker, error) {
	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		textStore:      textStore,
		audioStore:     audioStore,
		synthesizer:    synthesizer,
		log:            log,
	}, nil
}

// Run starts the worker and begins listening for messages.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	var event events.SynthesisRequestedEvent

	if err := json.Unmarshal(msg.Data, &event); err != nil {
		w.log.Error("Failed to unmarshal synthesis job: %v", err)

		return
	}

	reply, processErr := w.processJob(ctx, &event)
	if processErr != nil {
		// A failed job never poisons the service; the failure is reported
		// per-request and the worker keeps serving.
		w.log.Error(
			"Synthesis job %s failed: %v",
			event.Header.WorkflowID, processErr,
		)
		w.replyFailure(msg, &event, processErr)

		return
	}

	w.reply(msg, reply)
}

// processJob resolves the job text, runs the pipeline, and uploads the audio.
func (w *NatsWorker) processJob(
	ctx context.Context,
	event *events.SynthesisRequestedEvent,
) (*events.AudioReadyEvent, error) {
	req, err := w.buildRequest(ctx, event)
	if err != nil {
		return nil, err
	}

	result, err := w.synthesizer.Synthesize(ctx, req)
	if err != nil {
		return nil, err
	}

	audioKey := uuid.NewString() + ".wav"

	err = w.audioStore.Upload(ctx, audioKey, result.WAV)
	if err != nil {
		return nil, fmt.Errorf("failed to upload audio for key '%s': %w", audioKey, err)
	}

	return &events.AudioReadyEvent{
		Header:     event.Header,
		AudioKey:   audioKey,
		SampleRate: result.SampleRate,
		Chunks:     result.Chunks,
		DurationMS: result.Duration.Milliseconds(),
	}, nil
}

func (w *NatsWorker) buildRequest(
	ctx context.Context,
	event *events.SynthesisRequestedEvent,
) (core.SynthesisRequest, error) {
	if err := validateGenParams(event); err != nil {
		return core.SynthesisRequest{}, err
	}

	jobText := event.Text

	if event.TextKey != "" {
		textData, err := w.textStore.Download(ctx, event.TextKey)
		if err != nil {
			return core.SynthesisRequest{}, fmt.Errorf(
				"failed to download text for key '%s': %w", event.TextKey, err,
			)
		}

		jobText = string(textData)
	}

	if jobText == "" {
		return core.SynthesisRequest{}, ErrNoText
	}

	return core.SynthesisRequest{
		Text:             jobText,
		Language:         event.Language,
		Voice:            event.Voice,
		RefAudioPath:     event.RefAudioPath,
		StyleDescription: event.StyleDescription,
		Instruct:         event.Instruct,
		Gen: core.GenParams{
			Temperature:       event.Temperature,
			TopP:              event.TopP,
			RepetitionPenalty: event.RepetitionPenalty,
			MaxNewTokens:      event.MaxNewTokens,
		},
	}, nil
}

// validateGenParams rejects out-of-range generation controls before any
// backend contact. Zero values mean "unset" and pass.
func validateGenParams(event *events.SynthesisRequestedEvent) error {
	if event.TopP < 0.0 || event.TopP > 1.0 {
		return fmt.Errorf("%w: got %f", ErrTopPRange, event.TopP)
	}

	if event.RepetitionPenalty != 0 && event.RepetitionPenalty < 1.0 {
		return fmt.Errorf("%w: got %f", ErrRepetitionPenaltyRange, event.RepetitionPenalty)
	}

	if event.Temperature < 0.0 {
		return fmt.Errorf("%w: got %f", ErrTemperatureRange, event.Temperature)
	}

	if event.MaxNewTokens < 0 {
		return fmt.Errorf("%w: got %d", ErrMaxTokensNegative, event.MaxNewTokens)
	}

	return nil
}

func (w *NatsWorker) reply(msg *nats.Msg, replyEvent *events.AudioReadyEvent) {
	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		w.log.Error("Failed to marshal reply event: %v", err)

		return
	}

	if respondErr := msg.Respond(replyData); respondErr != nil {
		w.log.Error("Failed to publish reply event: %v", respondErr)
	}
}

func (w *NatsWorker) replyFailure(
	msg *nats.Msg,
	event *events.SynthesisRequestedEvent,
	jobErr error,
) {
	failure := events.SynthesisFailedEvent{
		Header:  event.Header,
		Kind:    core.FailureKind(jobErr),
		Message: jobErr.Error(),
	}

	replyData, err := json.Marshal(failure)
	if err != nil {
		w.log.Error("Failed to marshal failure event: %v", err)

		return
	}

	if respondErr := msg.Respond(replyData); respondErr != nil {
		w.log.Error("Failed to publish failure event: %v", respondErr)
	}
}
