// Package backend provides the HTTP adapter between the orchestrator's
// capability contract and a standalone synthesis server.
//
// The adapter speaks the reference servers' JSON-in, WAV-out protocol:
// POST /speak for synthesis and GET /health for readiness and device state.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-audio/wav"
	"github.com/google/uuid"

	"github.com/piper-hub/synth-service/internal/core"
)

// API endpoints.
const (
	apiSpeak  = "/speak"
	apiHealth = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
)

// unsupportedSignal is the fragment the reference servers put in an error
// payload when the loaded model lacks the requested operation.
const unsupportedSignal = "does not support"

// pcmScale converts 16-bit samples to the [-1, 1) float range.
const pcmScale = 32768.0

// Static errors.
var (
	ErrEmptyAudio            = errors.New("received empty audio data")
	ErrUnexpectedContentType = errors.New("unexpected response content type")
)

// speakRequest is the JSON payload for the /speak endpoint.
type speakRequest struct {
	Text              string  `json:"text"`
	Language          string  `json:"language,omitempty"`
	Voice             string  `json:"voice,omitempty"`
	Instruct          string  `json:"instruct,omitempty"`
	RefAudio          string  `json:"ref_audio,omitempty"`
	CustomDescription string  `json:"custom_description,omitempty"`
	Temperature       float64 `json:"temperature,omitempty"`
	TopP              float64 `json:"top_p,omitempty"`
	RepetitionPenalty float64 `json:"repetition_penalty,omitempty"`
	MaxNewTokens      int     `json:"max_new_tokens,omitempty"`
}

// errorResponse is the structured error payload returned by the server.
type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// healthResponse mirrors the server's /health payload.
type healthResponse struct {
	OK         bool   `json:"ok"`
	Ready      bool   `json:"ready"`
	Loading    bool   `json:"loading"`
	Device     string `json:"device"`
	SampleRate int    `json:"sample_rate"`
}

// HTTPBackend implements core.Backend and core.VoiceCloner against a
// synthesis server.
type HTTPBackend struct {
	httpClient *http.Client
	baseURL    string
	id         string
}

// NewHTTPBackend creates a backend adapter for the server at baseURL. Each
// adapter is one backend instance with its own identity, so a reconnect after
// a server reload gets a fresh capability cache entry.
func NewHTTPBackend(baseURL string, timeout time.Duration) *HTTPBackend {
	return &HTTPBackend{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		id:         uuid.NewString(),
	}
}

// ID identifies this backend instance.
func (b *HTTPBackend) ID() string {
	return b.id
}

// Metadata reports readiness, device, and sample rate from /health. Any
// transport failure reports not ready.
func (b *HTTPBackend) Metadata(ctx context.Context) core.Metadata {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return core.Metadata{}
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return core.Metadata{}
	}
	defer resp.Body.Close()

	var health healthResponse
	if decodeErr := json.NewDecoder(resp.Body).Decode(&health); decodeErr != nil {
		return core.Metadata{}
	}

	return core.Metadata{
		SampleRate: health.SampleRate,
		Ready:      health.OK && health.Ready && !health.Loading,
		Device:     health.Device,
	}
}

// Synthesize performs the plain synthesis call for one chunk.
func (b *HTTPBackend) Synthesize(
	ctx context.Context,
	chunk string,
	req core.SynthesisRequest,
) (core.AudioSegment, error) {
	return b.speak(ctx, speakRequest{
		Text:              chunk,
		Language:          req.Language,
		Voice:             req.Voice,
		Instruct:          req.Instruct,
		CustomDescription: req.StyleDescription,
		Temperature:       req.Gen.Temperature,
		TopP:              req.Gen.TopP,
		RepetitionPenalty: req.Gen.RepetitionPenalty,
		MaxNewTokens:      req.Gen.MaxNewTokens,
	})
}

// CloneSpec declares the parameter set of the server's clone operation.
func (b *HTTPBackend) CloneSpec() core.OperationSpec {
	return core.OperationSpec{
		Name: "generate_voice_clone",
		Params: []core.ParamSpec{
			{Name: "text", Required: true},
			{Name: "language", HasDefault: true},
			{Name: "ref_audio", Required: true},
			{Name: "temperature", HasDefault: true},
			{Name: "top_p", HasDefault: true},
			{Name: "repetition_penalty", HasDefault: true},
			{Name: "max_new_tokens", HasDefault: true},
		},
	}
}

// SynthesizeClone performs the cloning call with dispatched arguments.
func (b *HTTPBackend) SynthesizeClone(ctx context.Context, args core.Args) (core.AudioSegment, error) {
	payload := speakRequest{
		Text:     stringArg(args, "text"),
		Language: stringArg(args, "language"),
		RefAudio: stringArg(args, "ref_audio"),
	}
	payload.Temperature, _ = args["temperature"].(float64)
	payload.TopP, _ = args["top_p"].(float64)
	payload.RepetitionPenalty, _ = args["repetition_penalty"].(float64)
	payload.MaxNewTokens, _ = args["max_new_tokens"].(int)

	return b.speak(ctx, payload)
}

func stringArg(args core.Args, name string) string {
	value, _ := args[name].(string)

	return value
}

func (b *HTTPBackend) speak(ctx context.Context, payload speakRequest) (core.AudioSegment, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return core.AudioSegment{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		b.baseURL+apiSpeak,
		bytes.NewReader(body),
	)
	if err != nil {
		return core.AudioSegment{}, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeWAV)

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return core.AudioSegment{}, fmt.Errorf(
			"failed to reach synthesis server at %s: %w", b.baseURL, err,
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return core.AudioSegment{}, b.parseErrorResponse(resp)
	}

	if contentType := resp.Header.Get(headerContentType); contentType != contentTypeWAV {
		return core.AudioSegment{}, fmt.Errorf(
			"%w: expected %s, got %s", ErrUnexpectedContentType, contentTypeWAV, contentType,
		)
	}

	wavData, err := io.ReadAll(resp.Body)
	if err != nil {
		return core.AudioSegment{}, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(wavData) == 0 {
		return core.AudioSegment{}, ErrEmptyAudio
	}

	return decodeWAV(wavData)
}

// parseErrorResponse decodes the structured JSON error from the server. A
// backend-reported "does not support" message becomes the explicit
// unsupported signal; everything else is preserved verbatim for the failure
// classifier.
func (b *HTTPBackend) parseErrorResponse(resp *http.Response) error {
	var errResp errorResponse

	if decodeErr := json.NewDecoder(resp.Body).Decode(&errResp); decodeErr != nil || errResp.Error == "" {
		return fmt.Errorf("synthesis server returned %s", resp.Status)
	}

	if strings.Contains(errResp.Error, unsupportedSignal) {
		return fmt.Errorf("%s: %w", errResp.Error, core.ErrCapabilityUnsupported)
	}

	return fmt.Errorf("synthesis server error (%s): %s", resp.Status, errResp.Error)
}

// decodeWAV converts the server's 16-bit PCM container to a float segment.
func decodeWAV(data []byte) (core.AudioSegment, error) {
	decoder := wav.NewDecoder(bytes.NewReader(data))

	buffer, err := decoder.FullPCMBuffer()
	if err != nil {
		return core.AudioSegment{}, fmt.Errorf("failed to decode audio container: %w", err)
	}

	if len(buffer.Data) == 0 {
		return core.AudioSegment{}, ErrEmptyAudio
	}

	samples := make([]float64, len(buffer.Data))
	for i, sample := range buffer.Data {
		samples[i] = float64(sample) / pcmScale
	}

	return core.AudioSegment{
		Samples:    samples,
		SampleRate: int(decoder.SampleRate),
	}, nil
}
