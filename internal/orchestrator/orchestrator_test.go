package orchestrator_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piper-hub/synth-service/internal/config"
	"github.com/piper-hub/synth-service/internal/core"
	"github.com/piper-hub/synth-service/internal/orchestrator"
)

var errLoadBoom = errors.New("backend process not running")

// fakeBackend is a scriptable synthesis backend covering the plain, clone,
// design, and device-reset surfaces.
type fakeBackend struct {
	id string

	mu             sync.Mutex
	plainCalls     []string
	cloneCalls     []core.Args
	designCalls    []core.Args
	resetCalls     int
	failPlainFirst error
	cloneErr       error
	designErr      error
	noClone        bool
	noDesign       bool
	synthDelay     time.Duration
	active         int
	maxActive      int
}

func (f *fakeBackend) ID() string { return f.id }

func (f *fakeBackend) Metadata(_ context.Context) core.Metadata {
	return core.Metadata{SampleRate: 24000, Ready: true, Device: "cuda"}
}

// enter tracks concurrent synthesis calls to verify serialization.
func (f *fakeBackend) enter() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
}

func (f *fakeBackend) leave() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.active--
}

func (f *fakeBackend) Synthesize(
	_ context.Context, chunkText string, _ core.SynthesisRequest,
) (core.AudioSegment, error) {
	f.enter()
	defer f.leave()

	time.Sleep(f.synthDelay)

	f.mu.Lock()
	defer f.mu.Unlock()

	f.plainCalls = append(f.plainCalls, chunkText)

	if f.failPlainFirst != nil && len(f.plainCalls) == 1 {
		err := f.failPlainFirst

		return core.AudioSegment{}, err
	}

	return core.AudioSegment{
		Samples:    make([]float64, 100),
		SampleRate: 24000,
	}, nil
}

func (f *fakeBackend) CloneSpec() core.OperationSpec {
	return core.OperationSpec{
		Name: "generate_voice_clone",
		Params: []core.ParamSpec{
			{Name: "text", Required: true},
			{Name: "speaker_wav", Required: true},
			{Name: "language", HasDefault: true},
		},
	}
}

func (f *fakeBackend) SynthesizeClone(_ context.Context, args core.Args) (core.AudioSegment, error) {
	f.enter()
	defer f.leave()

	time.Sleep(f.synthDelay)

	f.mu.Lock()
	defer f.mu.Unlock()

	f.cloneCalls = append(f.cloneCalls, args)

	if f.cloneErr != nil {
		return core.AudioSegment{}, f.cloneErr
	}

	return core.AudioSegment{Samples: make([]float64, 100), SampleRate: 24000}, nil
}

func (f *fakeBackend) DesignSpec() core.OperationSpec {
	return core.OperationSpec{
		Name: "generate_voice_design",
		Params: []core.ParamSpec{
			{Name: "text", Required: true},
			{Name: "description", Required: true},
		},
	}
}

func (f *fakeBackend) SynthesizeDesign(_ context.Context, args core.Args) (core.AudioSegment, error) {
	f.enter()
	defer f.leave()

	time.Sleep(f.synthDelay)

	f.mu.Lock()
	defer f.mu.Unlock()

	f.designCalls = append(f.designCalls, args)

	if f.designErr != nil {
		return core.AudioSegment{}, f.designErr
	}

	return core.AudioSegment{Samples: make([]float64, 100), SampleRate: 24000}, nil
}

func (f *fakeBackend) ResetDevice(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.resetCalls++

	return nil
}

func testConfig() config.SynthesisConfig {
	return config.SynthesisConfig{
		MaxChunkChars:      80,
		ChunkGapMS:         0,
		DefaultRefAudio:    "/voices/default.wav",
		DefaultInstruct:    "Neutral.",
		DefaultLanguage:    "english",
		FallbackSampleRate: 24000,
		Temperature:        0.75,
	}
}

func newTestOrchestrator(
	t *testing.T,
	cfg config.SynthesisConfig,
	load orchestrator.LoadFunc,
) *orchestrator.Orchestrator {
	t.Helper()

	log, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	orch, err := orchestrator.New(cfg, load, log)
	require.NoError(t, err)

	return orch
}

func loadOf(backend core.Backend) orchestrator.LoadFunc {
	return func(_ context.Context) (core.Backend, error) {
		return backend, nil
	}
}

func decodeSampleCount(t *testing.T, wavData []byte) int {
	t.Helper()

	decoder := wav.NewDecoder(bytes.NewReader(wavData))
	require.True(t, decoder.IsValidFile())

	buffer, err := decoder.FullPCMBuffer()
	require.NoError(t, err)

	return len(buffer.Data)
}

func TestSynthesizePlainRequest(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{id: "b1"}
	orch := newTestOrchestrator(t, testConfig(), loadOf(backend))

	result, err := orch.Synthesize(context.Background(), core.SynthesisRequest{
		Text: "Hello there. How are you?",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Chunks)
	assert.Equal(t, 24000, result.SampleRate)
	assert.Equal(t, 100, decodeSampleCount(t, result.WAV))
	assert.Positive(t, result.Duration)

	require.Len(t, backend.plainCalls, 1)
	assert.Equal(t, "Hello there. How are you?", backend.plainCalls[0])
	assert.Empty(t, backend.cloneCalls)
}

func TestSynthesizeMultiChunkWithGap(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MaxChunkChars = 20
	cfg.ChunkGapMS = 250

	backend := &fakeBackend{id: "b1"}
	orch := newTestOrchestrator(t, cfg, loadOf(backend))

	result, err := orch.Synthesize(context.Background(), core.SynthesisRequest{
		Text: "First sentence here. Second sentence now.",
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Chunks)
	// Two 100-sample chunks plus one 250 ms gap at 24 kHz.
	assert.Equal(t, 200+6000, decodeSampleCount(t, result.WAV))
}

func TestSynthesizeEmptyInput(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{id: "b1"}
	orch := newTestOrchestrator(t, testConfig(), loadOf(backend))

	_, err := orch.Synthesize(context.Background(), core.SynthesisRequest{Text: "  \n\t "})
	require.ErrorIs(t, err, core.ErrEmptyInput)

	assert.Empty(t, backend.plainCalls)
}

func TestSynthesizeCloneRequest(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{id: "b1"}
	orch := newTestOrchestrator(t, testConfig(), loadOf(backend))

	result, err := orch.Synthesize(context.Background(), core.SynthesisRequest{
		Text:         "Clone my voice please.",
		RefAudioPath: "/voices/me.wav",
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.Chunks)

	// One probe call plus one real call.
	require.Len(t, backend.cloneCalls, 2)

	realCall := backend.cloneCalls[1]
	assert.Equal(t, "Clone my voice please.", realCall["text"])
	assert.Equal(t, "/voices/me.wav", realCall["speaker_wav"])
	assert.Equal(t, "english", realCall["language"])
	assert.Empty(t, backend.plainCalls)
}

func TestSynthesizeImitationVoiceUsesDefaultRefAudio(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{id: "b1"}
	orch := newTestOrchestrator(t, testConfig(), loadOf(backend))

	_, err := orch.Synthesize(context.Background(), core.SynthesisRequest{
		Text:  "Imitate the house voice.",
		Voice: orchestrator.VoiceImitation,
	})
	require.NoError(t, err)

	require.Len(t, backend.cloneCalls, 2)
	assert.Equal(t, "/voices/default.wav", backend.cloneCalls[1]["speaker_wav"])
}

func TestSynthesizeCloneUnsupportedFailsExplicitly(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{
		id: "b1",
		cloneErr: fmt.Errorf(
			"backend does not support generate_voice_clone: %w",
			core.ErrCapabilityUnsupported,
		),
	}
	orch := newTestOrchestrator(t, testConfig(), loadOf(backend))

	_, err := orch.Synthesize(context.Background(), core.SynthesisRequest{
		Text:         "Clone my voice please.",
		RefAudioPath: "/voices/me.wav",
	})

	require.ErrorIs(t, err, core.ErrBackendUnavailable)
	assert.Empty(t, backend.plainCalls, "cloning never falls back to plain synthesis")
}

func TestSynthesizeDesignRequest(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{id: "b1"}
	orch := newTestOrchestrator(t, testConfig(), loadOf(backend))

	_, err := orch.Synthesize(context.Background(), core.SynthesisRequest{
		Text:             "Describe a voice.",
		StyleDescription: "A deep, calm narrator.",
	})
	require.NoError(t, err)

	// One probe call plus one real call.
	require.Len(t, backend.designCalls, 2)
	assert.Equal(t, "A deep, calm narrator.", backend.designCalls[1]["description"])
	assert.Empty(t, backend.plainCalls)
}

func TestSynthesizeDesignUnsupportedFallsBackToPlain(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{
		id: "b1",
		designErr: fmt.Errorf(
			"backend does not support generate_voice_design: %w",
			core.ErrCapabilityUnsupported,
		),
	}
	orch := newTestOrchestrator(t, testConfig(), loadOf(backend))

	result, err := orch.Synthesize(context.Background(), core.SynthesisRequest{
		Text:             "Describe a voice.",
		StyleDescription: "A deep, calm narrator.",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Chunks)

	// The probe is the only design call; the request ran on the plain path.
	assert.Len(t, backend.designCalls, 1)
	require.Len(t, backend.plainCalls, 1)
}

func TestSynthesizeDeviceFailureRecovers(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{
		id:             "b1",
		failPlainFirst: errors.New("CUDA error: out of memory"),
	}
	orch := newTestOrchestrator(t, testConfig(), loadOf(backend))

	result, err := orch.Synthesize(context.Background(), core.SynthesisRequest{
		Text: "Recover from the device failure.",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Chunks)
	assert.Len(t, backend.plainCalls, 2)
	assert.Equal(t, 1, backend.resetCalls)
}

func TestSynthesizeLoadFailureIsRemembered(t *testing.T) {
	t.Parallel()

	loads := 0
	orch := newTestOrchestrator(t, testConfig(), func(_ context.Context) (core.Backend, error) {
		loads++

		return nil, errLoadBoom
	})

	_, err := orch.Synthesize(context.Background(), core.SynthesisRequest{Text: "Hello."})
	require.ErrorIs(t, err, core.ErrBackendUnavailable)

	_, err = orch.Synthesize(context.Background(), core.SynthesisRequest{Text: "Hello."})
	require.ErrorIs(t, err, core.ErrBackendUnavailable)

	assert.Equal(t, 1, loads, "a failed load is never retried")
}

func TestSynthesizeSerializesBackendAccess(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{id: "b1", synthDelay: time.Millisecond}
	orch := newTestOrchestrator(t, testConfig(), loadOf(backend))

	// Load once up front so concurrent requests do not race the loader.
	_, err := orch.Synthesize(context.Background(), core.SynthesisRequest{Text: "Warm up."})
	require.NoError(t, err)

	var wg sync.WaitGroup

	for range 6 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, synthErr := orch.Synthesize(context.Background(), core.SynthesisRequest{
				Text: "Concurrent request body.",
			})
			assert.NoError(t, synthErr)
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, backend.maxActive, "backend calls must not overlap")
}

func TestSynthesizeFirstCloneRequestIsSerialized(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{id: "b1", synthDelay: time.Millisecond}
	orch := newTestOrchestrator(t, testConfig(), loadOf(backend))

	// Load once up front without touching the clone path, so the first clone
	// request below still has to run its capability check.
	_, err := orch.Synthesize(context.Background(), core.SynthesisRequest{Text: "Warm up."})
	require.NoError(t, err)

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()

		_, synthErr := orch.Synthesize(context.Background(), core.SynthesisRequest{
			Text:         "Clone my voice please.",
			RefAudioPath: "/voices/me.wav",
		})
		assert.NoError(t, synthErr)
	}()

	for range 6 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, synthErr := orch.Synthesize(context.Background(), core.SynthesisRequest{
				Text: "Concurrent request body.",
			})
			assert.NoError(t, synthErr)
		}()
	}

	wg.Wait()

	// The capability check performs a real clone inference, so it must hold
	// the gate like every other backend call.
	assert.Equal(t, 1, backend.maxActive, "backend calls must not overlap")
}

func TestSynthesizeCloneWithoutConfiguredDefaultRef(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.DefaultRefAudio = ""

	backend := &fakeBackend{id: "b1"}
	orch := newTestOrchestrator(t, cfg, loadOf(backend))

	result, err := orch.Synthesize(context.Background(), core.SynthesisRequest{
		Text:         "Clone my voice please.",
		RefAudioPath: "/voices/me.wav",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Chunks)

	// The capability check borrowed the request's reference clip, so both it
	// and the real call carry a usable speaker_wav.
	require.Len(t, backend.cloneCalls, 2)
	assert.Equal(t, "/voices/me.wav", backend.cloneCalls[0]["speaker_wav"])
	assert.Equal(t, "/voices/me.wav", backend.cloneCalls[1]["speaker_wav"])
}

func TestSynthesizeOverlapAllowed(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.AllowOverlap = true

	backend := &fakeBackend{id: "b1", synthDelay: time.Millisecond}
	orch := newTestOrchestrator(t, cfg, loadOf(backend))

	_, err := orch.Synthesize(context.Background(), core.SynthesisRequest{Text: "Warm up."})
	require.NoError(t, err)

	var wg sync.WaitGroup

	for range 6 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, synthErr := orch.Synthesize(context.Background(), core.SynthesisRequest{
				Text: "Concurrent request body.",
			})
			assert.NoError(t, synthErr)
		}()
	}

	wg.Wait()
}

func TestStatusBeforeLoad(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{id: "b1"}
	orch := newTestOrchestrator(t, testConfig(), loadOf(backend))

	status := orch.Status(context.Background())

	assert.False(t, status.Ready)
	assert.False(t, status.Loading)
	assert.Empty(t, status.LoadError)
	assert.Empty(t, status.Capabilities)
}

func TestStatusAfterLoadAndProbe(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{id: "b1"}
	orch := newTestOrchestrator(t, testConfig(), loadOf(backend))

	_, err := orch.Synthesize(context.Background(), core.SynthesisRequest{
		Text:         "Probe the clone path.",
		RefAudioPath: "/voices/me.wav",
	})
	require.NoError(t, err)

	status := orch.Status(context.Background())

	assert.True(t, status.Ready)
	assert.Equal(t, "cuda", status.Device)
	assert.Equal(t, 24000, status.SampleRate)
	require.Contains(t, status.Capabilities, core.CapabilityClone)
}

func TestStatusSurfacesDisabledReason(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{
		id: "b1",
		designErr: fmt.Errorf(
			"backend does not support generate_voice_design: %w",
			core.ErrCapabilityUnsupported,
		),
	}
	orch := newTestOrchestrator(t, testConfig(), loadOf(backend))

	_, err := orch.Synthesize(context.Background(), core.SynthesisRequest{
		Text:             "Describe a voice.",
		StyleDescription: "A deep, calm narrator.",
	})
	require.NoError(t, err)

	// The probe ran once; later requests skip it and fall back directly.
	_, err = orch.Synthesize(context.Background(), core.SynthesisRequest{
		Text:             "Another styled request.",
		StyleDescription: "A deep, calm narrator.",
	})
	require.NoError(t, err)
	assert.Len(t, backend.designCalls, 1)
	assert.Len(t, backend.plainCalls, 2)

	status := orch.Status(context.Background())
	require.Contains(t, status.Capabilities, core.CapabilityDesign)
	assert.Contains(t, status.Capabilities[core.CapabilityDesign].Reason, "does not support")
}

func TestStatusAfterLoadFailure(t *testing.T) {
	t.Parallel()

	orch := newTestOrchestrator(t, testConfig(), func(_ context.Context) (core.Backend, error) {
		return nil, errLoadBoom
	})

	_, err := orch.Synthesize(context.Background(), core.SynthesisRequest{Text: "Hello."})
	require.Error(t, err)

	status := orch.Status(context.Background())

	assert.False(t, status.Ready)
	assert.Contains(t, status.LoadError, "backend process not running")
}
