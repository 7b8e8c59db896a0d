// Package core defines the domain types and the backend capability contract
// for the synthesis orchestrator.
package core

import "time"

// GenParams holds the generation-control knobs forwarded to the backend.
// Zero values mean "use the backend default".
type GenParams struct {
	Temperature       float64
	TopP              float64
	RepetitionPenalty float64
	MaxNewTokens      int
}

// SynthesisRequest is an immutable description of one synthesis job. It is
// passed by value; components never mutate it.
type SynthesisRequest struct {
	Text             string
	Language         string
	Voice            string
	RefAudioPath     string
	StyleDescription string
	Instruct         string
	Gen              GenParams
}

// TextChunk is a 1-indexed fragment of normalized text bounded by the
// configured maximum chunk length.
type TextChunk struct {
	Index int
	Text  string
}

// AudioSegment is a finite mono waveform at a known sample rate. Segments
// produced by a backend may contain non-finite samples; the assembler
// sanitizes them before use.
type AudioSegment struct {
	Samples    []float64
	SampleRate int
}

// Duration reports the playing time of the segment.
func (s AudioSegment) Duration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}

	return time.Duration(float64(len(s.Samples)) / float64(s.SampleRate) * float64(time.Second))
}

// SynthesisResult is the success payload of a completed request: one encoded
// WAV container plus diagnostic metadata.
type SynthesisResult struct {
	WAV        []byte
	SampleRate int
	Chunks     int
	Duration   time.Duration
}
