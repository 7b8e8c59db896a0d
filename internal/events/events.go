// Package events defines the NATS message payloads for synthesis jobs.
package events

import "time"

// EventHeader carries tracing identity across the job lifecycle.
type EventHeader struct {
	Timestamp  time.Time `json:"timestamp"`
	WorkflowID string    `json:"workflow_id"`
	EventID    string    `json:"event_id"`
}

// SynthesisRequestedEvent asks the service to synthesize one text. The text
// travels inline or, for large inputs, by object store key; TextKey wins when
// both are set.
type SynthesisRequestedEvent struct {
	Header            EventHeader `json:"header"`
	TextKey           string      `json:"text_key,omitempty"`
	Text              string      `json:"text,omitempty"`
	Language          string      `json:"language,omitempty"`
	Voice             string      `json:"voice,omitempty"`
	RefAudioPath      string      `json:"ref_audio_path,omitempty"`
	StyleDescription  string      `json:"style_description,omitempty"`
	Instruct          string      `json:"instruct,omitempty"`
	Temperature       float64     `json:"temperature,omitempty"`
	TopP              float64     `json:"top_p,omitempty"`
	RepetitionPenalty float64     `json:"repetition_penalty,omitempty"`
	MaxNewTokens      int         `json:"max_new_tokens,omitempty"`
}

// AudioReadyEvent is the success reply: the encoded WAV is in the audio
// bucket under AudioKey.
type AudioReadyEvent struct {
	Header     EventHeader `json:"header"`
	AudioKey   string      `json:"audio_key"`
	SampleRate int         `json:"sample_rate"`
	Chunks     int         `json:"chunks"`
	DurationMS int64       `json:"duration_ms"`
}

// SynthesisFailedEvent is the failure reply: a stable error kind plus a
// human-readable message.
type SynthesisFailedEvent struct {
	Header  EventHeader `json:"header"`
	Kind    string      `json:"kind"`
	Message string      `json:"message"`
}
