// Package config provides the configuration structure for the synth-service.
package config

import (
	"fmt"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// Documented defaults. Chunk size and gap are empirically tuned for the
// reference backend and exist as knobs precisely because other backends may
// need different values.
const (
	DefaultMaxChunkChars      = 320
	DefaultChunkGapMS         = 250
	DefaultFallbackSampleRate = 24000
	DefaultLanguage           = "english"
	DefaultInstruct           = "Neutral."
	DefaultTemperature        = 0.75
	DefaultTimeoutSeconds     = 300
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                    string `toml:"url"`
	SynthesisSubject       string `toml:"synthesis_subject"`
	TextObjectStoreBucket  string `toml:"text_object_store_bucket"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
}

// BackendConfig holds the connection settings for the synthesis backend.
type BackendConfig struct {
	URL            string `toml:"url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// SynthesisConfig holds the orchestration knobs. Every field has a documented
// default applied on load; request fields override the generation defaults
// per job.
type SynthesisConfig struct {
	MaxChunkChars int `toml:"max_chunk_chars"`
	ChunkGapMS    int `toml:"chunk_gap_ms"`
	// AllowOverlap disables the serialization gate; requests are serialized
	// against the shared backend device unless this is set.
	AllowOverlap bool `toml:"allow_overlap"`
	// DisableDeviceRetry turns off the single retry after a recoverable
	// device failure; retry is on unless this is set.
	DisableDeviceRetry bool    `toml:"disable_device_retry"`
	DefaultRefAudio    string  `toml:"default_ref_audio"`
	DefaultInstruct    string  `toml:"default_instruct"`
	DefaultLanguage    string  `toml:"default_language"`
	FallbackSampleRate int     `toml:"fallback_sample_rate"`
	Temperature        float64 `toml:"temperature"`
	TopP               float64 `toml:"top_p"`
	RepetitionPenalty  float64 `toml:"repetition_penalty"`
	MaxNewTokens       int     `toml:"max_new_tokens"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS      NATSConfig      `toml:"nats"`
	Backend   BackendConfig   `toml:"backend"`
	Synthesis SynthesisConfig `toml:"synthesis"`
	Paths     PathsConfig     `toml:"paths"`
}

// Load loads the configuration for the synth-service and applies the
// documented defaults to unset fields.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()

	return &cfg, nil
}

// ApplyDefaults fills unset knobs with the documented defaults. A zero
// chunk gap is kept as configured only when set negative first; a TOML file
// that wants no gap sets chunk_gap_ms = -1.
func (c *Config) ApplyDefaults() {
	if c.Synthesis.MaxChunkChars <= 0 {
		c.Synthesis.MaxChunkChars = DefaultMaxChunkChars
	}

	switch {
	case c.Synthesis.ChunkGapMS < 0:
		c.Synthesis.ChunkGapMS = 0
	case c.Synthesis.ChunkGapMS == 0:
		c.Synthesis.ChunkGapMS = DefaultChunkGapMS
	}

	if c.Synthesis.FallbackSampleRate <= 0 {
		c.Synthesis.FallbackSampleRate = DefaultFallbackSampleRate
	}

	if c.Synthesis.DefaultLanguage == "" {
		c.Synthesis.DefaultLanguage = DefaultLanguage
	}

	if c.Synthesis.DefaultInstruct == "" {
		c.Synthesis.DefaultInstruct = DefaultInstruct
	}

	if c.Synthesis.Temperature <= 0 {
		c.Synthesis.Temperature = DefaultTemperature
	}

	if c.Backend.TimeoutSeconds <= 0 {
		c.Backend.TimeoutSeconds = DefaultTimeoutSeconds
	}
}
