// Package audio assembles per-chunk waveforms into one encoded WAV response.
//
// Segments coming back from a backend are sanitized (non-finite samples
// replaced with silence, values clamped to [-1, 1]), concatenated in chunk
// order with a configurable silence gap between consecutive chunks, and
// encoded as mono 16-bit linear PCM.
package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/book-expert/logger"
	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/piper-hub/synth-service/internal/core"
)

// PCM constants for the output container.
const (
	bitDepth      = 16
	monoChannels  = 1
	pcmFormat     = 1
	pcmPeak       = 32767.0
	riffHeaderLen = 44
)

// Assembler concatenates and encodes synthesis segments.
type Assembler struct {
	gap          time.Duration
	fallbackRate int
	log          *logger.Logger
}

// NewAssembler creates an assembler. gap is the silence inserted between
// consecutive chunks; fallbackRate is used when a backend reports no sample
// rate.
func NewAssembler(gap time.Duration, fallbackRate int, log *logger.Logger) *Assembler {
	return &Assembler{
		gap:          gap,
		fallbackRate: fallbackRate,
		log:          log,
	}
}

// Sanitize returns a copy of the segment with non-finite samples replaced by
// silence and all values clamped to [-1, 1].
func Sanitize(segment core.AudioSegment) core.AudioSegment {
	cleaned := make([]float64, len(segment.Samples))

	for i, sample := range segment.Samples {
		switch {
		case math.IsNaN(sample) || math.IsInf(sample, 0):
			cleaned[i] = 0
		case sample > 1:
			cleaned[i] = 1
		case sample < -1:
			cleaned[i] = -1
		default:
			cleaned[i] = sample
		}
	}

	return core.AudioSegment{Samples: cleaned, SampleRate: segment.SampleRate}
}

// Assemble sanitizes and concatenates the ordered segments, inserting the
// configured gap between (not after) consecutive chunks. sampleRate zero
// falls back to the configured default rate.
func (a *Assembler) Assemble(segments []core.AudioSegment, sampleRate int) core.AudioSegment {
	if sampleRate <= 0 {
		sampleRate = a.fallbackRate
	}

	gapSamples := int(math.Round(a.gap.Seconds() * float64(sampleRate)))

	total := 0
	for _, segment := range segments {
		total += len(segment.Samples)
	}

	if len(segments) > 1 {
		total += gapSamples * (len(segments) - 1)
	}

	joined := make([]float64, 0, total)

	for i, segment := range segments {
		if i > 0 {
			joined = append(joined, make([]float64, gapSamples)...)
		}

		joined = append(joined, Sanitize(segment).Samples...)
	}

	return core.AudioSegment{Samples: joined, SampleRate: sampleRate}
}

// Encode renders the segment as a mono 16-bit PCM WAV container. The primary
// encoder handles the common case; a hand-rolled RIFF writer covers writer
// edge cases. Both failing yields core.ErrEncodingFailed.
func (a *Assembler) Encode(segment core.AudioSegment) ([]byte, error) {
	data, err := encodePrimary(segment)
	if err == nil {
		return data, nil
	}

	a.log.Warn("Primary WAV encoder failed, using fallback: %v", err)

	data, fallbackErr := encodeFallback(segment)
	if fallbackErr != nil {
		return nil, fmt.Errorf(
			"primary encoder: %v; fallback encoder: %v: %w",
			err, fallbackErr, core.ErrEncodingFailed,
		)
	}

	return data, nil
}

func pcm16(samples []float64) []int {
	out := make([]int, len(samples))
	for i, sample := range samples {
		out[i] = int(sample * pcmPeak)
	}

	return out
}

func encodePrimary(segment core.AudioSegment) ([]byte, error) {
	buffer := &seekBuffer{}

	encoder := wav.NewEncoder(buffer, segment.SampleRate, bitDepth, monoChannels, pcmFormat)

	writeErr := encoder.Write(&gaudio.IntBuffer{
		Format: &gaudio.Format{
			NumChannels: monoChannels,
			SampleRate:  segment.SampleRate,
		},
		Data:           pcm16(segment.Samples),
		SourceBitDepth: bitDepth,
	})
	if writeErr != nil {
		return nil, fmt.Errorf("failed to write samples: %w", writeErr)
	}

	if closeErr := encoder.Close(); closeErr != nil {
		return nil, fmt.Errorf("failed to finalize container: %w", closeErr)
	}

	return buffer.data, nil
}

// encodeFallback writes the RIFF container directly.
func encodeFallback(segment core.AudioSegment) ([]byte, error) {
	pcm := pcm16(segment.Samples)
	dataLen := len(pcm) * 2
	byteRate := segment.SampleRate * monoChannels * bitDepth / 8

	buffer := bytes.NewBuffer(make([]byte, 0, riffHeaderLen+dataLen))

	buffer.WriteString("RIFF")
	binary.Write(buffer, binary.LittleEndian, uint32(riffHeaderLen-8+dataLen)) //nolint:errcheck
	buffer.WriteString("WAVEfmt ")

	for _, field := range []any{
		uint32(16),
		uint16(pcmFormat),
		uint16(monoChannels),
		uint32(segment.SampleRate),
		uint32(byteRate),
		uint16(monoChannels * bitDepth / 8),
		uint16(bitDepth),
	} {
		if err := binary.Write(buffer, binary.LittleEndian, field); err != nil {
			return nil, fmt.Errorf("failed to write format header: %w", err)
		}
	}

	buffer.WriteString("data")

	if err := binary.Write(buffer, binary.LittleEndian, uint32(dataLen)); err != nil {
		return nil, fmt.Errorf("failed to write data header: %w", err)
	}

	for _, sample := range pcm {
		if err := binary.Write(buffer, binary.LittleEndian, int16(sample)); err != nil {
			return nil, fmt.Errorf("failed to write sample: %w", err)
		}
	}

	return buffer.Bytes(), nil
}
