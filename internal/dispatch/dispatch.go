// Package dispatch maps request fields onto a backend operation's declared
// parameter set.
//
// Backend parameter names drift across versions and builds, so every request
// field is offered under each of its plausible aliases and only the names the
// operation actually declares are filled in. An operation whose required
// parameters cannot be satisfied is skipped rather than attempted blindly.
package dispatch

import (
	"fmt"

	"github.com/piper-hub/synth-service/internal/core"
)

// Parameter aliases observed across backend versions. The first declared
// alias wins when an operation accepts more than one.
var (
	textAliases        = []string{"text", "input"}
	languageAliases    = []string{"language", "lang"}
	refAudioAliases    = []string{"speaker_wav", "ref_audio", "audio_prompt_path", "speaker_ref_path"}
	descriptionAliases = []string{"description", "custom_description"}
	instructAliases    = []string{"instruct", "emotion"}
	voiceAliases       = []string{"speaker", "voice"}
	maxTokensAliases   = []string{"max_new_tokens", "max_length"}

	// promptAliases name the prompt-shaped parameters filled from a cached
	// voice-design artifact rather than from request fields.
	promptAliases = []string{"prompt", "voice_design_prompt", "design_prompt"}
)

// PromptParam reports the name of the prompt-shaped parameter an operation
// declares, if any.
func PromptParam(spec core.OperationSpec) (string, bool) {
	for _, alias := range promptAliases {
		if spec.Accepts(alias) {
			return alias, true
		}
	}

	return "", false
}

// NeedsRefAudio reports whether the operation declares a reference-audio
// parameter.
func NeedsRefAudio(spec core.OperationSpec) bool {
	for _, alias := range refAudioAliases {
		if spec.Accepts(alias) {
			return true
		}
	}

	return false
}

// Build constructs the argument mapping for one operation from the request
// fields and an optional cached design prompt. It returns
// core.ErrArgumentUnsatisfiable when a required parameter without a default
// has no candidate value.
func Build(spec core.OperationSpec, req core.SynthesisRequest, prompt any) (core.Args, error) {
	candidates := candidateValues(req, prompt)

	args := make(core.Args, len(spec.Params))

	for _, param := range spec.Params {
		value, ok := candidates[param.Name]
		if ok {
			args[param.Name] = value

			continue
		}

		if param.Required && !param.HasDefault {
			return nil, fmt.Errorf(
				"operation %q requires parameter %q: %w",
				spec.Name, param.Name, core.ErrArgumentUnsatisfiable,
			)
		}
	}

	return args, nil
}

// candidateValues spreads each supplied request field under every alias a
// backend might declare for it. Unset fields produce no candidates so the
// backend's own defaults apply.
func candidateValues(req core.SynthesisRequest, prompt any) map[string]any {
	candidates := make(map[string]any)

	addString := func(aliases []string, value string) {
		if value == "" {
			return
		}

		for _, alias := range aliases {
			candidates[alias] = value
		}
	}

	addString(textAliases, req.Text)
	addString(languageAliases, req.Language)
	addString(refAudioAliases, req.RefAudioPath)
	addString(descriptionAliases, req.StyleDescription)
	addString(instructAliases, req.Instruct)
	addString(voiceAliases, req.Voice)

	if req.Gen.Temperature > 0 {
		candidates["temperature"] = req.Gen.Temperature
	}

	if req.Gen.TopP > 0 {
		candidates["top_p"] = req.Gen.TopP
	}

	if req.Gen.RepetitionPenalty > 0 {
		candidates["repetition_penalty"] = req.Gen.RepetitionPenalty
	}

	if req.Gen.MaxNewTokens > 0 {
		for _, alias := range maxTokensAliases {
			candidates[alias] = req.Gen.MaxNewTokens
		}
	}

	if prompt != nil {
		for _, alias := range promptAliases {
			candidates[alias] = prompt
		}
	}

	return candidates
}
