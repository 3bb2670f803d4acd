// Package backend defines the contract between the synthesis core and a
// neural TTS implementation. The core treats a Model as opaque: given text
// plus conditioning, it yields PCM chunks at a declared sample rate.
package backend

import (
	"context"

	"qwentts/internal/pkg/qwentts/audio"
)

// Prompt is the backend-specific conditioning assembled by the engine. Only
// the fields matching the request's mode are set.
type Prompt struct {
	Text string

	// CustomVoice
	SpeakerID string
	Instruct  string

	// VoiceDesign
	Description string

	// VoiceClone
	Reference  *audio.Audio
	Transcript string
}

// Model is a loaded, inference-ready TTS model.
type Model interface {
	// Infer synthesizes the prompt and returns one PCM chunk per text
	// segment. Implementations check ctx between segments.
	Infer(ctx context.Context, prompt Prompt) ([][]float32, error)

	// SampleRate is the rate of the returned chunks.
	SampleRate() int

	// Speakers lists the model's built-in speakers, if any.
	Speakers() []string

	Close() error
}

// Loader resolves a model identifier to a ready Model. Loads may take
// seconds to minutes; implementations honor ctx cancellation.
type Loader interface {
	Load(ctx context.Context, modelID string) (Model, error)
}
