package conditioning

import (
	"fmt"

	"qwentts/internal/pkg/qwentts/audio"
)

// Mode selects which Qwen3-TTS variant serves a request and which
// conditioning fields are meaningful.
type Mode string

const (
	ModeCustomVoice Mode = "CustomVoice"
	ModeVoiceDesign Mode = "VoiceDesign"
	ModeVoiceClone  Mode = "VoiceClone"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeCustomVoice, ModeVoiceDesign, ModeVoiceClone:
		return true
	}
	return false
}

func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if !m.Valid() {
		return "", fmt.Errorf("unknown mode %q (want CustomVoice, VoiceDesign, or VoiceClone)", s)
	}
	return m, nil
}

func Modes() []Mode {
	return []Mode{ModeCustomVoice, ModeVoiceDesign, ModeVoiceClone}
}

// Preset is one of the six built-in emotion styles.
type Preset string

const (
	PresetHappy   Preset = "Happy"
	PresetSad     Preset = "Sad"
	PresetAngry   Preset = "Angry"
	PresetExcited Preset = "Excited"
	PresetCalm    Preset = "Calm"
	PresetWhisper Preset = "Whisper"
)

var presetInstructions = map[Preset]string{
	PresetHappy:   "Happy and cheerful.",
	PresetSad:     "Sad and melancholic.",
	PresetAngry:   "Angry and intense.",
	PresetExcited: "Very excited and energetic.",
	PresetCalm:    "Calm and soothing.",
	PresetWhisper: "Soft whispering voice.",
}

func (p Preset) Valid() bool {
	_, ok := presetInstructions[p]
	return ok
}

// Instruction returns the canned instruct fragment for the preset.
func (p Preset) Instruction() string {
	return presetInstructions[p]
}

func Presets() []Preset {
	return []Preset{PresetHappy, PresetSad, PresetAngry, PresetExcited, PresetCalm, PresetWhisper}
}

// Payload carries the conditioning inputs for one mode. Fields are
// unexported and set only by Builder, so a payload can never hold fields
// foreign to its mode.
type Payload struct {
	mode        Mode
	speakerID   string
	instruct    string
	description string
	reference   *audio.Audio
	transcript  string
}

func (p Payload) Mode() Mode              { return p.mode }
func (p Payload) SpeakerID() string       { return p.speakerID }
func (p Payload) Instruct() string        { return p.instruct }
func (p Payload) Description() string     { return p.description }
func (p Payload) Reference() *audio.Audio { return p.reference }
func (p Payload) Transcript() string      { return p.transcript }

// ValidationError reports a rejected conditioning input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

const (
	// MaxInstructLen caps the combined preset + style instruct prompt.
	MaxInstructLen = 500

	// MinRefSeconds and MaxRefSeconds bound the reference clip duration.
	MinRefSeconds = 3.0
	MaxRefSeconds = 30.0

	// silenceFloor is roughly -50 dBFS; clips that never exceed it carry
	// no usable voice signal.
	silenceFloor = 0.003
)

// DefaultSpeakers is the speaker catalog shipped with the CustomVoice
// model. Overridable via config or re-seeded from the loaded model.
var DefaultSpeakers = []string{
	"aiden",
	"dylan",
	"eric",
	"ono_anna",
	"ryan",
	"serena",
	"sohee",
	"uncle_fu",
	"vivian",
}

// Inputs is the raw, unvalidated user input for Build.
type Inputs struct {
	SpeakerID   string
	Preset      Preset
	Style       string
	Description string
	Reference   *audio.Audio
	Transcript  string
}

// Builder validates raw inputs into mode-correct payloads. It performs no
// backend calls and has no side effects.
type Builder struct {
	catalog    map[string]struct{}
	sampleRate int
}

func NewBuilder(speakers []string, sampleRate int) *Builder {
	catalog := make(map[string]struct{}, len(speakers))
	for _, s := range speakers {
		catalog[s] = struct{}{}
	}
	return &Builder{catalog: catalog, sampleRate: sampleRate}
}

// Build dispatches on mode. Unused Inputs fields are ignored, never carried
// into the payload.
func (b *Builder) Build(mode Mode, in Inputs) (Payload, error) {
	switch mode {
	case ModeCustomVoice:
		return b.CustomVoice(in.SpeakerID, in.Preset, in.Style)
	case ModeVoiceDesign:
		return b.VoiceDesign(in.Description)
	case ModeVoiceClone:
		return b.VoiceClone(in.Reference, in.Transcript)
	default:
		return Payload{}, &ValidationError{Field: "mode", Reason: fmt.Sprintf("unknown mode %q", mode)}
	}
}

func (b *Builder) CustomVoice(speakerID string, preset Preset, style string) (Payload, error) {
	if speakerID == "" {
		return Payload{}, &ValidationError{Field: "speaker", Reason: "speaker is required"}
	}
	if _, ok := b.catalog[speakerID]; !ok {
		return Payload{}, &ValidationError{Field: "speaker", Reason: fmt.Sprintf("unknown speaker %q", speakerID)}
	}
	if preset != "" && !preset.Valid() {
		return Payload{}, &ValidationError{Field: "preset", Reason: fmt.Sprintf("unknown preset %q", preset)}
	}

	instruct := preset.Instruction()
	if style != "" {
		if instruct != "" {
			instruct = instruct + " " + style
		} else {
			instruct = style
		}
	}
	if len([]rune(instruct)) > MaxInstructLen {
		return Payload{}, &ValidationError{
			Field:  "instruct",
			Reason: fmt.Sprintf("instruct prompt exceeds %d characters", MaxInstructLen),
		}
	}

	return Payload{mode: ModeCustomVoice, speakerID: speakerID, instruct: instruct}, nil
}

func (b *Builder) VoiceDesign(description string) (Payload, error) {
	if description == "" {
		return Payload{}, &ValidationError{Field: "description", Reason: "voice description is required"}
	}
	if len([]rune(description)) > MaxInstructLen {
		return Payload{}, &ValidationError{
			Field:  "description",
			Reason: fmt.Sprintf("voice description exceeds %d characters", MaxInstructLen),
		}
	}

	return Payload{mode: ModeVoiceDesign, description: description}, nil
}

// VoiceClone validates the shape of an already-ingested reference clip; it
// does not capture or normalize audio itself.
func (b *Builder) VoiceClone(ref *audio.Audio, transcript string) (Payload, error) {
	if ref == nil || len(ref.Samples) == 0 {
		return Payload{}, &ValidationError{Field: "reference", Reason: "reference audio is required"}
	}
	if ref.SampleRate != b.sampleRate {
		return Payload{}, &ValidationError{
			Field:  "reference",
			Reason: fmt.Sprintf("sample rate %d Hz does not match backend rate %d Hz", ref.SampleRate, b.sampleRate),
		}
	}
	dur := ref.Duration()
	if dur < MinRefSeconds {
		return Payload{}, &ValidationError{
			Field:  "reference",
			Reason: fmt.Sprintf("clip is %.1fs, need at least %.0fs", dur, MinRefSeconds),
		}
	}
	if dur > MaxRefSeconds {
		return Payload{}, &ValidationError{
			Field:  "reference",
			Reason: fmt.Sprintf("clip is %.1fs, at most %.0fs allowed", dur, MaxRefSeconds),
		}
	}
	if ref.Peak() < silenceFloor {
		return Payload{}, &ValidationError{Field: "reference", Reason: "clip is silent"}
	}

	return Payload{mode: ModeVoiceClone, reference: ref, transcript: transcript}, nil
}
