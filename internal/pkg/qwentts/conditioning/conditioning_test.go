package conditioning

import (
	"errors"
	"strings"
	"testing"

	"qwentts/internal/pkg/qwentts/audio"
)

func newTestBuilder() *Builder {
	return NewBuilder(DefaultSpeakers, audio.SampleRate)
}

func refClip(seconds float64, amplitude float32, rate int) *audio.Audio {
	samples := make([]float32, int(seconds*float64(rate)))
	for i := range samples {
		if i%2 == 0 {
			samples[i] = amplitude
		} else {
			samples[i] = -amplitude
		}
	}
	return audio.NewAudioWithSampleRate(samples, rate)
}

func TestParseMode(t *testing.T) {
	for _, name := range []string{"CustomVoice", "VoiceDesign", "VoiceClone"} {
		if _, err := ParseMode(name); err != nil {
			t.Errorf("ParseMode(%q) failed: %v", name, err)
		}
	}
	if _, err := ParseMode("Karaoke"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestCustomVoiceAcceptsAllPresets(t *testing.T) {
	b := newTestBuilder()
	for _, p := range Presets() {
		payload, err := b.CustomVoice("serena", p, "")
		if err != nil {
			t.Errorf("preset %q rejected: %v", p, err)
			continue
		}
		if payload.Instruct() != p.Instruction() {
			t.Errorf("preset %q: expected instruct %q, got %q", p, p.Instruction(), payload.Instruct())
		}
	}
}

func TestCustomVoiceRejectsUnknownSpeaker(t *testing.T) {
	b := newTestBuilder()
	_, err := b.CustomVoice("nobody", PresetHappy, "")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Field != "speaker" {
		t.Errorf("expected speaker field, got %q", verr.Field)
	}
}

func TestCustomVoiceRejectsEmptySpeaker(t *testing.T) {
	b := newTestBuilder()
	if _, err := b.CustomVoice("", PresetHappy, ""); err == nil {
		t.Error("expected error for empty speaker")
	}
}

func TestCustomVoiceRejectsUnknownPreset(t *testing.T) {
	b := newTestBuilder()
	if _, err := b.CustomVoice("serena", Preset("Bored"), ""); err == nil {
		t.Error("expected error for unknown preset")
	}
}

func TestCustomVoiceConcatenatesStyle(t *testing.T) {
	b := newTestBuilder()
	payload, err := b.CustomVoice("ryan", PresetCalm, "Slightly slower pace.")
	if err != nil {
		t.Fatalf("CustomVoice failed: %v", err)
	}
	want := "Calm and soothing. Slightly slower pace."
	if payload.Instruct() != want {
		t.Errorf("expected instruct %q, got %q", want, payload.Instruct())
	}
}

func TestCustomVoiceStyleWithoutPreset(t *testing.T) {
	b := newTestBuilder()
	payload, err := b.CustomVoice("ryan", "", "Deadpan delivery.")
	if err != nil {
		t.Fatalf("CustomVoice failed: %v", err)
	}
	if payload.Instruct() != "Deadpan delivery." {
		t.Errorf("unexpected instruct %q", payload.Instruct())
	}
}

func TestCustomVoiceRejectsOverlongInstruct(t *testing.T) {
	b := newTestBuilder()
	_, err := b.CustomVoice("eric", PresetHappy, strings.Repeat("x", MaxInstructLen))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Field != "instruct" {
		t.Errorf("expected instruct field, got %q", verr.Field)
	}
}

func TestVoiceDesignRequiresDescription(t *testing.T) {
	b := newTestBuilder()
	if _, err := b.VoiceDesign(""); err == nil {
		t.Error("expected error for empty description")
	}
}

func TestVoiceDesignCarriesDescriptionOnly(t *testing.T) {
	b := newTestBuilder()
	payload, err := b.VoiceDesign("A gravelly old sea captain.")
	if err != nil {
		t.Fatalf("VoiceDesign failed: %v", err)
	}
	if payload.Mode() != ModeVoiceDesign {
		t.Errorf("expected VoiceDesign mode, got %q", payload.Mode())
	}
	if payload.SpeakerID() != "" || payload.Reference() != nil {
		t.Error("design payload must not carry speaker or reference fields")
	}
}

func TestVoiceCloneAcceptsValidClip(t *testing.T) {
	b := newTestBuilder()
	payload, err := b.VoiceClone(refClip(5, 0.2, audio.SampleRate), "hello there")
	if err != nil {
		t.Fatalf("VoiceClone failed: %v", err)
	}
	if payload.Transcript() != "hello there" {
		t.Errorf("unexpected transcript %q", payload.Transcript())
	}
}

func TestVoiceCloneRejectsRateMismatch(t *testing.T) {
	b := newTestBuilder()
	_, err := b.VoiceClone(refClip(5, 0.2, 16000), "")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestVoiceCloneRejectsShortClip(t *testing.T) {
	b := newTestBuilder()
	if _, err := b.VoiceClone(refClip(1, 0.2, audio.SampleRate), ""); err == nil {
		t.Error("expected error for 1s clip")
	}
}

func TestVoiceCloneRejectsLongClip(t *testing.T) {
	b := newTestBuilder()
	if _, err := b.VoiceClone(refClip(35, 0.2, audio.SampleRate), ""); err == nil {
		t.Error("expected error for 35s clip")
	}
}

func TestVoiceCloneRejectsSilentClip(t *testing.T) {
	b := newTestBuilder()
	if _, err := b.VoiceClone(refClip(5, 0.0001, audio.SampleRate), ""); err == nil {
		t.Error("expected error for silent clip")
	}
}

func TestVoiceCloneRejectsNilReference(t *testing.T) {
	b := newTestBuilder()
	if _, err := b.VoiceClone(nil, ""); err == nil {
		t.Error("expected error for nil reference")
	}
}

func TestBuildDropsForeignFields(t *testing.T) {
	b := newTestBuilder()
	payload, err := b.Build(ModeCustomVoice, Inputs{
		SpeakerID:   "vivian",
		Preset:      PresetExcited,
		Description: "should be ignored",
		Reference:   refClip(5, 0.2, audio.SampleRate),
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if payload.Description() != "" || payload.Reference() != nil {
		t.Error("CustomVoice payload must not carry design or clone fields")
	}
}
