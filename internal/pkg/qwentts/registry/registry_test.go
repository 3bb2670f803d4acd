package registry

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"qwentts/internal/pkg/qwentts/backend"
	"qwentts/internal/pkg/qwentts/conditioning"
)

type fakeModel struct {
	id     string
	closed bool
}

func (m *fakeModel) Infer(ctx context.Context, prompt backend.Prompt) ([][]float32, error) {
	return [][]float32{{0.1, 0.2}}, nil
}

func (m *fakeModel) SampleRate() int    { return 24000 }
func (m *fakeModel) Speakers() []string { return nil }

func (m *fakeModel) Close() error {
	m.closed = true
	return nil
}

type fakeLoader struct {
	loads  []string
	models map[string]*fakeModel
	fail   map[string]error
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{models: make(map[string]*fakeModel), fail: make(map[string]error)}
}

func (l *fakeLoader) Load(ctx context.Context, modelID string) (backend.Model, error) {
	l.loads = append(l.loads, modelID)
	if err := l.fail[modelID]; err != nil {
		return nil, err
	}
	m := &fakeModel{id: modelID}
	l.models[modelID] = m
	return m, nil
}

func newTestRegistry(loader backend.Loader, maxResident int) *Registry {
	return New(loader, Config{MaxResident: maxResident}, zerolog.Nop())
}

func TestAcquireLoadsOnce(t *testing.T) {
	loader := newFakeLoader()
	reg := newTestRegistry(loader, 1)
	ctx := context.Background()

	h1, err := reg.Acquire(ctx, conditioning.ModeCustomVoice)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	reg.Release(h1)

	h2, err := reg.Acquire(ctx, conditioning.ModeCustomVoice)
	if err != nil {
		t.Fatalf("second Acquire failed: %v", err)
	}
	reg.Release(h2)

	if h1 != h2 {
		t.Error("repeated Acquire for a resident mode should return the same handle")
	}
	if len(loader.loads) != 1 {
		t.Errorf("expected 1 load, got %d", len(loader.loads))
	}
}

func TestAcquireDisplacesOldestWhenCapHit(t *testing.T) {
	loader := newFakeLoader()
	reg := newTestRegistry(loader, 1)
	ctx := context.Background()

	h1, err := reg.Acquire(ctx, conditioning.ModeCustomVoice)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	reg.Release(h1)

	if _, err := reg.Acquire(ctx, conditioning.ModeVoiceDesign); err != nil {
		t.Fatalf("Acquire for second mode failed: %v", err)
	}

	first := loader.models[DefaultModelIDs[conditioning.ModeCustomVoice]]
	if !first.closed {
		t.Error("switching modes should dispose the displaced model")
	}
}

func TestAcquireFailsWhenOnlyResidentIsBorrowed(t *testing.T) {
	loader := newFakeLoader()
	reg := newTestRegistry(loader, 1)
	ctx := context.Background()

	h, err := reg.Acquire(ctx, conditioning.ModeCustomVoice)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer reg.Release(h)

	if _, err := reg.Acquire(ctx, conditioning.ModeVoiceDesign); err == nil {
		t.Error("expected error when the only resident model is still borrowed")
	}
}

func TestAcquireLoadFailureLeavesNoResident(t *testing.T) {
	loader := newFakeLoader()
	loader.fail[DefaultModelIDs[conditioning.ModeVoiceClone]] = fmt.Errorf("download interrupted")
	reg := newTestRegistry(loader, 1)
	ctx := context.Background()

	_, err := reg.Acquire(ctx, conditioning.ModeVoiceClone)
	var lerr *ModelLoadError
	if !errors.As(err, &lerr) {
		t.Fatalf("expected ModelLoadError, got %v", err)
	}
	if lerr.Mode != conditioning.ModeVoiceClone {
		t.Errorf("expected VoiceClone mode in error, got %q", lerr.Mode)
	}

	// A retry must attempt the load again, proving no partial handle stuck.
	if _, err := reg.Acquire(ctx, conditioning.ModeVoiceClone); err == nil {
		t.Fatal("expected second Acquire to fail too")
	}
	if len(loader.loads) != 2 {
		t.Errorf("expected 2 load attempts, got %d", len(loader.loads))
	}
}

func TestUnboundedResidencyKeepsAllModels(t *testing.T) {
	loader := newFakeLoader()
	reg := newTestRegistry(loader, 0)
	ctx := context.Background()

	for _, mode := range conditioning.Modes() {
		h, err := reg.Acquire(ctx, mode)
		if err != nil {
			t.Fatalf("Acquire %s failed: %v", mode, err)
		}
		reg.Release(h)
	}

	for _, m := range loader.models {
		if m.closed {
			t.Errorf("model %s disposed despite unbounded residency", m.id)
		}
	}
	if len(loader.loads) != 3 {
		t.Errorf("expected 3 loads, got %d", len(loader.loads))
	}
}

func TestReleaseUnusedKeepsBorrowedHandles(t *testing.T) {
	loader := newFakeLoader()
	reg := newTestRegistry(loader, 0)
	ctx := context.Background()

	borrowed, err := reg.Acquire(ctx, conditioning.ModeCustomVoice)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	idle, err := reg.Acquire(ctx, conditioning.ModeVoiceDesign)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	reg.Release(idle)

	reg.ReleaseUnused()

	if loader.models[borrowed.ModelID].closed {
		t.Error("ReleaseUnused must not dispose a borrowed model")
	}
	if !loader.models[idle.ModelID].closed {
		t.Error("ReleaseUnused should dispose the idle model")
	}
}

func TestCloseDisposesEverything(t *testing.T) {
	loader := newFakeLoader()
	reg := newTestRegistry(loader, 0)
	ctx := context.Background()

	if _, err := reg.Acquire(ctx, conditioning.ModeCustomVoice); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := reg.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	for _, m := range loader.models {
		if !m.closed {
			t.Errorf("model %s not disposed on Close", m.id)
		}
	}
}

func TestModelIDOverride(t *testing.T) {
	loader := newFakeLoader()
	reg := New(loader, Config{
		ModelIDs: map[conditioning.Mode]string{
			conditioning.ModeCustomVoice: "local/custom-export",
		},
	}, zerolog.Nop())

	if got := reg.ModelID(conditioning.ModeCustomVoice); got != "local/custom-export" {
		t.Errorf("expected override, got %q", got)
	}
	if got := reg.ModelID(conditioning.ModeVoiceDesign); got != DefaultModelIDs[conditioning.ModeVoiceDesign] {
		t.Errorf("expected default for untouched mode, got %q", got)
	}
}
