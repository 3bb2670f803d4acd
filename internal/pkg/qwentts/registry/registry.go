// Package registry owns the loaded backend models, keyed by generation
// mode. Models are large, so residency is bounded: by default only one
// model stays loaded and switching modes displaces the previous one.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"qwentts/internal/pkg/qwentts/backend"
	"qwentts/internal/pkg/qwentts/conditioning"
)

// DefaultModelIDs maps each mode to the ONNX export it requires. VoiceClone
// runs on the base model; the other two modes have dedicated fine-tunes.
var DefaultModelIDs = map[conditioning.Mode]string{
	conditioning.ModeCustomVoice: "onnx-community/Qwen3-TTS-12Hz-1.7B-CustomVoice",
	conditioning.ModeVoiceDesign: "onnx-community/Qwen3-TTS-12Hz-1.7B-VoiceDesign",
	conditioning.ModeVoiceClone:  "onnx-community/Qwen3-TTS-12Hz-1.7B-Base",
}

// ModelLoadError reports a failed model load. The registry holds no partial
// handle after one.
type ModelLoadError struct {
	Mode    conditioning.Mode
	ModelID string
	Err     error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("failed to load model %s for mode %s: %v", e.ModelID, e.Mode, e.Err)
}

func (e *ModelLoadError) Unwrap() error {
	return e.Err
}

// Handle is a registry-owned reference to a resident model. Callers borrow
// it through Acquire and must give it back with Release when the synthesis
// call finishes.
type Handle struct {
	Mode    conditioning.Mode
	ModelID string
	Model   backend.Model

	refs     int
	loadedAt time.Time
}

type Config struct {
	// ModelIDs overrides DefaultModelIDs per mode; missing entries fall
	// back to the defaults.
	ModelIDs map[conditioning.Mode]string

	// MaxResident bounds how many models stay loaded at once. 0 means
	// unbounded (all three can stay warm on large-memory machines).
	MaxResident int
}

type Registry struct {
	mu          sync.Mutex
	loader      backend.Loader
	ids         map[conditioning.Mode]string
	maxResident int
	resident    []*Handle // oldest first
	log         zerolog.Logger
}

func New(loader backend.Loader, cfg Config, logger zerolog.Logger) *Registry {
	ids := make(map[conditioning.Mode]string, len(DefaultModelIDs))
	for mode, id := range DefaultModelIDs {
		ids[mode] = id
	}
	for mode, id := range cfg.ModelIDs {
		if id != "" {
			ids[mode] = id
		}
	}

	maxResident := cfg.MaxResident
	if maxResident < 0 {
		maxResident = 1
	}

	return &Registry{
		loader:      loader,
		ids:         ids,
		maxResident: maxResident,
		log:         logger,
	}
}

// ModelID returns the model identifier serving a mode.
func (r *Registry) ModelID(mode conditioning.Mode) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ids[mode]
}

// Acquire returns the resident handle for mode, loading the model first if
// necessary. Repeated calls for a resident mode return the same handle
// without reloading. When the residency cap is hit, the oldest idle handle
// is disposed before the new load starts.
func (r *Registry) Acquire(ctx context.Context, mode conditioning.Mode) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !mode.Valid() {
		return nil, &ModelLoadError{Mode: mode, Err: fmt.Errorf("unknown mode")}
	}

	for _, h := range r.resident {
		if h.Mode == mode {
			h.refs++
			return h, nil
		}
	}

	modelID := r.ids[mode]
	if modelID == "" {
		return nil, &ModelLoadError{Mode: mode, Err: fmt.Errorf("no model configured")}
	}

	if r.maxResident > 0 {
		for len(r.resident) >= r.maxResident {
			if err := r.evictOldestLocked(); err != nil {
				return nil, &ModelLoadError{Mode: mode, ModelID: modelID, Err: err}
			}
		}
	}

	r.log.Info().Str("mode", string(mode)).Str("model", modelID).Msg("Loading model...")
	start := time.Now()

	model, err := r.loader.Load(ctx, modelID)
	if err != nil {
		return nil, &ModelLoadError{Mode: mode, ModelID: modelID, Err: err}
	}

	r.log.Info().
		Str("mode", string(mode)).
		Dur("elapsed", time.Since(start)).
		Msg("Model loaded")

	h := &Handle{
		Mode:     mode,
		ModelID:  modelID,
		Model:    model,
		refs:     1,
		loadedAt: time.Now(),
	}
	r.resident = append(r.resident, h)
	return h, nil
}

// Release returns a borrowed handle. The model stays resident for the next
// request of the same mode.
func (r *Registry) Release(h *Handle) {
	if h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if h.refs > 0 {
		h.refs--
	}
}

// ReleaseUnused disposes every resident model that is not borrowed.
func (r *Registry) ReleaseUnused() {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.resident[:0]
	for _, h := range r.resident {
		if h.refs > 0 {
			kept = append(kept, h)
			continue
		}
		r.disposeLocked(h)
	}
	r.resident = kept
}

// Close disposes all resident models regardless of borrow state.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for _, h := range r.resident {
		if err := h.Model.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.resident = nil
	return firstErr
}

func (r *Registry) evictOldestLocked() error {
	for i, h := range r.resident {
		if h.refs > 0 {
			continue
		}
		r.resident = append(r.resident[:i], r.resident[i+1:]...)
		r.disposeLocked(h)
		return nil
	}
	return fmt.Errorf("all %d resident models are in use", len(r.resident))
}

func (r *Registry) disposeLocked(h *Handle) {
	r.log.Info().Str("mode", string(h.Mode)).Str("model", h.ModelID).Msg("Disposing model")
	if err := h.Model.Close(); err != nil {
		r.log.Warn().Err(err).Str("model", h.ModelID).Msg("Failed to dispose model cleanly")
	}
}
