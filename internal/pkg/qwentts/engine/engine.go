// Package engine orchestrates one synthesis at a time: acquire the model
// for the request's mode, run inference, assemble the chunks. Long-running
// work happens off the interactive caller via Start; cancellation is
// cooperative and honored at step boundaries.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"qwentts/internal/pkg/qwentts/audio"
	"qwentts/internal/pkg/qwentts/backend"
	"qwentts/internal/pkg/qwentts/conditioning"
	"qwentts/internal/pkg/qwentts/registry"
)

// MaxTextRunes bounds the input text of one request.
const MaxTextRunes = 4096

// ErrBusy rejects a synthesize call while another is in flight. The UI is
// expected to disable its trigger, but the engine enforces this itself.
var ErrBusy = errors.New("synthesis already in flight")

// InvalidRequestError reports a request whose mode and payload disagree, a
// contract violation rather than a user-input problem.
type InvalidRequestError struct {
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return "invalid request: " + e.Reason
}

// InferenceError wraps a backend computation failure.
type InferenceError struct {
	Mode conditioning.Mode
	Err  error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failed for mode %s: %v", e.Mode, e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}

type State int

const (
	StateIdle State = iota
	StateLoading
	StateSynthesizing
	StateDone
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateSynthesizing:
		return "synthesizing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Request is one immutable synthesis attempt.
type Request struct {
	Mode    conditioning.Mode
	Text    string
	Payload conditioning.Payload
}

// NewRequest validates text bounds and mode/payload agreement up front so a
// Request in circulation is always well-formed.
func NewRequest(text string, payload conditioning.Payload) (Request, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Request{}, &conditioning.ValidationError{Field: "text", Reason: "text is required"}
	}
	if len([]rune(text)) > MaxTextRunes {
		return Request{}, &conditioning.ValidationError{
			Field:  "text",
			Reason: fmt.Sprintf("text exceeds %d characters", MaxTextRunes),
		}
	}
	if !payload.Mode().Valid() {
		return Request{}, &conditioning.ValidationError{Field: "mode", Reason: "payload has no mode"}
	}
	return Request{Mode: payload.Mode(), Text: text, Payload: payload}, nil
}

// Outcome is the single message delivered on a Start completion channel.
type Outcome struct {
	Audio *audio.Audio
	Err   error
}

type Engine struct {
	reg *registry.Registry
	log zerolog.Logger

	mu     sync.Mutex
	busy   bool
	state  State
	cancel context.CancelFunc
}

func New(reg *registry.Registry, logger zerolog.Logger) *Engine {
	return &Engine{reg: reg, log: logger, state: StateIdle}
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Synthesize runs one request to completion on the calling goroutine.
// Returns ErrBusy immediately if another synthesis is in flight.
func (e *Engine) Synthesize(ctx context.Context, req Request) (*audio.Audio, error) {
	runCtx, err := e.claim(ctx)
	if err != nil {
		return nil, err
	}
	return e.run(runCtx, req)
}

// Start runs the request on a background goroutine and delivers exactly one
// Outcome on the returned channel. The busy check happens synchronously, so
// a rejected call never spawns work.
func (e *Engine) Start(req Request) (<-chan Outcome, error) {
	runCtx, err := e.claim(context.Background())
	if err != nil {
		return nil, err
	}

	ch := make(chan Outcome, 1)
	go func() {
		a, err := e.run(runCtx, req)
		ch <- Outcome{Audio: a, Err: err}
	}()
	return ch, nil
}

// Cancel requests cooperative cancellation of the in-flight synthesis. It
// takes effect at the next checkpoint; no partial audio is delivered.
func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
}

// claim atomically takes the busy gate and arms the cancellation context.
func (e *Engine) claim(ctx context.Context) (context.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy {
		return nil, ErrBusy
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.busy = true
	e.cancel = cancel
	return runCtx, nil
}

func (e *Engine) finish(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.busy = false
	e.state = s
}

// run executes the claimed request. The busy gate is held on entry and
// released on every return path.
func (e *Engine) run(ctx context.Context, req Request) (*audio.Audio, error) {
	if req.Mode != req.Payload.Mode() {
		e.finish(StateFailed)
		return nil, &InvalidRequestError{
			Reason: fmt.Sprintf("mode %s does not match payload mode %s", req.Mode, req.Payload.Mode()),
		}
	}
	if req.Text == "" {
		e.finish(StateFailed)
		return nil, &InvalidRequestError{Reason: "empty text"}
	}

	if err := ctx.Err(); err != nil {
		e.finish(StateCancelled)
		return nil, err
	}

	// Loading is entered only once the request has passed validation.
	e.setState(StateLoading)

	handle, err := e.reg.Acquire(ctx, req.Mode)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			e.finish(StateCancelled)
			return nil, context.Canceled
		}
		e.finish(StateFailed)
		return nil, err
	}
	defer e.reg.Release(handle)

	e.setState(StateSynthesizing)

	// Checkpoint before inference: a cancel during the load is honored here
	// even when the loader itself does not observe ctx.
	if err := ctx.Err(); err != nil {
		e.finish(StateCancelled)
		return nil, err
	}

	prompt := assemblePrompt(req)

	start := time.Now()
	chunks, err := handle.Model.Infer(ctx, prompt)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			e.finish(StateCancelled)
			return nil, context.Canceled
		}
		e.finish(StateFailed)
		return nil, &InferenceError{Mode: req.Mode, Err: err}
	}

	// The backend may have returned normally after a late cancel; discard
	// the result rather than exposing it.
	if err := ctx.Err(); err != nil {
		e.finish(StateCancelled)
		return nil, err
	}

	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	samples := make([]float32, 0, total)
	for _, c := range chunks {
		samples = append(samples, c...)
	}

	result := audio.NewAudioWithSampleRate(samples, handle.Model.SampleRate())

	e.log.Info().
		Str("mode", string(req.Mode)).
		Dur("elapsed", time.Since(start)).
		Float64("duration_sec", result.Duration()).
		Msg("Audio generated")

	e.finish(StateDone)
	return result, nil
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// assemblePrompt is the engine's single mode dispatch: it maps the payload
// variant onto the backend prompt fields.
func assemblePrompt(req Request) backend.Prompt {
	p := backend.Prompt{Text: req.Text}
	switch req.Mode {
	case conditioning.ModeCustomVoice:
		p.SpeakerID = req.Payload.SpeakerID()
		p.Instruct = req.Payload.Instruct()
	case conditioning.ModeVoiceDesign:
		p.Description = req.Payload.Description()
	case conditioning.ModeVoiceClone:
		p.Reference = req.Payload.Reference()
		p.Transcript = req.Payload.Transcript()
	}
	return p
}
