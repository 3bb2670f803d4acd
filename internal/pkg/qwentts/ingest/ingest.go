// Package ingest produces normalized reference clips for voice cloning,
// either from a recorded capture session or from a WAV file.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"qwentts/internal/pkg/qwentts/audio"
)

var (
	ErrClipTooShort = errors.New("reference clip too short")
	ErrClipTooLong  = errors.New("reference clip too long")
	ErrClipSilent   = errors.New("reference clip is silent")
)

// AudioIOError reports a capture or reference-clip failure. Use errors.Is
// with the sentinel values to distinguish validation rejections from device
// errors.
type AudioIOError struct {
	Op  string
	Err error
}

func (e *AudioIOError) Error() string {
	return fmt.Sprintf("audio %s failed: %v", e.Op, e.Err)
}

func (e *AudioIOError) Unwrap() error {
	return e.Err
}

// CaptureSource is an open recording device. Read blocks until a buffer of
// samples is available or ctx is done.
type CaptureSource interface {
	Read(ctx context.Context) ([]float32, error)
	SampleRate() int
	Channels() int
	Close() error
}

// CaptureOpener opens a capture session. Injected so tests run without a
// microphone.
type CaptureOpener func() (CaptureSource, error)

type Config struct {
	// TargetRate is the backend's required sample rate.
	TargetRate int

	MinSeconds float64
	MaxSeconds float64

	// RejectOverlong rejects clips past MaxSeconds instead of truncating.
	RejectOverlong bool
}

func (c Config) withDefaults() Config {
	if c.TargetRate == 0 {
		c.TargetRate = audio.SampleRate
	}
	if c.MinSeconds == 0 {
		c.MinSeconds = 3
	}
	if c.MaxSeconds == 0 {
		c.MaxSeconds = 30
	}
	return c
}

const silenceFloor = 0.003

type Ingestor struct {
	cfg  Config
	open CaptureOpener
	log  zerolog.Logger
}

func New(cfg Config, open CaptureOpener, logger zerolog.Logger) *Ingestor {
	return &Ingestor{cfg: cfg.withDefaults(), open: open, log: logger}
}

// FromFile loads a WAV file and normalizes it into a reference clip.
func (i *Ingestor) FromFile(path string) (*audio.Audio, error) {
	a, channels, err := audio.LoadWAV(path)
	if err != nil {
		return nil, &AudioIOError{Op: "load", Err: err}
	}
	return i.Normalize(a, channels)
}

// Record captures from the microphone until ctx is done (the caller's stop
// signal), then normalizes the take. The capture handle is released on
// every exit path.
func (i *Ingestor) Record(ctx context.Context) (*audio.Audio, error) {
	src, err := i.open()
	if err != nil {
		return nil, &AudioIOError{Op: "capture", Err: err}
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			i.log.Warn().Err(cerr).Msg("Failed to close capture device")
		}
	}()

	i.log.Info().Int("sample_rate", src.SampleRate()).Msg("Recording...")

	var frames []float32
	for {
		if ctx.Err() != nil {
			break
		}
		buf, err := src.Read(ctx)
		if len(buf) > 0 {
			frames = append(frames, buf...)
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				break
			}
			return nil, &AudioIOError{Op: "capture", Err: err}
		}
	}

	if len(frames) == 0 {
		return nil, &AudioIOError{Op: "capture", Err: ErrClipTooShort}
	}

	a := audio.NewAudioWithSampleRate(frames, src.SampleRate())
	return i.Normalize(a, src.Channels())
}

// Normalize downmixes, resamples to the target rate, and enforces the
// duration and silence gates.
func (i *Ingestor) Normalize(a *audio.Audio, channels int) (*audio.Audio, error) {
	mono, err := audio.Downmix(a.Samples, channels)
	if err != nil {
		return nil, &AudioIOError{Op: "normalize", Err: err}
	}

	samples, err := audio.Resample(mono, a.SampleRate, i.cfg.TargetRate)
	if err != nil {
		return nil, &AudioIOError{Op: "normalize", Err: err}
	}

	out := audio.NewAudioWithSampleRate(samples, i.cfg.TargetRate)

	dur := out.Duration()
	if dur < i.cfg.MinSeconds {
		return nil, &AudioIOError{
			Op:  "validate",
			Err: fmt.Errorf("%w: %.1fs, need at least %.0fs", ErrClipTooShort, dur, i.cfg.MinSeconds),
		}
	}
	if dur > i.cfg.MaxSeconds {
		if i.cfg.RejectOverlong {
			return nil, &AudioIOError{
				Op:  "validate",
				Err: fmt.Errorf("%w: %.1fs, at most %.0fs allowed", ErrClipTooLong, dur, i.cfg.MaxSeconds),
			}
		}
		keep := int(i.cfg.MaxSeconds * float64(i.cfg.TargetRate))
		i.log.Debug().Float64("duration_sec", dur).Float64("kept_sec", i.cfg.MaxSeconds).Msg("Truncating reference clip")
		out.Samples = out.Samples[:keep]
	}

	if out.Peak() < silenceFloor {
		return nil, &AudioIOError{Op: "validate", Err: ErrClipSilent}
	}

	return out, nil
}
