// Package playback routes finished audio to an output device. One stream
// plays at a time: a new Play stops whatever is still sounding.
package playback

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"qwentts/internal/pkg/qwentts/audio"
)

// ErrNoOutputDevice means neither the requested device nor a system
// default exists.
var ErrNoOutputDevice = errors.New("no output device available")

// PlaybackError reports a device or stream failure.
type PlaybackError struct {
	Device string
	Err    error
}

func (e *PlaybackError) Error() string {
	if e.Device != "" {
		return fmt.Sprintf("playback on %q failed: %v", e.Device, e.Err)
	}
	return fmt.Sprintf("playback failed: %v", e.Err)
}

func (e *PlaybackError) Unwrap() error {
	return e.Err
}

// Device describes one output device.
type Device struct {
	ID      int
	Name    string
	Default bool
}

// Stream is an open, exclusive output stream.
type Stream interface {
	// Write blocks until the chunk has been handed to the device.
	Write(samples []float32) error
	Close() error
}

// Host abstracts the audio system. The portaudio implementation is the
// production Host; tests substitute a fake.
type Host interface {
	Devices() ([]Device, error)
	Open(dev Device, sampleRate int) (Stream, error)
}

// chunkFrames is the write granularity; Stop takes effect within one chunk.
const chunkFrames = 2048

type Router struct {
	host Host
	log  zerolog.Logger

	mu     sync.Mutex
	active *Playback
}

func NewRouter(host Host, logger zerolog.Logger) *Router {
	return &Router{host: host, log: logger}
}

// Devices enumerates the available output devices.
func (r *Router) Devices() ([]Device, error) {
	return r.host.Devices()
}

// Play streams the buffer to the named device, falling back to the system
// default when the name is unknown. Any playback still running is stopped
// first.
func (r *Router) Play(a *audio.Audio, deviceName string) (*Playback, error) {
	if a == nil || len(a.Samples) == 0 {
		return nil, &PlaybackError{Device: deviceName, Err: fmt.Errorf("no audio to play")}
	}

	dev, err := r.selectDevice(deviceName)
	if err != nil {
		return nil, err
	}

	// Stop and drain the previous playback before opening: on exclusive
	// devices the open fails while the old stream still holds the device.
	r.mu.Lock()
	prev := r.active
	r.active = nil
	r.mu.Unlock()

	if prev != nil {
		prev.Stop()
		<-prev.done
	}

	stream, err := r.host.Open(dev, a.SampleRate)
	if err != nil {
		return nil, &PlaybackError{Device: dev.Name, Err: err}
	}

	p := &Playback{
		Device: dev,
		stream: stream,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	r.mu.Lock()
	r.active = p
	r.mu.Unlock()

	r.log.Debug().
		Str("device", dev.Name).
		Float64("duration_sec", a.Duration()).
		Msg("Playing")

	go p.pump(a.Samples)
	return p, nil
}

// Stop halts the active playback, if any.
func (r *Router) Stop() {
	r.mu.Lock()
	p := r.active
	r.mu.Unlock()
	if p != nil {
		p.Stop()
	}
}

func (r *Router) selectDevice(name string) (Device, error) {
	devices, err := r.host.Devices()
	if err != nil {
		return Device{}, &PlaybackError{Device: name, Err: err}
	}
	if len(devices) == 0 {
		return Device{}, ErrNoOutputDevice
	}

	if name != "" {
		for _, d := range devices {
			if d.Name == name {
				return d, nil
			}
		}
		r.log.Warn().Str("device", name).Msg("Output device not found, using default")
	}

	for _, d := range devices {
		if d.Default {
			return d, nil
		}
	}
	return devices[0], nil
}

// Playback is one in-flight stream.
type Playback struct {
	Device Device

	stream   Stream
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	err      error
}

// Stop halts playback immediately and releases the stream.
func (p *Playback) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

// Wait blocks until playback finishes or is stopped and reports any stream
// error.
func (p *Playback) Wait() error {
	<-p.done
	return p.err
}

func (p *Playback) pump(samples []float32) {
	defer close(p.done)
	defer func() {
		if err := p.stream.Close(); err != nil && p.err == nil {
			p.err = &PlaybackError{Device: p.Device.Name, Err: err}
		}
	}()

	for off := 0; off < len(samples); off += chunkFrames {
		select {
		case <-p.stop:
			return
		default:
		}

		end := off + chunkFrames
		if end > len(samples) {
			end = len(samples)
		}
		if err := p.stream.Write(samples[off:end]); err != nil {
			p.err = &PlaybackError{Device: p.Device.Name, Err: err}
			return
		}
	}
}
