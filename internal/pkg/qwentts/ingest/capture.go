package ingest

import (
	"context"
	"fmt"

	"github.com/gordonklaus/portaudio"
)

const captureBufferFrames = 1024

// MicrophoneSource captures mono float32 audio from the default input
// device via portaudio.
type MicrophoneSource struct {
	stream     *portaudio.Stream
	sampleRate int
	buffer     []float32
}

// OpenMicrophone is the production CaptureOpener.
func OpenMicrophone(sampleRate int) CaptureOpener {
	return func() (CaptureSource, error) {
		return NewMicrophoneSource(sampleRate)
	}
}

func NewMicrophoneSource(sampleRate int) (*MicrophoneSource, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	buffer := make([]float32, captureBufferFrames)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), len(buffer), &buffer)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open capture stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to start capture stream: %w", err)
	}

	return &MicrophoneSource{
		stream:     stream,
		sampleRate: sampleRate,
		buffer:     buffer,
	}, nil
}

func (m *MicrophoneSource) Read(ctx context.Context) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.stream.Read(); err != nil {
		return nil, err
	}
	out := make([]float32, len(m.buffer))
	copy(out, m.buffer)
	return out, nil
}

func (m *MicrophoneSource) SampleRate() int {
	return m.sampleRate
}

func (m *MicrophoneSource) Channels() int {
	return 1
}

func (m *MicrophoneSource) Close() error {
	if err := m.stream.Abort(); err != nil {
		m.stream.Close()
		portaudio.Terminate()
		return err
	}
	if err := m.stream.Close(); err != nil {
		portaudio.Terminate()
		return err
	}
	return portaudio.Terminate()
}
