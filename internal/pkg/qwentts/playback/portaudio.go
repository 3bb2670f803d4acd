package playback

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// PortAudioHost is the production Host. Initialize once, Close on exit.
type PortAudioHost struct{}

func NewPortAudioHost() (*PortAudioHost, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}
	return &PortAudioHost{}, nil
}

func (h *PortAudioHost) Close() error {
	return portaudio.Terminate()
}

func (h *PortAudioHost) Devices() ([]Device, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}

	defaultOut, _ := portaudio.DefaultOutputDevice()

	var out []Device
	for i, info := range infos {
		if info.MaxOutputChannels < 1 {
			continue
		}
		out = append(out, Device{
			ID:      i,
			Name:    info.Name,
			Default: defaultOut != nil && info == defaultOut,
		})
	}
	return out, nil
}

func (h *PortAudioHost) Open(dev Device, sampleRate int) (Stream, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	if dev.ID < 0 || dev.ID >= len(infos) {
		return nil, fmt.Errorf("device index %d out of range", dev.ID)
	}
	info := infos[dev.ID]

	params := portaudio.HighLatencyParameters(nil, info)
	params.Output.Channels = 1
	params.SampleRate = float64(sampleRate)
	params.FramesPerBuffer = chunkFrames

	buffer := make([]float32, chunkFrames)
	stream, err := portaudio.OpenStream(params, &buffer)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("failed to start stream: %w", err)
	}

	return &portAudioStream{stream: stream, buffer: buffer}, nil
}

type portAudioStream struct {
	stream *portaudio.Stream
	buffer []float32
}

func (s *portAudioStream) Write(samples []float32) error {
	n := copy(s.buffer, samples)
	// Zero-pad the tail chunk; the bound buffer is always written whole.
	for i := n; i < len(s.buffer); i++ {
		s.buffer[i] = 0
	}
	return s.stream.Write()
}

func (s *portAudioStream) Close() error {
	if err := s.stream.Abort(); err != nil {
		s.stream.Close()
		return err
	}
	return s.stream.Close()
}
