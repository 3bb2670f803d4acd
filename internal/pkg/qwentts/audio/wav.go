package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

const (
	// SampleRate is the rate the Qwen3-TTS models produce and expect.
	SampleRate    = 24000
	NumChannels   = 1
	BitsPerSample = 16
)

type Audio struct {
	Samples    []float32
	SampleRate int
}

func NewAudio(samples []float32) *Audio {
	return &Audio{
		Samples:    samples,
		SampleRate: SampleRate,
	}
}

func NewAudioWithSampleRate(samples []float32, sampleRate int) *Audio {
	return &Audio{
		Samples:    samples,
		SampleRate: sampleRate,
	}
}

func (a *Audio) Duration() float64 {
	if a.SampleRate == 0 {
		return 0
	}
	return float64(len(a.Samples)) / float64(a.SampleRate)
}

// Peak returns the largest absolute sample value.
func (a *Audio) Peak() float32 {
	var peak float32
	for _, s := range a.Samples {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return peak
}

func (a *Audio) SaveWAV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	numSamples := len(a.Samples)
	dataSize := numSamples * NumChannels * (BitsPerSample / 8)
	fileSize := 36 + dataSize

	if _, err := f.Write([]byte("RIFF")); err != nil {
		return err
	}
	if err := binary.Write(f, binary.LittleEndian, uint32(fileSize)); err != nil {
		return err
	}
	if _, err := f.Write([]byte("WAVE")); err != nil {
		return err
	}

	if _, err := f.Write([]byte("fmt ")); err != nil {
		return err
	}
	if err := binary.Write(f, binary.LittleEndian, uint32(16)); err != nil {
		return err
	}
	if err := binary.Write(f, binary.LittleEndian, uint16(1)); err != nil {
		return err
	}
	if err := binary.Write(f, binary.LittleEndian, uint16(NumChannels)); err != nil {
		return err
	}
	if err := binary.Write(f, binary.LittleEndian, uint32(a.SampleRate)); err != nil {
		return err
	}
	byteRate := a.SampleRate * NumChannels * (BitsPerSample / 8)
	if err := binary.Write(f, binary.LittleEndian, uint32(byteRate)); err != nil {
		return err
	}
	blockAlign := NumChannels * (BitsPerSample / 8)
	if err := binary.Write(f, binary.LittleEndian, uint16(blockAlign)); err != nil {
		return err
	}
	if err := binary.Write(f, binary.LittleEndian, uint16(BitsPerSample)); err != nil {
		return err
	}

	if _, err := f.Write([]byte("data")); err != nil {
		return err
	}
	if err := binary.Write(f, binary.LittleEndian, uint32(dataSize)); err != nil {
		return err
	}

	for _, sample := range a.Samples {
		clamped := sample
		if clamped > 1.0 {
			clamped = 1.0
		} else if clamped < -1.0 {
			clamped = -1.0
		}

		intSample := int16(clamped * math.MaxInt16)
		if err := binary.Write(f, binary.LittleEndian, intSample); err != nil {
			return err
		}
	}

	return nil
}

// LoadWAV reads a 16-bit PCM WAV file. Multi-channel files are returned
// as-is, interleaved; callers that need mono should Downmix afterwards.
func LoadWAV(path string) (*Audio, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to stat file: %w", err)
	}
	fileSize := info.Size()

	var riff [12]byte
	if _, err := io.ReadFull(f, riff[:]); err != nil {
		return nil, 0, fmt.Errorf("failed to read RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("not a WAV file: %s", path)
	}

	var (
		sampleRate    uint32
		channels      uint16
		bitsPerSample uint16
		haveFmt       bool
	)

	for {
		var chunkHdr [8]byte
		if _, err := io.ReadFull(f, chunkHdr[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil, 0, fmt.Errorf("no data chunk in %s", path)
			}
			return nil, 0, fmt.Errorf("failed to read chunk header: %w", err)
		}
		chunkID := string(chunkHdr[0:4])
		chunkSize := binary.LittleEndian.Uint32(chunkHdr[4:8])

		switch chunkID {
		case "fmt ":
			// A PCM fmt chunk is at least 16 bytes; anything shorter is
			// corrupt.
			if chunkSize < 16 {
				return nil, 0, fmt.Errorf("malformed fmt chunk in %s (%d bytes)", path, chunkSize)
			}
			var fmtData [16]byte
			if _, err := io.ReadFull(f, fmtData[:]); err != nil {
				return nil, 0, fmt.Errorf("failed to read fmt chunk: %w", err)
			}
			format := binary.LittleEndian.Uint16(fmtData[0:2])
			if format != 1 {
				return nil, 0, fmt.Errorf("unsupported WAV format %d (only PCM)", format)
			}
			channels = binary.LittleEndian.Uint16(fmtData[2:4])
			sampleRate = binary.LittleEndian.Uint32(fmtData[4:8])
			bitsPerSample = binary.LittleEndian.Uint16(fmtData[14:16])
			haveFmt = true

			skip := int64(chunkSize) - 16
			if chunkSize%2 == 1 {
				skip++
			}
			if skip > 0 {
				if _, err := f.Seek(skip, io.SeekCurrent); err != nil {
					return nil, 0, fmt.Errorf("failed to skip fmt extension: %w", err)
				}
			}
		case "data":
			if !haveFmt {
				return nil, 0, fmt.Errorf("data chunk before fmt chunk in %s", path)
			}
			if bitsPerSample != 16 {
				return nil, 0, fmt.Errorf("unsupported bit depth %d (only 16)", bitsPerSample)
			}
			// The declared size is untrusted input; cap it against what the
			// file actually holds before allocating.
			pos, err := f.Seek(0, io.SeekCurrent)
			if err != nil {
				return nil, 0, fmt.Errorf("failed to locate data chunk: %w", err)
			}
			if int64(chunkSize) > fileSize-pos {
				return nil, 0, fmt.Errorf("data chunk in %s declares %d bytes, only %d remain", path, chunkSize, fileSize-pos)
			}
			raw := make([]byte, chunkSize)
			if _, err := io.ReadFull(f, raw); err != nil {
				return nil, 0, fmt.Errorf("failed to read data chunk: %w", err)
			}
			samples := make([]float32, len(raw)/2)
			for i := range samples {
				v := int16(binary.LittleEndian.Uint16(raw[i*2 : i*2+2]))
				samples[i] = float32(v) / math.MaxInt16
			}
			return NewAudioWithSampleRate(samples, int(sampleRate)), int(channels), nil
		default:
			// Skip unknown chunks (LIST, fact, ...). Chunk sizes are padded
			// to even byte counts.
			skip := int64(chunkSize)
			if chunkSize%2 == 1 {
				skip++
			}
			if _, err := f.Seek(skip, io.SeekCurrent); err != nil {
				return nil, 0, fmt.Errorf("failed to skip %s chunk: %w", chunkID, err)
			}
		}
	}
}
