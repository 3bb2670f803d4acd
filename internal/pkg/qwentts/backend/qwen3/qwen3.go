// Package qwen3 drives the ONNX exports of the Qwen3-TTS model family. One
// export per generation mode; all three share the same graph interface, so
// a single Model implementation serves every mode.
package qwen3

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/rs/zerolog"
	ort "github.com/yalue/onnxruntime_go"

	"qwentts/internal/pkg/qwentts/audio"
	"qwentts/internal/pkg/qwentts/backend"
	"qwentts/internal/pkg/qwentts/hub"
	"qwentts/internal/pkg/qwentts/preprocess"
)

const refLatentDim = 512

func getOnnxRuntimeLibPath() string {
	envPath := os.Getenv("ONNXRUNTIME_LIB_PATH")
	if envPath != "" {
		return envPath
	}

	switch runtime.GOOS {
	case "linux":
		paths := []string{
			"/usr/lib/libonnxruntime.so",
			"/usr/local/lib/libonnxruntime.so",
			"./libonnxruntime.so",
			"./lib/libonnxruntime.so",
		}
		for _, p := range paths {
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
		return "libonnxruntime.so"
	case "windows":
		paths := []string{
			"onnxruntime.dll",
			"./onnxruntime.dll",
			"./lib/onnxruntime.dll",
		}
		for _, p := range paths {
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
		return "onnxruntime.dll"
	case "darwin":
		paths := []string{
			"/usr/local/lib/libonnxruntime.dylib",
			"/opt/homebrew/lib/libonnxruntime.dylib",
			"./libonnxruntime.dylib",
		}
		for _, p := range paths {
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}

// Loader resolves model ids through the hub cache and opens ONNX sessions.
type Loader struct {
	hub *hub.Cache
	log zerolog.Logger
}

func NewLoader(cache *hub.Cache, logger zerolog.Logger) *Loader {
	return &Loader{hub: cache, log: logger}
}

func (l *Loader) Load(ctx context.Context, modelID string) (backend.Model, error) {
	dir, err := l.hub.Resolve(ctx, modelID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve model %s: %w", modelID, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.log.Debug().Str("model", modelID).Str("dir", dir).Msg("Opening ONNX sessions")
	return NewModel(dir)
}

type Model struct {
	dir        string
	tokenizer  *Tokenizer
	speakers   map[string]int64
	sampleRate int

	talker     *ort.DynamicAdvancedSession
	refEncoder *ort.DynamicAdvancedSession
	vocoder    *ort.DynamicAdvancedSession
}

type modelConfig struct {
	SampleRate int `json:"sample_rate"`
}

func NewModel(dir string) (*Model, error) {
	// The runtime environment is process-wide and shared by all models;
	// initialize it once and leave it up until exit.
	if !ort.IsInitialized() {
		ort.SetSharedLibraryPath(getOnnxRuntimeLibPath())
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}

	tokenizer, err := NewTokenizer(filepath.Join(dir, "vocab.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer: %w", err)
	}

	speakers, err := loadSpeakers(filepath.Join(dir, "speakers.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to load speakers: %w", err)
	}

	sampleRate := audio.SampleRate
	if data, err := os.ReadFile(filepath.Join(dir, "config.json")); err == nil {
		var cfg modelConfig
		if err := json.Unmarshal(data, &cfg); err == nil && cfg.SampleRate > 0 {
			sampleRate = cfg.SampleRate
		}
	}

	m := &Model{
		dir:        dir,
		tokenizer:  tokenizer,
		speakers:   speakers,
		sampleRate: sampleRate,
	}

	m.talker, err = ort.NewDynamicAdvancedSession(
		filepath.Join(dir, "talker.onnx"),
		[]string{"input_ids", "cond_ids", "speaker_id", "ref_latent"},
		[]string{"codes"},
		nil,
	)
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("failed to load talker: %w", err)
	}

	m.refEncoder, err = ort.NewDynamicAdvancedSession(
		filepath.Join(dir, "ref_encoder.onnx"),
		[]string{"audio"},
		[]string{"latent"},
		nil,
	)
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("failed to load ref_encoder: %w", err)
	}

	m.vocoder, err = ort.NewDynamicAdvancedSession(
		filepath.Join(dir, "vocoder.onnx"),
		[]string{"codes"},
		[]string{"waveform"},
		nil,
	)
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("failed to load vocoder: %w", err)
	}

	return m, nil
}

func loadSpeakers(path string) (map[string]int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var speakers map[string]int64
	if err := json.Unmarshal(data, &speakers); err != nil {
		return nil, fmt.Errorf("failed to parse speakers JSON: %w", err)
	}
	return speakers, nil
}

// Infer synthesizes the prompt segment by segment, checking ctx between
// segments so a cancelled run stops at the next chunk boundary.
func (m *Model) Infer(ctx context.Context, prompt backend.Prompt) ([][]float32, error) {
	text := preprocess.Clean(prompt.Text)
	segments := splitSegments(text)
	if len(segments) == 0 {
		return nil, fmt.Errorf("no synthesizable text after preprocessing")
	}

	speakerID := int64(-1)
	if prompt.SpeakerID != "" {
		id, ok := m.speakers[prompt.SpeakerID]
		if !ok {
			return nil, fmt.Errorf("speaker not found: %s", prompt.SpeakerID)
		}
		speakerID = id
	}

	condText := prompt.Instruct
	if prompt.Description != "" {
		condText = prompt.Description
	}
	if prompt.Transcript != "" {
		condText = prompt.Transcript
	}
	var condIDs []int64
	if condText != "" {
		condIDs = m.tokenizer.Encode(preprocess.Clean(condText))
	}

	var refLatent []float32
	if prompt.Reference != nil {
		latent, err := m.encodeReference(prompt.Reference.Samples)
		if err != nil {
			return nil, fmt.Errorf("failed to encode reference audio: %w", err)
		}
		refLatent = latent
	}

	chunks := make([][]float32, 0, len(segments))
	for _, segment := range segments {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		tokens := m.tokenizer.Encode(segment)
		if len(tokens) == 0 {
			continue
		}

		codes, err := m.runTalker(tokens, condIDs, speakerID, refLatent)
		if err != nil {
			return nil, fmt.Errorf("failed to run talker: %w", err)
		}

		chunk, err := m.runVocoder(codes)
		if err != nil {
			return nil, fmt.Errorf("failed to run vocoder: %w", err)
		}
		chunks = append(chunks, chunk)
	}

	if len(chunks) == 0 {
		return nil, fmt.Errorf("no audio produced")
	}
	return chunks, nil
}

func (m *Model) encodeReference(samples []float32) ([]float32, error) {
	audioTensor, err := ort.NewTensor(ort.NewShape(1, 1, int64(len(samples))), samples)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio tensor: %w", err)
	}
	defer audioTensor.Destroy()

	outputs := make([]ort.Value, 1)
	if err := m.refEncoder.Run([]ort.Value{audioTensor}, outputs); err != nil {
		return nil, fmt.Errorf("failed to run ref_encoder: %w", err)
	}
	if outputs[0] == nil {
		return nil, fmt.Errorf("no output from ref_encoder")
	}
	defer outputs[0].Destroy()

	latentTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected ref_encoder output type")
	}

	latent := latentTensor.GetData()
	out := make([]float32, len(latent))
	copy(out, latent)
	return out, nil
}

func (m *Model) runTalker(tokens, condIDs []int64, speakerID int64, refLatent []float32) ([]int64, error) {
	inputIdsTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(tokens))), tokens)
	if err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	defer inputIdsTensor.Destroy()

	if condIDs == nil {
		condIDs = []int64{}
	}
	condTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(condIDs))), condIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to create cond_ids tensor: %w", err)
	}
	defer condTensor.Destroy()

	speakerTensor, err := ort.NewTensor(ort.NewShape(1), []int64{speakerID})
	if err != nil {
		return nil, fmt.Errorf("failed to create speaker_id tensor: %w", err)
	}
	defer speakerTensor.Destroy()

	if refLatent == nil {
		refLatent = []float32{}
	}
	refTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(refLatent))/refLatentDim, refLatentDim), refLatent)
	if err != nil {
		return nil, fmt.Errorf("failed to create ref_latent tensor: %w", err)
	}
	defer refTensor.Destroy()

	inputs := []ort.Value{inputIdsTensor, condTensor, speakerTensor, refTensor}
	outputs := make([]ort.Value, 1)

	if err := m.talker.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("failed to run inference: %w", err)
	}
	if outputs[0] == nil {
		return nil, fmt.Errorf("no output from talker")
	}
	defer outputs[0].Destroy()

	codesTensor, ok := outputs[0].(*ort.Tensor[int64])
	if !ok {
		return nil, fmt.Errorf("unexpected talker output type")
	}

	codes := codesTensor.GetData()
	out := make([]int64, len(codes))
	copy(out, codes)
	return out, nil
}

func (m *Model) runVocoder(codes []int64) ([]float32, error) {
	codesTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(codes))), codes)
	if err != nil {
		return nil, fmt.Errorf("failed to create codes tensor: %w", err)
	}
	defer codesTensor.Destroy()

	outputs := make([]ort.Value, 1)
	if err := m.vocoder.Run([]ort.Value{codesTensor}, outputs); err != nil {
		return nil, fmt.Errorf("failed to run inference: %w", err)
	}
	if outputs[0] == nil {
		return nil, fmt.Errorf("no output from vocoder")
	}
	defer outputs[0].Destroy()

	waveformTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected vocoder output type")
	}

	waveform := waveformTensor.GetData()
	out := make([]float32, len(waveform))
	copy(out, waveform)
	return out, nil
}

func (m *Model) SampleRate() int {
	return m.sampleRate
}

func (m *Model) Speakers() []string {
	names := make([]string, 0, len(m.speakers))
	for name := range m.speakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Model) Close() error {
	if m.talker != nil {
		m.talker.Destroy()
		m.talker = nil
	}
	if m.refEncoder != nil {
		m.refEncoder.Destroy()
		m.refEncoder = nil
	}
	if m.vocoder != nil {
		m.vocoder.Destroy()
		m.vocoder = nil
	}
	return nil
}
