// Package samples manages the on-disk library of recorded reference clips:
// one WAV per take, with an optional .txt transcript sidecar next to it.
package samples

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"qwentts/internal/pkg/qwentts/audio"
)

type Library struct {
	dir string
}

func NewLibrary(dir string) *Library {
	return &Library{dir: dir}
}

func (l *Library) Dir() string {
	return l.dir
}

// List returns the sample names (WAV basenames), sorted, so the newest
// timestamped take sorts last.
func (l *Library) List() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read samples dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".wav") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Save writes a clip under a timestamped name and its transcript alongside.
// Returns the sample name.
func (l *Library) Save(a *audio.Audio, transcript string) (string, error) {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create samples dir: %w", err)
	}

	name := time.Now().Format("20060102_150405") + ".wav"
	path := filepath.Join(l.dir, name)
	if err := a.SaveWAV(path); err != nil {
		return "", fmt.Errorf("failed to save sample: %w", err)
	}

	if transcript = strings.TrimSpace(transcript); transcript != "" {
		if err := l.SetTranscript(name, transcript); err != nil {
			return "", err
		}
	}
	return name, nil
}

// Load reads a sample and its transcript (empty if no sidecar exists). The
// returned audio is unnormalized; callers pass it through ingest.
func (l *Library) Load(name string) (*audio.Audio, int, string, error) {
	a, channels, err := audio.LoadWAV(filepath.Join(l.dir, name))
	if err != nil {
		return nil, 0, "", fmt.Errorf("failed to load sample %s: %w", name, err)
	}

	transcript := ""
	if data, err := os.ReadFile(l.transcriptPath(name)); err == nil {
		transcript = strings.TrimSpace(string(data))
	}
	return a, channels, transcript, nil
}

// SetTranscript writes or replaces the transcript sidecar for a sample.
func (l *Library) SetTranscript(name, transcript string) error {
	if err := os.WriteFile(l.transcriptPath(name), []byte(transcript+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to save transcript: %w", err)
	}
	return nil
}

func (l *Library) transcriptPath(name string) string {
	return filepath.Join(l.dir, strings.TrimSuffix(name, ".wav")+".txt")
}
