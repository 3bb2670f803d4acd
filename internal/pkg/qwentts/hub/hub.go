// Package hub resolves model identifiers to local snapshot directories,
// downloading missing files from the model hub on first use.
package hub

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const defaultBaseURL = "https://huggingface.co"

// snapshotFiles is the fixed set of artifacts a Qwen3-TTS ONNX export
// ships. A snapshot is complete only when every file is present.
var snapshotFiles = []string{
	"config.json",
	"vocab.json",
	"speakers.json",
	"talker.onnx",
	"ref_encoder.onnx",
	"vocoder.onnx",
}

type Cache struct {
	dir     string
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

func New(dir string, logger zerolog.Logger) *Cache {
	return &Cache{
		dir:     dir,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 10 * time.Minute},
		log:     logger,
	}
}

// SetBaseURL overrides the hub endpoint. Used by tests and mirrors.
func (c *Cache) SetBaseURL(url string) {
	c.baseURL = strings.TrimRight(url, "/")
}

// Resolve returns the local directory holding a complete snapshot for
// modelID, downloading missing files first. A cached snapshot never touches
// the network.
func (c *Cache) Resolve(ctx context.Context, modelID string) (string, error) {
	if modelID == "" {
		return "", fmt.Errorf("empty model id")
	}
	if strings.Contains(modelID, "..") {
		return "", fmt.Errorf("invalid model id %q", modelID)
	}

	dir := filepath.Join(c.dir, filepath.FromSlash(modelID))
	missing := c.missingFiles(dir)
	if len(missing) == 0 {
		return dir, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create snapshot dir: %w", err)
	}

	c.log.Info().Str("model", modelID).Int("files", len(missing)).Msg("Downloading model snapshot...")
	for _, name := range missing {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		url := fmt.Sprintf("%s/%s/resolve/main/%s", c.baseURL, modelID, name)
		if err := c.downloadFile(ctx, url, filepath.Join(dir, name)); err != nil {
			return "", fmt.Errorf("failed to download %s: %w", name, err)
		}
		c.log.Debug().Str("model", modelID).Str("file", name).Msg("Downloaded")
	}

	return dir, nil
}

// CachedDir returns the snapshot directory without downloading, or an error
// if the snapshot is absent or incomplete.
func (c *Cache) CachedDir(modelID string) (string, error) {
	dir := filepath.Join(c.dir, filepath.FromSlash(modelID))
	if missing := c.missingFiles(dir); len(missing) > 0 {
		return "", fmt.Errorf("snapshot for %s is incomplete (missing %s)", modelID, strings.Join(missing, ", "))
	}
	return dir, nil
}

func (c *Cache) missingFiles(dir string) []string {
	var missing []string
	for _, name := range snapshotFiles {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			missing = append(missing, name)
		}
	}
	return missing
}

// downloadFile streams the URL to a temp file and renames it into place, so
// an interrupted download never leaves a half-written artifact behind.
func (c *Cache) downloadFile(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("HTTP %d %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	tmp := dest + ".download"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	n, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if copyErr != nil {
		os.Remove(tmp)
		return copyErr
	}
	if closeErr != nil {
		os.Remove(tmp)
		return closeErr
	}
	if n <= 0 {
		os.Remove(tmp)
		return fmt.Errorf("empty payload")
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
