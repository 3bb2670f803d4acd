package hub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
)

const testModelID = "acme/tts-mini"

func newHubServer(t *testing.T, requests *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		prefix := "/" + testModelID + "/resolve/main/"
		if !strings.HasPrefix(r.URL.Path, prefix) {
			http.NotFound(w, r)
			return
		}
		name := strings.TrimPrefix(r.URL.Path, prefix)
		w.Write([]byte("payload of " + name))
	}))
}

func TestResolveDownloadsFullSnapshot(t *testing.T) {
	var requests atomic.Int64
	srv := newHubServer(t, &requests)
	defer srv.Close()

	c := New(t.TempDir(), zerolog.Nop())
	c.SetBaseURL(srv.URL)

	dir, err := c.Resolve(context.Background(), testModelID)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	for _, name := range snapshotFiles {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Errorf("snapshot missing %s: %v", name, err)
			continue
		}
		if string(data) != "payload of "+name {
			t.Errorf("%s has wrong content %q", name, data)
		}
	}
	if got := requests.Load(); got != int64(len(snapshotFiles)) {
		t.Errorf("expected %d requests, got %d", len(snapshotFiles), got)
	}
}

func TestResolveCachedSnapshotSkipsNetwork(t *testing.T) {
	var requests atomic.Int64
	srv := newHubServer(t, &requests)
	defer srv.Close()

	c := New(t.TempDir(), zerolog.Nop())
	c.SetBaseURL(srv.URL)

	ctx := context.Background()
	if _, err := c.Resolve(ctx, testModelID); err != nil {
		t.Fatalf("first Resolve failed: %v", err)
	}
	first := requests.Load()

	if _, err := c.Resolve(ctx, testModelID); err != nil {
		t.Fatalf("second Resolve failed: %v", err)
	}
	if requests.Load() != first {
		t.Error("cached snapshot should not touch the network")
	}
}

func TestResolveFetchesOnlyMissingFiles(t *testing.T) {
	var requests atomic.Int64
	srv := newHubServer(t, &requests)
	defer srv.Close()

	root := t.TempDir()
	c := New(root, zerolog.Nop())
	c.SetBaseURL(srv.URL)

	ctx := context.Background()
	if _, err := c.Resolve(ctx, testModelID); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	dir := filepath.Join(root, filepath.FromSlash(testModelID))
	if err := os.Remove(filepath.Join(dir, "vocab.json")); err != nil {
		t.Fatalf("failed to remove file: %v", err)
	}
	before := requests.Load()

	if _, err := c.Resolve(ctx, testModelID); err != nil {
		t.Fatalf("repair Resolve failed: %v", err)
	}
	if got := requests.Load() - before; got != 1 {
		t.Errorf("expected 1 repair request, got %d", got)
	}
}

func TestResolveHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	root := t.TempDir()
	c := New(root, zerolog.Nop())
	c.SetBaseURL(srv.URL)

	if _, err := c.Resolve(context.Background(), testModelID); err == nil {
		t.Fatal("expected error for missing upstream file")
	}

	// No half-written artifacts may remain.
	dir := filepath.Join(root, filepath.FromSlash(testModelID))
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		t.Errorf("unexpected leftover file %s", e.Name())
	}
}

func TestResolveHonoursCancellation(t *testing.T) {
	var requests atomic.Int64
	srv := newHubServer(t, &requests)
	defer srv.Close()

	c := New(t.TempDir(), zerolog.Nop())
	c.SetBaseURL(srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Resolve(ctx, testModelID); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestResolveRejectsBadModelID(t *testing.T) {
	c := New(t.TempDir(), zerolog.Nop())
	ctx := context.Background()

	if _, err := c.Resolve(ctx, ""); err == nil {
		t.Error("expected error for empty model id")
	}
	if _, err := c.Resolve(ctx, "../../etc"); err == nil {
		t.Error("expected error for path traversal in model id")
	}
}

func TestCachedDir(t *testing.T) {
	var requests atomic.Int64
	srv := newHubServer(t, &requests)
	defer srv.Close()

	c := New(t.TempDir(), zerolog.Nop())
	c.SetBaseURL(srv.URL)

	if _, err := c.CachedDir(testModelID); err == nil {
		t.Error("expected error for absent snapshot")
	}

	if _, err := c.Resolve(context.Background(), testModelID); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if _, err := c.CachedDir(testModelID); err != nil {
		t.Errorf("CachedDir failed on complete snapshot: %v", err)
	}
}
