package qwen3

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeVocab(t *testing.T, vocab map[string]int64) string {
	t.Helper()
	data, err := json.Marshal(vocab)
	if err != nil {
		t.Fatalf("failed to marshal vocab: %v", err)
	}
	path := filepath.Join(t.TempDir(), "vocab.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write vocab: %v", err)
	}
	return path
}

func newTestTokenizer(t *testing.T) *Tokenizer {
	t.Helper()
	path := writeVocab(t, map[string]int64{
		"<bos>": 1,
		"<eos>": 2,
		"<unk>": 3,
		"h":     10,
		"e":     11,
		"l":     12,
		"o":     13,
		" ":     14,
		"he":    20,
		"hello": 30,
	})
	tok, err := NewTokenizer(path)
	if err != nil {
		t.Fatalf("NewTokenizer failed: %v", err)
	}
	return tok
}

func TestEncodeWrapsWithMarkers(t *testing.T) {
	tok := newTestTokenizer(t)
	ids := tok.Encode("h")
	if len(ids) != 3 || ids[0] != 1 || ids[1] != 10 || ids[2] != 2 {
		t.Errorf("unexpected ids %v", ids)
	}
}

func TestEncodePrefersLongestMatch(t *testing.T) {
	tok := newTestTokenizer(t)
	ids := tok.Encode("hello he")
	// "hello" beats "he"+"l"+"l"+"o"; the second "he" has no longer match.
	want := []int64{1, 30, 14, 20, 2}
	if len(ids) != len(want) {
		t.Fatalf("expected %v, got %v", want, ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, ids)
		}
	}
}

func TestEncodeUnknownRune(t *testing.T) {
	tok := newTestTokenizer(t)
	ids := tok.Encode("héllo")
	// é is not in the vocab; it maps to <unk> without derailing the rest.
	if ids[1] != 10 || ids[2] != 3 {
		t.Errorf("unexpected ids %v", ids)
	}
	if ids[len(ids)-1] != 2 {
		t.Error("missing end marker")
	}
}

func TestEncodeEmpty(t *testing.T) {
	tok := newTestTokenizer(t)
	ids := tok.Encode("")
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Errorf("unexpected ids %v", ids)
	}
}

func TestVocabSize(t *testing.T) {
	tok := newTestTokenizer(t)
	if tok.VocabSize() != 10 {
		t.Errorf("expected 10 tokens, got %d", tok.VocabSize())
	}
}

func TestNewTokenizerMissingMarkers(t *testing.T) {
	path := writeVocab(t, map[string]int64{"a": 5})
	tok, err := NewTokenizer(path)
	if err != nil {
		t.Fatalf("NewTokenizer failed: %v", err)
	}
	ids := tok.Encode("a")
	// Falls back to the conventional marker ids.
	if ids[0] != 1 || ids[1] != 5 || ids[2] != 2 {
		t.Errorf("unexpected ids %v", ids)
	}
}

func TestNewTokenizerBadFile(t *testing.T) {
	if _, err := NewTokenizer(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("expected error for missing vocab file")
	}
	path := filepath.Join(t.TempDir(), "vocab.json")
	os.WriteFile(path, []byte("not json"), 0o644)
	if _, err := NewTokenizer(path); err == nil {
		t.Error("expected error for malformed vocab file")
	}
}
