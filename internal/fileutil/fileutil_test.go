package fileutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCopyFileVerified(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "traces.raw")
	dst := filepath.Join(dir, "copy.raw")

	content := []byte("verified copy content")
	if err := os.WriteFile(src, content, 0o640); err != nil {
		t.Fatal(err)
	}

	if err := CopyFileVerified(src, dst); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(content) {
		t.Fatalf("content mismatch: got %q, want %q", got, content)
	}
	info, err := os.Stat(dst)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o640 {
		t.Fatalf("expected mode 0640, got %o", info.Mode().Perm())
	}
}

func TestCopyFileVerifiedMissingSource(t *testing.T) {
	dir := t.TempDir()
	if err := CopyFileVerified(filepath.Join(dir, "missing"), filepath.Join(dir, "dst")); err == nil {
		t.Fatal("expected error for missing source")
	}
}

func TestCopyTree(t *testing.T) {
	src := filepath.Join(t.TempDir(), "recording")
	files := map[string]string{
		"binary.json":               `{"kwargs": {}}`,
		"traces_cached_seg0.raw":    "0123456789",
		"properties/location.npy":   "loc",
		"properties/gain_to_uV.npy": "gain",
	}
	for name, content := range files {
		path := filepath.Join(src, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Symlink("binary.json", filepath.Join(src, "link.json")); err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(t.TempDir(), "preprocessed")
	stats, err := CopyTree(src, dst)
	if err != nil {
		t.Fatalf("CopyTree: %v", err)
	}
	if stats.Files != len(files) {
		t.Fatalf("expected %d files, got %d", len(files), stats.Files)
	}
	for name, content := range files {
		got, err := os.ReadFile(filepath.Join(dst, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if string(got) != content {
			t.Fatalf("%s: got %q want %q", name, got, content)
		}
	}
	if link, err := os.Readlink(filepath.Join(dst, "link.json")); err != nil || link != "binary.json" {
		t.Fatalf("expected symlink preserved, got %q %v", link, err)
	}
}

func TestCopyTreeRefusesExistingDestination(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	if _, err := CopyTree(src, dst); err == nil {
		t.Fatal("expected error when destination exists")
	}
}
