package cache

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
)

func TestStorePutAndStat(t *testing.T) {
	store, fsys := newTestStore(t)
	locator := Locator{URL: "https://cdn.example.com/res/hero.png", Ext: ".png"}

	payload := []byte("payload")
	stored, err := store.Put(context.Background(), locator, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("put error: %v", err)
	}
	if !strings.HasSuffix(stored.FilePath, ".png") {
		t.Fatalf("expected extension to be kept, got %s", stored.FilePath)
	}

	result, err := store.Stat(context.Background(), locator)
	if err != nil {
		t.Fatalf("stat error: %v", err)
	}
	body, err := afero.ReadFile(fsys, result.FilePath)
	if err != nil {
		t.Fatalf("read cached body error: %v", err)
	}
	if string(body) != string(payload) {
		t.Fatalf("cached payload mismatch: %s", string(body))
	}
	if result.SizeBytes != int64(len(payload)) {
		t.Fatalf("size mismatch: %d", result.SizeBytes)
	}
}

func TestStoreStatMissing(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Stat(context.Background(), Locator{URL: "https://cdn.example.com/missing.json"})
	if err == nil || err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreRemove(t *testing.T) {
	store, _ := newTestStore(t)
	locator := Locator{URL: "https://cdn.example.com/remove.bin", Ext: ".bin"}
	if _, err := store.Put(context.Background(), locator, bytes.NewReader([]byte("data"))); err != nil {
		t.Fatalf("put error: %v", err)
	}
	if err := store.Remove(context.Background(), locator); err != nil {
		t.Fatalf("remove error: %v", err)
	}
	if _, err := store.Stat(context.Background(), locator); err == nil || err != ErrNotFound {
		t.Fatalf("expected not found after remove, got %v", err)
	}
	if err := store.Remove(context.Background(), locator); err != nil {
		t.Fatalf("second remove should be a no-op, got %v", err)
	}
}

func TestStoreIgnoresDirectories(t *testing.T) {
	store, fsys := newTestStore(t)
	locator := Locator{URL: "https://cdn.example.com/dir"}

	filePath, err := store.Path(locator)
	if err != nil {
		t.Fatalf("path error: %v", err)
	}
	if err := fsys.MkdirAll(filePath, 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}

	if _, err := store.Stat(context.Background(), locator); err == nil || err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for directory, got %v", err)
	}
}

func TestStoreAdoptMovesSource(t *testing.T) {
	store, fsys := newTestStore(t)
	src := "/tmp/download-1"
	if err := afero.WriteFile(fsys, src, []byte("temp body"), 0o644); err != nil {
		t.Fatalf("write temp: %v", err)
	}

	locator := Locator{URL: "https://cdn.example.com/a.json", Ext: ".json"}
	stored, err := store.Adopt(context.Background(), locator, src)
	if err != nil {
		t.Fatalf("adopt error: %v", err)
	}
	if exists, _ := afero.Exists(fsys, src); exists {
		t.Fatalf("expected source to be moved")
	}
	if stored.SizeBytes != int64(len("temp body")) {
		t.Fatalf("unexpected size %d", stored.SizeBytes)
	}

	// 再次提交已落盘路径时保持原样
	again, err := store.Adopt(context.Background(), locator, stored.FilePath)
	if err != nil {
		t.Fatalf("adopt committed path: %v", err)
	}
	if again.FilePath != stored.FilePath {
		t.Fatalf("path changed: %s vs %s", again.FilePath, stored.FilePath)
	}
}

func TestStorePathRejectsUnsafeExt(t *testing.T) {
	store, _ := newTestStore(t)
	p, err := store.Path(Locator{URL: "https://cdn.example.com/x", Ext: "./../../etc"})
	if err != nil {
		t.Fatalf("path error: %v", err)
	}
	if filepath.Ext(p) != "" {
		t.Fatalf("expected unsafe extension to be dropped, got %s", p)
	}
}

func TestExtFromURL(t *testing.T) {
	cases := map[string]string{
		"https://cdn.example.com/a/b.png":          ".png",
		"https://cdn.example.com/a/b.json?v=2":     ".json",
		"https://cdn.example.com/a.dir/b":          "",
		"res/raw-assets/config.ExportJson#section": ".ExportJson",
	}
	for in, want := range cases {
		if got := ExtFromURL(in); got != want {
			t.Fatalf("ExtFromURL(%q)=%q want %q", in, got, want)
		}
	}
}

// newTestStore returns a Store backed by an in-memory file system.
func newTestStore(t *testing.T) (Store, afero.Fs) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	store, err := NewStore(fsys, "/cache")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store, fsys
}
