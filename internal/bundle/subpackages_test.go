package bundle

import (
	"testing"

	"github.com/spf13/afero"

	"github.com/any-hub/asset-hub/internal/asseterr"
	"github.com/any-hub/asset-hub/internal/fsutil"
	"github.com/any-hub/asset-hub/internal/logging"
)

func TestLoadSubpackagesFromAppManifest(t *testing.T) {
	mem := afero.NewMemMapFs()
	manifest := `{
		"deviceOrientation": "portrait",
		"subpackages": [
			{"name": "level1", "root": "subpackages/level1/"},
			{"name": "stage", "root": "subpackages/stage", "independent": true},
			{"name": "broken"}
		]
	}`
	if err := afero.WriteFile(mem, "/game/game.json", []byte(manifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	files := fsutil.New(mem, "/game", logging.Discard())

	subs, err := LoadSubpackages(files, "game.json")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	list := subs.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 subpackages, got %+v", list)
	}
	sp, ok := subs.Get("subpackages/level1")
	if !ok || sp.Name != "level1" || sp.Root != "subpackages/level1" {
		t.Fatalf("unexpected subpackage %+v", sp)
	}
	stage, _ := subs.Get("subpackages/stage/")
	if !stage.Independent {
		t.Fatalf("independent flag must be decoded")
	}
	if subs.Has("assets") {
		t.Fatalf("plain bundles are not subpackages")
	}
}

func TestLoadSubpackagesMissingManifest(t *testing.T) {
	files := fsutil.New(afero.NewMemMapFs(), "/game", logging.Discard())

	subs, err := LoadSubpackages(files, "game.json")
	if !asseterr.Is(err, asseterr.KindFileSystem) {
		t.Fatalf("expected file system failure, got %v", err)
	}
	if subs == nil || len(subs.List()) != 0 {
		t.Fatalf("missing manifest must yield an empty registry")
	}
}

func TestSubpackageNameDefaultsToRoot(t *testing.T) {
	subs := NewSubpackages()
	subs.Add(Subpackage{Root: "pkg"})
	sp, ok := subs.Get("pkg")
	if !ok || sp.Name != "pkg" {
		t.Fatalf("unexpected subpackage %+v", sp)
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Add(&Bundle{Name: "b"})
	reg.Add(&Bundle{Name: "a"})
	reg.Add(nil)

	list := reg.List()
	if len(list) != 2 || list[0].Name != "a" {
		t.Fatalf("unexpected list %+v", list)
	}
	if !reg.Remove("a") || reg.Remove("a") {
		t.Fatalf("remove must report presence")
	}
	if _, ok := reg.Get("a"); ok {
		t.Fatalf("removed bundle still present")
	}
}
