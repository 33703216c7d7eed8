package cache

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/any-hub/asset-hub/internal/version"
)

// manifestFile 是 cacheList.json 的磁盘格式。
type manifestFile struct {
	Version string                   `json:"version"`
	Files   map[string]manifestEntry `json:"files"`
}

type manifestEntry struct {
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	LastTime time.Time `json:"lastTime"`
	Seq      uint64    `json:"seq,omitempty"`
}

// readManifest 读取索引清单。文件不存在时返回空清单且 err 为 nil；
// 内容损坏或版本不匹配时返回 errStaleManifest，调用方应从空索引开始。
func readManifest(fsys afero.Fs, path string) (map[string]manifestEntry, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		exists, existsErr := afero.Exists(fsys, path)
		if existsErr == nil && !exists {
			return map[string]manifestEntry{}, nil
		}
		return nil, err
	}

	var doc manifestFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return map[string]manifestEntry{}, fmt.Errorf("%w: %v", errStaleManifest, err)
	}
	if doc.Version != version.CacheManifestVersion {
		return map[string]manifestEntry{}, fmt.Errorf("%w: version %q", errStaleManifest, doc.Version)
	}
	if doc.Files == nil {
		doc.Files = map[string]manifestEntry{}
	}
	return doc.Files, nil
}

// writeManifest 通过临时文件 + rename 原子替换清单。
func writeManifest(fsys afero.Fs, path string, files map[string]manifestEntry) error {
	data, err := json.Marshal(manifestFile{
		Version: version.CacheManifestVersion,
		Files:   files,
	})
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := afero.TempFile(fsys, dir, tempPrefix+"manifest-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	_, err = tmp.Write(data)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		fsys.Remove(tmpName)
		return err
	}
	if err := fsys.Rename(tmpName, path); err != nil {
		fsys.Remove(tmpName)
		return err
	}
	return nil
}
