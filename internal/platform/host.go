package platform

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/any-hub/asset-hub/internal/asseterr"
)

// ScriptHost 同步加载并执行应用目录内的本地脚本。
type ScriptHost interface {
	Run(ctx context.Context, path string) error
}

// ScriptHostFunc 允许以函数形式实现 ScriptHost。
type ScriptHostFunc func(ctx context.Context, path string) error

// Run 调用 f 本身。
func (f ScriptHostFunc) Run(ctx context.Context, path string) error {
	return f(ctx, path)
}

// ModuleHost 是默认的 ScriptHost：校验脚本位于 AppRoot 内且存在，并按 require 语义
// 只记录一次加载。真正的执行由宿主引擎通过 Exec 注入。
type ModuleHost struct {
	Fs      afero.Fs
	AppRoot string
	Exec    func(ctx context.Context, absPath string) error
	Logger  *logrus.Logger

	mu     sync.Mutex
	loaded map[string]struct{}
}

// Run 加载 AppRoot 相对路径下的脚本，重复加载同一路径时直接返回。
func (h *ModuleHost) Run(ctx context.Context, path string) error {
	abs, err := h.resolve(path)
	if err != nil {
		return err
	}

	h.mu.Lock()
	if _, ok := h.loaded[abs]; ok {
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	info, err := h.Fs.Stat(abs)
	if err != nil || info.IsDir() {
		if err == nil {
			err = fmt.Errorf("%s is a directory", abs)
		}
		return asseterr.Wrap(asseterr.KindFileSystem, "script.run", path, err)
	}
	if h.Exec != nil {
		if err := h.Exec(ctx, abs); err != nil {
			return err
		}
	}

	h.mu.Lock()
	if h.loaded == nil {
		h.loaded = make(map[string]struct{})
	}
	h.loaded[abs] = struct{}{}
	h.mu.Unlock()

	if h.Logger != nil {
		h.Logger.WithField("script", abs).Debug("script loaded")
	}
	return nil
}

// Loaded 返回已加载的脚本数量。
func (h *ModuleHost) Loaded() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.loaded)
}

func (h *ModuleHost) resolve(path string) (string, error) {
	root := filepath.Clean(h.AppRoot)
	abs := filepath.Join(root, filepath.FromSlash(path))
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", asseterr.New(asseterr.KindFileSystem, "script.run", path, "script path escapes application root")
	}
	return abs, nil
}

// SubpackageRequest 描述一次代码分包加载。
type SubpackageRequest struct {
	Name       string
	Root       string
	OnProgress func(loaded, total int64)
}

// SubpackageLoader 加载代码分包，失败时返回带原因的错误。
type SubpackageLoader interface {
	LoadSubpackage(ctx context.Context, req SubpackageRequest) error
}

// DirSubpackageLoader 认为分包已随应用安装在 AppRoot/<root> 下，仅校验目录存在并上报进度。
type DirSubpackageLoader struct {
	Fs      afero.Fs
	AppRoot string
	Logger  *logrus.Logger
}

// LoadSubpackage 校验分包目录，按文件数上报进度。
func (l *DirSubpackageLoader) LoadSubpackage(ctx context.Context, req SubpackageRequest) error {
	dir := filepath.Join(filepath.Clean(l.AppRoot), filepath.FromSlash(req.Root))
	infos, err := afero.ReadDir(l.Fs, dir)
	if err != nil {
		if l.Logger != nil {
			l.Logger.WithError(err).WithField("subpackage", req.Name).Warn("Load Subpackage failed")
		}
		return err
	}

	total := int64(len(infos))
	for i := range infos {
		if err := ctx.Err(); err != nil {
			return err
		}
		if req.OnProgress != nil {
			req.OnProgress(int64(i+1), total)
		}
	}
	return nil
}
