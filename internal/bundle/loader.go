package bundle

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/asset-hub/internal/asseterr"
	"github.com/any-hub/asset-hub/internal/assettype"
	"github.com/any-hub/asset-hub/internal/downloader"
	"github.com/any-hub/asset-hub/internal/logging"
	"github.com/any-hub/asset-hub/internal/metrics"
	"github.com/any-hub/asset-hub/internal/platform"
)

// State 描述一次 bundle 加载所处的阶段。
type State string

const (
	StateStart             State = "start"
	StateLoadingSubpackage State = "loading_subpackage"
	StateFetchingManifest  State = "fetching_manifest"
	StateLoadingScript     State = "loading_script"
	StateDone              State = "done"
	StateFailed            State = "failed"
)

// DefaultPriority 是 bundle 清单与脚本请求的默认优先级。
const DefaultPriority = 2

// Downloader 是 Loader 依赖的下载入口，通常为 downloader.Router。
type Downloader interface {
	Download(ctx context.Context, id, url, ext string, opts *downloader.Options) (any, error)
}

// LoaderOptions 汇总 Loader 的依赖。
type LoaderOptions struct {
	Downloader  Downloader
	Subpackages *Subpackages
	SubLoader   platform.SubpackageLoader
	Registry    *Registry
	Logger      *logrus.Logger
	// OnStateChange 在每次状态切换时同步回调，可为空。
	OnStateChange func(root string, state State)
}

// Loader 按 分包 → 清单 → 入口脚本 的顺序加载 bundle。
type Loader struct {
	downloader  Downloader
	subpackages *Subpackages
	subLoader   platform.SubpackageLoader
	registry    *Registry
	logger      *logrus.Entry
	onState     func(root string, state State)
}

// NewLoader 构造 Loader；Subpackages/Registry 为空时使用空注册表。
func NewLoader(opts LoaderOptions) *Loader {
	if opts.Subpackages == nil {
		opts.Subpackages = NewSubpackages()
	}
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Loader{
		downloader:  opts.Downloader,
		subpackages: opts.Subpackages,
		subLoader:   opts.SubLoader,
		registry:    opts.Registry,
		logger:      logging.Component(logger, "bundle"),
		onState:     opts.OnStateChange,
	}
}

// Registry 返回已加载 bundle 的注册表。
func (l *Loader) Registry() *Registry {
	return l.registry
}

// Subpackages 返回分包注册表。
func (l *Loader) Subpackages() *Subpackages {
	return l.subpackages
}

// ConfigPath 返回 bundle 清单路径：root/config.json 或 root/config.<ver>.json。
func ConfigPath(root, ver string) string {
	name := "config.json"
	if ver != "" {
		name = "config." + ver + ".json"
	}
	return joinURL(root, name)
}

// Load 加载 bundle。任一阶段失败返回 (nil, err)，不会构造 bundle。
func (l *Loader) Load(ctx context.Context, root string, opts *downloader.Options) (*Bundle, error) {
	root = strings.TrimRight(strings.TrimSpace(root), "/")
	opts = withDefaults(opts)

	l.setState(root, StateStart)

	sp, isSub := l.subpackages.Get(root)
	if isSub {
		l.setState(root, StateLoadingSubpackage)
		if err := l.loadSubpackage(ctx, sp, opts); err != nil {
			return nil, l.fail(root, err)
		}
	}

	l.setState(root, StateFetchingManifest)
	manifest, err := l.fetchManifest(ctx, root, opts)
	if err != nil {
		return nil, l.fail(root, err)
	}
	manifest.Base = root + "/"

	b := &Bundle{
		Name:       manifest.Name,
		Root:       root,
		Base:       manifest.Base,
		Subpackage: isSub,
		Scripts:    manifest.HasScripts(),
		Manifest:   manifest,
	}
	if b.Name == "" {
		b.Name = path.Base(root)
	}

	if b.Scripts {
		l.setState(root, StateLoadingScript)
		l.loadScript(ctx, root, opts)
	}

	b.LoadedAt = time.Now()
	l.registry.Add(b)
	l.setState(root, StateDone)
	metrics.RecordBundleLoad(string(StateDone))

	l.logger.WithFields(logrus.Fields{
		"action":     "bundle_loaded",
		"bundle":     b.Name,
		"root":       root,
		"subpackage": isSub,
		"scripts":    b.Scripts,
	}).Info("bundle loaded")
	return b, nil
}

// LoadAsync 在独立 goroutine 中执行 Load，并通过 onComplete 回传结果。
func (l *Loader) LoadAsync(ctx context.Context, root string, opts *downloader.Options, onComplete func(*Bundle, error)) {
	go func() {
		b, err := l.Load(ctx, root, opts)
		if onComplete != nil {
			onComplete(b, err)
		}
	}()
}

func (l *Loader) loadSubpackage(ctx context.Context, sp Subpackage, opts *downloader.Options) error {
	if l.subLoader == nil {
		return nil
	}
	req := platform.SubpackageRequest{
		Name:       sp.Name,
		Root:       sp.Root,
		OnProgress: opts.OnProgress,
	}
	if err := l.subLoader.LoadSubpackage(ctx, req); err != nil {
		return &asseterr.Error{
			Kind:    asseterr.KindSubpackageLoad,
			Op:      "bundle.subpackage",
			Message: fmt.Sprintf("Failed to load subpackage %s: %s", sp.Name, err.Error()),
			Err:     err,
		}
	}
	return nil
}

func (l *Loader) fetchManifest(ctx context.Context, root string, opts *downloader.Options) (*Manifest, error) {
	configURL := ConfigPath(root, opts.Ver)

	reqOpts := *opts
	reqOpts.ResponseType = assettype.ResponseJSON
	reqOpts.OnProgress = nil
	result, err := l.downloader.Download(ctx, root, configURL, ".json", &reqOpts)
	if err != nil {
		return nil, asseterr.Wrap(asseterr.KindBundleManifest, "bundle.manifest", configURL, err)
	}

	raw, ok := result.(map[string]any)
	if !ok {
		return nil, asseterr.New(asseterr.KindBundleManifest, "bundle.manifest", configURL, "bundle manifest is not a JSON object")
	}
	manifest, err := decodeManifest(raw)
	if err != nil {
		return nil, asseterr.Wrap(asseterr.KindBundleManifest, "bundle.manifest", configURL, err)
	}
	return manifest, nil
}

// loadScript 加载 root/index.js；失败仅记录日志，bundle 仍然返回。
func (l *Loader) loadScript(ctx context.Context, root string, opts *downloader.Options) {
	scriptURL := joinURL(root, "index.js")

	reqOpts := *opts
	reqOpts.OnProgress = nil
	if _, err := l.downloader.Download(ctx, scriptURL, scriptURL, ".js", &reqOpts); err != nil {
		l.logger.WithFields(logrus.Fields{
			"action": "bundle_script",
			"root":   root,
			"url":    scriptURL,
		}).WithError(err).Warn("bundle script load failed")
	}
}

func (l *Loader) fail(root string, err error) error {
	l.setState(root, StateFailed)
	metrics.RecordBundleLoad(string(StateFailed))
	l.logger.WithFields(logrus.Fields{
		"action": "bundle_failed",
		"root":   root,
		"kind":   string(asseterr.KindOf(err)),
	}).Warn(err.Error())
	return err
}

func (l *Loader) setState(root string, state State) {
	if l.onState != nil {
		l.onState(root, state)
	}
}

func withDefaults(opts *downloader.Options) *downloader.Options {
	out := downloader.Options{}
	if opts != nil {
		out = *opts
	}
	if out.Priority == 0 {
		out.Priority = DefaultPriority
	}
	return &out
}

func joinURL(root, name string) string {
	if root == "" {
		return name
	}
	return root + "/" + name
}
