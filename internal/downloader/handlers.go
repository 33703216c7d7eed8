package downloader

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/asset-hub/internal/asseterr"
	"github.com/any-hub/asset-hub/internal/assettype"
	"github.com/any-hub/asset-hub/internal/cache"
	"github.com/any-hub/asset-hub/internal/fsutil"
	"github.com/any-hub/asset-hub/internal/logging"
	"github.com/any-hub/asset-hub/internal/platform"
	"github.com/any-hub/asset-hub/internal/transport"
)

// Opener 以流的方式打开远程资源，供图片直读策略使用。
type Opener interface {
	OpenRequest(ctx context.Context, req transport.Request) (body io.ReadCloser, size int64, err error)
}

// HandlerDeps 汇总内置处理器依赖的服务。
type HandlerDeps struct {
	FS           *fsutil.FS
	Orchestrator *Orchestrator
	Index        Index
	Opener       Opener
	Images       platform.ImageLoader
	Fonts        platform.FontLoader
	Scripts      platform.ScriptHost
	Caps         platform.Capabilities
	Logger       *logrus.Logger
}

// DefaultHandlers 按 assettype 内置表为每个扩展名生成处理器，图片策略在此一次性确定。
func DefaultHandlers(deps HandlerDeps) map[string]HandlerFunc {
	h := &builtin{deps: deps, logger: logging.Component(deps.Logger, "handlers")}
	h.image = h.selectImageHandler()

	byKind := map[assettype.Kind]HandlerFunc{
		assettype.KindScript:      h.script,
		assettype.KindText:        h.readAs(assettype.ResponseText),
		assettype.KindJSON:        h.readAs(assettype.ResponseJSON),
		assettype.KindArrayBuffer: h.readAs(assettype.ResponseArrayBuffer),
		assettype.KindImage:       h.image,
		assettype.KindWebP:        h.webp,
		assettype.KindAudio:       h.audio,
		assettype.KindVideo:       h.video,
		assettype.KindFont:        h.font,
	}

	handlers := make(map[string]HandlerFunc)
	for _, cat := range assettype.List() {
		fn, ok := byKind[cat.Kind]
		if !ok {
			continue
		}
		for _, ext := range cat.Extensions {
			handlers[ext] = fn
		}
	}
	return handlers
}

type builtin struct {
	deps   HandlerDeps
	logger *logrus.Entry
	image  HandlerFunc
}

func (h *builtin) script(ctx context.Context, url string, opts *Options) (any, error) {
	if cache.IsRemote(url) {
		return nil, errRemoteUnsupported("script", url)
	}
	if h.deps.Scripts == nil {
		return nil, asseterr.New(asseterr.KindUnsupportedFormat, "script", url, "no script host configured")
	}
	if err := h.deps.Scripts.Run(ctx, url); err != nil {
		return nil, err
	}
	return nil, nil
}

// readAs 返回按 responseType 读取本地文件的处理器。
func (h *builtin) readAs(rt assettype.ResponseType) HandlerFunc {
	return func(ctx context.Context, url string, opts *Options) (any, error) {
		opts = opts.clone()
		opts.ResponseType = rt
		return h.deps.Orchestrator.Fetch(ctx, url, h.readFile, opts)
	}
}

func (h *builtin) readFile(ctx context.Context, localPath string, opts *Options) (any, error) {
	var (
		out any
		err error
	)
	switch opts.ResponseType {
	case assettype.ResponseJSON:
		out, err = h.deps.FS.ReadJSON(localPath)
	case assettype.ResponseArrayBuffer:
		out, err = h.deps.FS.ReadArrayBuffer(localPath)
	default:
		out, err = h.deps.FS.ReadText(localPath)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (h *builtin) audio(ctx context.Context, url string, opts *Options) (any, error) {
	return h.deps.Orchestrator.Fetch(ctx, url, func(_ context.Context, localPath string, _ *Options) (any, error) {
		return platform.NewAudio(localPath), nil
	}, opts)
}

func (h *builtin) video(ctx context.Context, url string, opts *Options) (any, error) {
	return h.deps.Orchestrator.Fetch(ctx, url, func(_ context.Context, localPath string, _ *Options) (any, error) {
		return localPath, nil
	}, opts)
}

func (h *builtin) font(ctx context.Context, url string, opts *Options) (any, error) {
	return h.deps.Orchestrator.Fetch(ctx, url, h.loadFont, opts)
}

// loadFont 只在路径越界时返回错误，字体不可用时回退到默认字体族。
func (h *builtin) loadFont(ctx context.Context, localPath string, _ *Options) (any, error) {
	if h.deps.Caps.ImageStrategy() == platform.StrategySubContext || h.deps.Fonts == nil {
		return platform.DefaultFontFamily, nil
	}
	path, err := h.deps.FS.Abs(localPath)
	if err != nil {
		return nil, err
	}
	family, err := h.deps.Fonts.LoadFont(ctx, path)
	if err != nil || family == "" {
		h.logger.WithError(err).WithField("path", localPath).Debug("font unavailable, using default family")
		return platform.DefaultFontFamily, nil
	}
	return family, nil
}

func (h *builtin) webp(ctx context.Context, url string, opts *Options) (any, error) {
	if !h.deps.Caps.WebP {
		return nil, asseterr.New(asseterr.KindUnsupportedFormat, "webp", url, "webp is not supported on this platform")
	}
	return h.image(ctx, url, opts)
}
