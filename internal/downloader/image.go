package downloader

import (
	"context"

	"github.com/any-hub/asset-hub/internal/asseterr"
	"github.com/any-hub/asset-hub/internal/cache"
	"github.com/any-hub/asset-hub/internal/platform"
	"github.com/any-hub/asset-hub/internal/transport"
)

// selectImageHandler 根据平台能力选择图片加载策略，只在构造处理器表时调用一次。
func (h *builtin) selectImageHandler() HandlerFunc {
	strategy := h.deps.Caps.ImageStrategy()
	h.logger.WithField("strategy", string(strategy)).Debug("image strategy selected")
	switch strategy {
	case platform.StrategyAndroid:
		return h.androidImage
	case platform.StrategySubContext:
		return h.subContextImage
	default:
		return h.standardImage
	}
}

func (h *builtin) decodeFile(ctx context.Context, localPath string, _ *Options) (any, error) {
	if h.deps.Images == nil {
		return nil, asseterr.New(asseterr.KindUnsupportedFormat, "image", localPath, "no image loader configured")
	}
	path, err := h.deps.FS.Abs(localPath)
	if err != nil {
		return nil, err
	}
	img, err := h.deps.Images.LoadFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return img, nil
}

// decodeRemote 直接从网络流解码，不经过临时文件。
func (h *builtin) decodeRemote(ctx context.Context, url string, opts *Options) (*platform.Image, error) {
	if h.deps.Opener == nil || h.deps.Images == nil {
		return nil, asseterr.New(asseterr.KindUnsupportedFormat, "image", url, "remote image decoding is not configured")
	}
	body, _, err := h.deps.Opener.OpenRequest(ctx, transport.Request{URL: url, Header: opts.header()})
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return h.deps.Images.LoadStream(ctx, url, body)
}

func (h *builtin) standardImage(ctx context.Context, url string, opts *Options) (any, error) {
	return h.deps.Orchestrator.Fetch(ctx, url, h.decodeFile, opts)
}

// androidImage 本地与已缓存的图片直接解码；远程图片直接从网络解码，
// 成功后再按 URL 写入持久缓存（受 SaveFile 控制）。
func (h *builtin) androidImage(ctx context.Context, url string, opts *Options) (any, error) {
	res := h.deps.Orchestrator.Resolver().Resolve(url, opts)
	if res.InLocal {
		return h.decodeFile(ctx, res.URL, opts)
	}
	if res.InCache && h.deps.Index != nil {
		if release, ok := h.deps.Index.Acquire(url); ok {
			defer release()
			h.deps.Index.UpdateLastTime(url)
			return h.decodeFile(ctx, res.URL, opts)
		}
	}

	img, err := h.decodeRemote(ctx, url, opts)
	if err != nil {
		return nil, err
	}
	if h.deps.Index != nil && opts.ShouldSave() {
		if _, err := h.deps.Index.CacheRemote(ctx, url); err != nil {
			h.logger.WithError(err).WithField("url", url).Warn("cache remote image failed")
		}
	}
	return img, nil
}

// subContextImage 子上下文只做路径改写，从不写缓存。
func (h *builtin) subContextImage(ctx context.Context, url string, opts *Options) (any, error) {
	res := h.deps.Orchestrator.Resolver().Resolve(url, opts)
	if cache.IsRemote(res.URL) {
		img, err := h.decodeRemote(ctx, res.URL, opts)
		if err != nil {
			return nil, err
		}
		return img, nil
	}
	return h.decodeFile(ctx, res.URL, opts)
}
