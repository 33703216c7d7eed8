package downloader

import (
	"context"

	"github.com/any-hub/asset-hub/internal/cache"
	"github.com/any-hub/asset-hub/internal/metrics"
	"github.com/any-hub/asset-hub/internal/platform"
)

// Resolution 是 URL 解析结果。InLocal 与 InCache 均为 false 时需要发起网络下载。
type Resolution struct {
	URL     string `json:"url"`
	InLocal bool   `json:"inLocal"`
	InCache bool   `json:"inCache"`
}

// Resolver 判断 URL 是本地文件、已缓存文件还是需要下载。
type Resolver interface {
	Resolve(url string, opts *Options) Resolution
}

// Index 是下载层依赖的持久缓存能力，由 *cache.Index 实现。
type Index interface {
	Get(url string) (cache.Entry, bool)
	UpdateLastTime(url string) bool
	Acquire(url string) (release func(), ok bool)
	CommitPinned(ctx context.Context, url, src string, isTemp bool) (*cache.Entry, func(), error)
	CacheRemote(ctx context.Context, url string) (*cache.Entry, error)
	Stats() cache.Stats
}

// NewResolver 按平台能力选择解析策略：子上下文不访问缓存，只为本地路径加上根目录前缀。
func NewResolver(caps platform.Capabilities, index Index, temps *cache.TempFiles) Resolver {
	if caps.ImageStrategy() == platform.StrategySubContext {
		return &subContextResolver{root: caps.SubContextRoot}
	}
	return &standardResolver{index: index, temps: temps}
}

type standardResolver struct {
	index Index
	temps *cache.TempFiles
}

func (r *standardResolver) Resolve(url string, opts *Options) Resolution {
	if !cache.IsRemote(url) {
		metrics.RecordResolve("local")
		return Resolution{URL: url, InLocal: true}
	}
	if r.index != nil && !opts.reload() {
		if entry, ok := r.index.Get(url); ok {
			metrics.RecordResolve("cache")
			return Resolution{URL: entry.LocalPath, InCache: true}
		}
	}
	if r.temps != nil {
		if p, ok := r.temps.Get(url); ok {
			metrics.RecordResolve("temp")
			return Resolution{URL: p, InLocal: true}
		}
	}
	metrics.RecordResolve("remote")
	return Resolution{URL: url}
}

type subContextResolver struct {
	root string
}

func (r *subContextResolver) Resolve(url string, _ *Options) Resolution {
	if cache.IsRemote(url) {
		metrics.RecordResolve("remote")
		return Resolution{URL: url}
	}
	metrics.RecordResolve("local")
	return Resolution{URL: r.root + "/" + url, InLocal: true}
}
