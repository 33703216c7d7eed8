package downloader

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/any-hub/asset-hub/internal/asseterr"
	"github.com/any-hub/asset-hub/internal/cache"
	"github.com/any-hub/asset-hub/internal/logging"
	"github.com/any-hub/asset-hub/internal/transport"
)

// Transport 下载远程资源到临时文件。
type Transport interface {
	Download(ctx context.Context, req transport.Request) (*transport.Result, error)
}

// OrchestratorOptions 描述 Orchestrator 的依赖。Index 与 Temps 为空时只下载不记录（子上下文）。
type OrchestratorOptions struct {
	Resolver  Resolver
	Index     Index
	Temps     *cache.TempFiles
	Transport Transport
	Logger    *logrus.Logger
}

// Orchestrator 负责"解析 → 必要时下载 → 记录/提交 → 处理"的完整流程。
type Orchestrator struct {
	resolver  Resolver
	index     Index
	temps     *cache.TempFiles
	transport Transport
	logger    *logrus.Entry

	group singleflight.Group
}

// NewOrchestrator 构造 Orchestrator。
func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Orchestrator{
		resolver:  opts.Resolver,
		index:     opts.Index,
		temps:     opts.Temps,
		transport: opts.Transport,
		logger:    logging.Component(logger, "orchestrator"),
	}
}

// Resolver 返回使用中的解析器。
func (o *Orchestrator) Resolver() Resolver {
	return o.resolver
}

// Fetch 保证 url 位于本地后调用 proc。下载成功时先记录临时文件并按 SaveFile 提交缓存，
// 再调用 proc，因此 proc 失败不会导致重复下载。proc 运行期间对应缓存条目保持占用。
func (o *Orchestrator) Fetch(ctx context.Context, url string, proc Processor, opts *Options) (any, error) {
	return o.fetch(ctx, url, proc, opts, false)
}

func (o *Orchestrator) fetch(ctx context.Context, url string, proc Processor, opts *Options, retried bool) (any, error) {
	res := o.resolver.Resolve(url, opts)
	if res.InLocal {
		return proc(ctx, res.URL, opts)
	}
	if res.InCache && o.index != nil {
		release, ok := o.index.Acquire(url)
		if ok {
			defer release()
			o.index.UpdateLastTime(url)
			o.logger.WithFields(logging.AssetFields(url, cache.ExtFromURL(url), true)).Debug("cache hit")
			return proc(ctx, res.URL, opts)
		}
		// 解析与占用之间条目已被淘汰，退回网络下载。
	}

	got, release, err := o.download(ctx, url, opts)
	if err != nil {
		return nil, err
	}
	if release == nil && o.index != nil {
		switch {
		case got.committed:
			r, ok := o.pinEntry(url, got.path)
			if !ok {
				// 共享下载提交的条目在本请求占用前已被淘汰。
				if retried {
					return nil, asseterr.New(asseterr.KindFileSystem, "fetch", url, "cached file evicted before use")
				}
				return o.fetch(ctx, url, proc, opts, true)
			}
			release = r
		case opts.ShouldSave():
			got.path, release = o.commitJoined(ctx, url, got)
		}
	}
	if release != nil {
		defer release()
	}
	return proc(ctx, got.path, opts)
}

// FetchAsync 在独立 goroutine 中执行 Fetch，并通过 onComplete 回传结果。
func (o *Orchestrator) FetchAsync(ctx context.Context, url string, proc Processor, opts *Options, onComplete func(result any, err error)) {
	go func() {
		result, err := o.Fetch(ctx, url, proc, opts)
		if onComplete != nil {
			onComplete(result, err)
		}
	}()
}

// fetched 是一次（可能被共享的）下载结果。
type fetched struct {
	path      string
	size      int64
	committed bool
}

// download 合并同一 URL 的并发下载。只有实际执行下载的调用方拿到提交时的占用 release，
// 合并进来的调用方需要自行占用。
func (o *Orchestrator) download(ctx context.Context, url string, opts *Options) (fetched, func(), error) {
	var release func()
	v, err, shared := o.group.Do(url, func() (any, error) {
		got, r, err := o.downloadOnce(ctx, url, opts)
		release = r
		return got, err
	})
	if err != nil {
		return fetched{}, nil, err
	}
	if shared {
		o.logger.WithField("url", url).Debug("download shared with concurrent request")
	}
	return v.(fetched), release, nil
}

func (o *Orchestrator) downloadOnce(ctx context.Context, url string, opts *Options) (fetched, func(), error) {
	fields := logging.AssetFields(url, cache.ExtFromURL(url), false)
	res, err := o.transport.Download(ctx, transport.Request{
		URL:        url,
		Header:     opts.header(),
		OnProgress: opts.onProgress(),
	})
	if err != nil {
		if asseterr.KindOf(err) == "" {
			err = asseterr.Wrap(asseterr.KindNetwork, "download", url, err)
		}
		return fetched{}, nil, err
	}

	got := fetched{path: res.TempPath, size: res.Size}
	if o.temps != nil {
		o.temps.Add(url, got.path)
	}
	if o.index == nil || !opts.ShouldSave() {
		o.logger.WithFields(fields).Debug("download kept in temp")
		return got, nil, nil
	}

	if limit := o.index.Stats().LimitBytes; res.Size > limit {
		o.logger.WithFields(fields).WithField("size", res.Size).Warn("downloaded file exceeds cache size limit, kept in temp")
		return got, nil, nil
	}
	entry, release, err := o.index.CommitPinned(ctx, url, got.path, true)
	if err != nil {
		o.logger.WithFields(fields).WithError(err).Warn("cache commit failed")
		return got, nil, nil
	}
	got.path = entry.LocalPath
	got.committed = true
	if o.temps != nil {
		o.temps.Add(url, got.path)
	}
	o.logger.WithFields(fields).WithField("local_path", got.path).Debug("download committed")
	return got, release, nil
}

// pinEntry 占用 url 对应的缓存条目，条目不存在或文件已被替换时返回 false。
func (o *Orchestrator) pinEntry(url, path string) (func(), bool) {
	release, ok := o.index.Acquire(url)
	if !ok {
		return nil, false
	}
	if entry, exists := o.index.Get(url); !exists || entry.LocalPath != path {
		release()
		return nil, false
	}
	return release, true
}

// commitJoined 处理合并进未保存下载的 SaveFile 请求：复制临时文件提交缓存，临时文件留给其他调用方。
func (o *Orchestrator) commitJoined(ctx context.Context, url string, got fetched) (string, func()) {
	if release, ok := o.index.Acquire(url); ok {
		if entry, exists := o.index.Get(url); exists {
			return entry.LocalPath, release
		}
		release()
	}
	fields := logging.AssetFields(url, cache.ExtFromURL(url), false)
	if got.size > o.index.Stats().LimitBytes {
		return got.path, nil
	}
	entry, release, err := o.index.CommitPinned(ctx, url, got.path, false)
	if err != nil {
		o.logger.WithFields(fields).WithError(err).Warn("cache commit failed")
		return got.path, nil
	}
	if o.temps != nil {
		o.temps.Add(url, entry.LocalPath)
	}
	o.logger.WithFields(fields).WithField("local_path", entry.LocalPath).Debug("shared download committed")
	return entry.LocalPath, release
}

// errRemoteUnsupported 用于不允许远程加载的资源类型。
func errRemoteUnsupported(op, url string) error {
	return asseterr.New(asseterr.KindUnsupportedFormat, op, url, fmt.Sprintf("remote %s is not supported", op))
}
