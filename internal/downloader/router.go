package downloader

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/asset-hub/internal/asseterr"
	"github.com/any-hub/asset-hub/internal/assettype"
	"github.com/any-hub/asset-hub/internal/config"
	"github.com/any-hub/asset-hub/internal/logging"
	"github.com/any-hub/asset-hub/internal/metrics"
)

// RouterOptions 控制调度参数。
type RouterOptions struct {
	MaxConcurrent      int
	MaxRequestsPerTick int
	TickInterval       time.Duration
	Logger             *logrus.Logger
}

// RouterOptionsFromConfig 将全局配置映射为 RouterOptions。
func RouterOptionsFromConfig(cfg *config.Config, logger *logrus.Logger) RouterOptions {
	return RouterOptions{
		MaxConcurrent:      cfg.Global.MaxConcurrent,
		MaxRequestsPerTick: cfg.Global.MaxRequestsPerTick,
		TickInterval:       cfg.Global.TickInterval.DurationValue(),
		Logger:             logger,
	}
}

// Router 按扩展名把请求分派给处理器，并通过调度器限制并发与每拍派发数。
// 请求只有在 Run 运行期间才会被执行。
type Router struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc

	sched  *scheduler
	logger *logrus.Entry
}

// NewRouter 构造空的路由，处理器需通过 Register 注册。
func NewRouter(opts RouterOptions) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Router{
		handlers: make(map[string]HandlerFunc),
		sched:    newScheduler(opts.MaxConcurrent, opts.MaxRequestsPerTick, opts.TickInterval),
		logger:   logging.Component(logger, "router"),
	}
}

// Register 注册扩展名到处理器的映射，扩展名区分大小写，后注册的覆盖先注册的。
func (r *Router) Register(handlers map[string]HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for ext, fn := range handlers {
		if fn == nil {
			continue
		}
		if _, exists := r.handlers[ext]; exists {
			r.logger.WithField("ext", ext).Debug("handler overridden")
		}
		r.handlers[ext] = fn
	}
}

// Handler 返回扩展名对应的处理器；未知扩展名回退到文本处理器。
func (r *Router) Handler(ext string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if fn, ok := r.handlers[ext]; ok {
		return fn, true
	}
	if cat, ok := assettype.Resolve(assettype.DefaultKind()); ok {
		for _, fallback := range cat.Extensions {
			if fn, ok := r.handlers[fallback]; ok {
				return fn, true
			}
		}
	}
	return nil, false
}

// Extensions 返回已注册的扩展名（排序后）。
func (r *Router) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for ext := range r.handlers {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Run 运行调度循环直到 ctx 结束。
func (r *Router) Run(ctx context.Context) error {
	r.logger.Debug("download router started")
	err := r.sched.run(ctx)
	r.logger.Debug("download router stopped")
	return err
}

// Load 返回排队与执行中的请求数。
func (r *Router) Load() (queued, inFlight int) {
	return r.sched.load()
}

// Download 排队执行一次下载并等待结果。id 为空时使用 url；相同 id 的并发请求共享结果。
func (r *Router) Download(ctx context.Context, id, url, ext string, opts *Options) (any, error) {
	fn, ok := r.Handler(ext)
	if !ok {
		return nil, asseterr.New(asseterr.KindUnsupportedFormat, "download", url, "no handler registered for "+ext)
	}
	if id == "" {
		id = url
	}
	priority := 0
	if opts != nil {
		priority = opts.Priority
	}

	j, shared := r.sched.submit(ctx, id, priority, func(jobCtx context.Context) (any, error) {
		started := time.Now()
		result, err := fn(jobCtx, url, opts)
		metrics.RecordHandlerResult(ext, err)
		entry := r.logger.WithFields(logrus.Fields{
			"id":         id,
			"url":        url,
			"ext":        ext,
			"elapsed_ms": time.Since(started).Milliseconds(),
		})
		if err != nil {
			entry.WithError(err).Debug("download failed")
		} else {
			entry.Debug("download finished")
		}
		return result, err
	})
	if shared {
		r.logger.WithField("id", id).Debug("request joined in-flight download")
	}
	return r.sched.await(ctx, j)
}

// DownloadAsync 与 Download 相同，但立即返回并通过 onComplete 回传结果。
func (r *Router) DownloadAsync(ctx context.Context, id, url, ext string, opts *Options, onComplete func(result any, err error)) {
	go func() {
		result, err := r.Download(ctx, id, url, ext, opts)
		if onComplete != nil {
			onComplete(result, err)
		}
	}()
}
