package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/any-hub/asset-hub/internal/asseterr"
	"github.com/any-hub/asset-hub/internal/config"
	"github.com/any-hub/asset-hub/internal/logging"
	"github.com/any-hub/asset-hub/internal/metrics"
)

// Request 描述一次下载。
type Request struct {
	URL        string
	Header     map[string]string
	OnProgress func(loaded, total int64)
}

// Result 描述已落盘的下载结果。
type Result struct {
	URL      string
	TempPath string
	Size     int64
}

// Fetcher 打开某种协议的远程资源。返回的 size 未知时为 -1。
type Fetcher interface {
	Open(ctx context.Context, req Request) (io.ReadCloser, int64, error)
}

// FetcherFunc 允许以函数形式实现 Fetcher。
type FetcherFunc func(ctx context.Context, req Request) (io.ReadCloser, int64, error)

// Open 调用 f 本身。
func (f FetcherFunc) Open(ctx context.Context, req Request) (io.ReadCloser, int64, error) {
	return f(ctx, req)
}

// Downloader 按 URL scheme 分发到对应 Fetcher，并负责临时文件、重试与进度回调。
type Downloader struct {
	fs         afero.Fs
	tempDir    string
	maxRetries int
	backoff    time.Duration
	logger     *logrus.Entry
	sleep      func(ctx context.Context, d time.Duration) error

	mu       sync.RWMutex
	fetchers map[string]Fetcher
}

// Options 控制 Downloader 的构造。
type Options struct {
	Fs             afero.Fs
	TempDir        string
	MaxRetries     int
	InitialBackoff time.Duration
	Logger         *logrus.Logger
}

// OptionsFromConfig 将全局配置映射为 Downloader 选项。
func OptionsFromConfig(cfg *config.Config, fsys afero.Fs, logger *logrus.Logger) Options {
	return Options{
		Fs:             fsys,
		TempDir:        cfg.Global.TempPath,
		MaxRetries:     cfg.Global.MaxRetries,
		InitialBackoff: cfg.Global.InitialBackoff.DurationValue(),
		Logger:         logger,
	}
}

// New 构造 Downloader，默认注册 http/https。
func New(opts Options, client *HTTPFetcher) *Downloader {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.TempDir == "" {
		opts.TempDir = afero.GetTempDir(opts.Fs, "asset-hub")
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	if client == nil {
		client = &HTTPFetcher{Client: NewClient(nil)}
	}

	d := &Downloader{
		fs:         opts.Fs,
		tempDir:    opts.TempDir,
		maxRetries: opts.MaxRetries,
		backoff:    opts.InitialBackoff,
		logger:     logging.Component(logger, "transport"),
		sleep:      sleepContext,
		fetchers:   make(map[string]Fetcher),
	}
	d.Register("http", client)
	d.Register("https", client)
	return d
}

// Register 为 scheme 注册 Fetcher，后注册的覆盖先注册的。
func (d *Downloader) Register(scheme string, f Fetcher) {
	d.mu.Lock()
	d.fetchers[strings.ToLower(scheme)] = f
	d.mu.Unlock()
}

// Schemes 返回已注册的协议。
func (d *Downloader) Schemes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.fetchers))
	for scheme := range d.fetchers {
		out = append(out, scheme)
	}
	return out
}

// TempDir 返回下载临时目录。
func (d *Downloader) TempDir() string {
	return d.tempDir
}

// Download 将远程资源下载到临时目录。失败时返回 NetworkFailure 且不会残留临时文件；
// 所有进度回调都在返回前于调用方 goroutine 上触发。
func (d *Downloader) Download(ctx context.Context, req Request) (*Result, error) {
	scheme := schemeOf(req.URL)
	started := time.Now()
	req.OnProgress = monotonicProgress(req.OnProgress)

	var result *Result
	err := d.withRetry(ctx, req.URL, func() error {
		var attemptErr error
		result, attemptErr = d.downloadOnce(ctx, req)
		return attemptErr
	})

	var size int64
	if result != nil {
		size = result.Size
	}
	metrics.RecordDownload(scheme, err, size, time.Since(started).Seconds())
	if err != nil {
		d.logger.WithError(err).WithField("url", req.URL).Warn("Download file failed")
		return nil, err
	}
	d.logger.WithFields(logrus.Fields{
		"url":        req.URL,
		"size":       size,
		"elapsed_ms": time.Since(started).Milliseconds(),
		"temp_path":  result.TempPath,
	}).Debug("download completed")
	return result, nil
}

// Open 打开远程资源并返回流式 body，供直接解码或直接落盘使用。
func (d *Downloader) Open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	body, _, err := d.OpenRequest(ctx, Request{URL: rawURL})
	return body, err
}

// OpenRequest 与 Open 相同，但允许携带头部并返回大小。
func (d *Downloader) OpenRequest(ctx context.Context, req Request) (io.ReadCloser, int64, error) {
	var (
		body io.ReadCloser
		size int64
	)
	err := d.withRetry(ctx, req.URL, func() error {
		fetcher, err := d.fetcherFor(req.URL)
		if err != nil {
			return err
		}
		var openErr error
		body, size, openErr = fetcher.Open(ctx, req)
		return openErr
	})
	if err != nil {
		metrics.RecordDownload(schemeOf(req.URL), err, 0, 0)
		d.logger.WithError(err).WithField("url", req.URL).Warn("Download file failed")
		return nil, 0, err
	}
	return body, size, nil
}

func (d *Downloader) downloadOnce(ctx context.Context, req Request) (*Result, error) {
	fetcher, err := d.fetcherFor(req.URL)
	if err != nil {
		return nil, err
	}
	body, total, err := fetcher.Open(ctx, req)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	if err := d.fs.MkdirAll(d.tempDir, 0o755); err != nil {
		return nil, permanent(asseterr.Wrap(asseterr.KindFileSystem, "transport.download", req.URL, err))
	}
	tempPath := filepath.Join(d.tempDir, uuid.NewString()+tempExt(req.URL))
	file, err := d.fs.Create(tempPath)
	if err != nil {
		return nil, permanent(asseterr.Wrap(asseterr.KindFileSystem, "transport.download", req.URL, err))
	}

	dst := &progressWriter{w: file, total: total, onProgress: req.OnProgress}
	written, copyErr := io.Copy(dst, body)
	closeErr := file.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr == nil && total >= 0 && written != total {
		copyErr = fmt.Errorf("short body: got %d of %d bytes", written, total)
	}
	if copyErr != nil {
		d.fs.Remove(tempPath)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, permanent(asseterr.Wrap(asseterr.KindNetwork, "transport.download", req.URL, ctxErr))
		}
		return nil, asseterr.Wrap(asseterr.KindNetwork, "transport.download", req.URL, copyErr)
	}

	return &Result{URL: req.URL, TempPath: tempPath, Size: written}, nil
}

func (d *Downloader) fetcherFor(rawURL string) (Fetcher, error) {
	scheme := schemeOf(rawURL)
	d.mu.RLock()
	f, ok := d.fetchers[scheme]
	d.mu.RUnlock()
	if !ok {
		return nil, permanent(asseterr.New(asseterr.KindNetwork, "transport.open", rawURL,
			fmt.Sprintf("unsupported scheme %q", scheme)))
	}
	return f, nil
}

// withRetry 以指数退避重试可恢复的失败，permanent 错误与上下文取消立即返回。
func (d *Downloader) withRetry(ctx context.Context, rawURL string, fn func() error) error {
	delay := d.backoff
	var err error
	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		if attempt > 0 {
			d.logger.WithFields(logrus.Fields{
				"url":     rawURL,
				"attempt": attempt,
				"delay":   delay.String(),
			}).WithError(err).Debug("retrying download")
			if sleepErr := d.sleep(ctx, delay); sleepErr != nil {
				return asseterr.Wrap(asseterr.KindNetwork, "transport.retry", rawURL, sleepErr)
			}
			delay *= 2
		}
		err = fn()
		if err == nil {
			return nil
		}
		var p *permanentError
		if errors.As(err, &p) {
			return p.err
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// permanent 标记不值得重试的失败（4xx、非法 URL、本地文件系统错误）。
func permanent(err error) error {
	return &permanentError{err: err}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func schemeOf(rawURL string) string {
	idx := strings.Index(rawURL, "://")
	if idx <= 0 {
		return ""
	}
	return strings.ToLower(rawURL[:idx])
}

func tempExt(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		rawURL = u.Path
	}
	ext := filepath.Ext(rawURL)
	if len(ext) > 16 || strings.ContainsAny(ext, `/\`) {
		return ""
	}
	return ext
}

// monotonicProgress 过滤不超过已上报最大值的进度：重试会从头写入临时文件。
func monotonicProgress(fn func(loaded, total int64)) func(loaded, total int64) {
	if fn == nil {
		return nil
	}
	var high int64
	return func(loaded, total int64) {
		if loaded <= high {
			return
		}
		high = loaded
		fn(loaded, total)
	}
}

// progressWriter 在每次写入后上报本次尝试的累计字节数。
type progressWriter struct {
	w          io.Writer
	loaded     int64
	total      int64
	onProgress func(loaded, total int64)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.loaded += int64(n)
	if n > 0 && p.onProgress != nil {
		p.onProgress(p.loaded, p.total)
	}
	return n, err
}
