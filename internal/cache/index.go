package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/tunabay/go-infounit"

	"github.com/any-hub/asset-hub/internal/asseterr"
	"github.com/any-hub/asset-hub/internal/logging"
	"github.com/any-hub/asset-hub/internal/metrics"
)

var (
	// ErrClosed 表示索引已关闭。
	ErrClosed = errors.New("cache index closed")

	errStaleManifest = errors.New("stale cache manifest")

	remotePattern = regexp.MustCompile(`^\w+://`)
)

// Entry 描述索引中的一个缓存条目。
type Entry struct {
	URL        string    `json:"url"`
	LocalPath  string    `json:"localPath"`
	SizeBytes  int64     `json:"size"`
	LastAccess time.Time `json:"lastAccess"`
	Seq        uint64    `json:"seq"`
}

// Stats 汇总索引的当前占用。
type Stats struct {
	Entries    int    `json:"entries"`
	TotalBytes int64  `json:"totalBytes"`
	LimitBytes int64  `json:"limitBytes"`
	Usage      string `json:"usage"`
}

// RemoteOpener 为 CacheFile 提供远程源的读取能力（Android 图片路径直接按 URL 落盘）。
type RemoteOpener interface {
	Open(ctx context.Context, url string) (io.ReadCloser, error)
}

// Options 控制 Index 的构造。
type Options struct {
	Fs            afero.Fs
	Dir           string
	ManifestName  string
	TempDir       string
	SizeLimit     int64
	FlushInterval time.Duration
	Remote        RemoteOpener
	Logger        *logrus.Logger
	Now           func() time.Time
}

// Index 是带 LRU 淘汰的持久缓存索引，所有方法均可并发调用。
type Index struct {
	fs            afero.Fs
	store         *fileStore
	dir           string
	manifestPath  string
	tempDir       string
	limit         int64
	flushInterval time.Duration
	remote        RemoteOpener
	logger        *logrus.Entry
	now           func() time.Time

	mu         sync.Mutex
	entries    map[string]*Entry
	order      *lruOrder
	total      int64
	seq        uint64
	pins       map[string]int
	dirty      bool
	flushTimer *time.Timer
	onEvict    []func(Entry)
	closed     bool

	flushMu sync.Mutex
}

// NewIndex 构造索引但不触碰磁盘上的清单，调用方需随后执行 Init。
func NewIndex(opts Options) (*Index, error) {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.ManifestName == "" {
		opts.ManifestName = "cacheList.json"
	}
	if opts.SizeLimit <= 0 {
		return nil, errors.New("cache size limit must be positive")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	s, err := NewStore(opts.Fs, opts.Dir)
	if err != nil {
		return nil, err
	}
	store := s.(*fileStore)

	tempDir := opts.TempDir
	if tempDir != "" {
		tempDir = filepath.Clean(tempDir)
	}

	return &Index{
		fs:            opts.Fs,
		store:         store,
		dir:           store.basePath,
		manifestPath:  filepath.Join(store.basePath, opts.ManifestName),
		tempDir:       tempDir,
		limit:         opts.SizeLimit,
		flushInterval: opts.FlushInterval,
		remote:        opts.Remote,
		logger:        logging.Component(logger, "cache"),
		now:           opts.Now,
		entries:       make(map[string]*Entry),
		order:         newLRUOrder(),
		pins:          make(map[string]int),
	}, nil
}

// Store 返回索引使用的磁盘存储。
func (idx *Index) Store() Store {
	return idx.store
}

// Dir 返回缓存根目录。
func (idx *Index) Dir() string {
	return idx.dir
}

// Init 加载清单并修复磁盘状态：丢弃文件缺失的条目、清理孤儿文件与遗留的临时文件，
// 超出预算时执行淘汰，修复过的清单会立即写回。
func (idx *Index) Init(ctx context.Context) error {
	if err := idx.fs.MkdirAll(idx.dir, 0o755); err != nil {
		return asseterr.Wrap(asseterr.KindFileSystem, "cache.init", idx.dir, err)
	}
	if idx.tempDir != "" {
		if err := idx.fs.MkdirAll(idx.tempDir, 0o755); err != nil {
			return asseterr.Wrap(asseterr.KindFileSystem, "cache.init", idx.tempDir, err)
		}
	}

	files, err := readManifest(idx.fs, idx.manifestPath)
	repaired := false
	if err != nil {
		if !errors.Is(err, errStaleManifest) {
			return asseterr.Wrap(asseterr.KindFileSystem, "cache.init", idx.manifestPath, err)
		}
		idx.logger.WithError(err).Warn("cache manifest discarded")
		repaired = true
	}

	idx.mu.Lock()
	loaded := make([]*Entry, 0, len(files))
	for url, rec := range files {
		if url == "" || rec.Path == "" {
			repaired = true
			continue
		}
		info, statErr := idx.fs.Stat(rec.Path)
		if statErr != nil || info.IsDir() || !idx.owns(rec.Path) {
			idx.logger.WithField("url", url).Debug("cache entry dropped: file missing")
			repaired = true
			continue
		}
		if info.Size() != rec.Size {
			repaired = true
		}
		loaded = append(loaded, &Entry{
			URL:        url,
			LocalPath:  rec.Path,
			SizeBytes:  info.Size(),
			LastAccess: rec.LastTime,
			Seq:        rec.Seq,
		})
	}
	// 旧清单可能缺少 seq，按访问时间重新编号以保持淘汰顺序稳定。
	sort.Slice(loaded, func(i, j int) bool {
		if !loaded[i].LastAccess.Equal(loaded[j].LastAccess) {
			return loaded[i].LastAccess.Before(loaded[j].LastAccess)
		}
		if loaded[i].Seq != loaded[j].Seq {
			return loaded[i].Seq < loaded[j].Seq
		}
		return loaded[i].URL < loaded[j].URL
	})
	for _, e := range loaded {
		idx.seq++
		if e.Seq != idx.seq {
			e.Seq = idx.seq
		}
		idx.entries[e.URL] = e
		idx.order.insert(e)
		idx.total += e.SizeBytes
	}
	referenced := make(map[string]struct{}, len(idx.entries))
	for _, e := range idx.entries {
		referenced[e.LocalPath] = struct{}{}
	}
	idx.mu.Unlock()

	if cleanupErr := idx.sweep(referenced); cleanupErr != nil {
		idx.logger.WithError(cleanupErr).Warn("cache cleanup incomplete")
	}

	victims := idx.evict(ctx)
	if len(victims) > 0 {
		repaired = true
	}

	idx.mu.Lock()
	if repaired {
		idx.dirty = true
	}
	count, total := len(idx.entries), idx.total
	idx.mu.Unlock()
	metrics.SetCacheUsage(count, total)

	idx.logger.WithFields(logrus.Fields{
		"entries": count,
		"usage":   fmt.Sprintf("%.1S", infounit.ByteCount(total)),
		"limit":   fmt.Sprintf("%.1S", infounit.ByteCount(idx.limit)),
	}).Info("cache index loaded")

	if repaired {
		return idx.Flush()
	}
	return nil
}

// sweep 删除未被索引引用的文件、遗留的 .cache-* 临时文件以及上次运行残留的下载临时目录内容。
func (idx *Index) sweep(referenced map[string]struct{}) error {
	var result *multierror.Error
	walkErr := afero.Walk(idx.fs, idx.dir, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			result = multierror.Append(result, err)
			return nil
		}
		if info.IsDir() {
			return nil
		}
		if path == idx.manifestPath {
			return nil
		}
		if _, ok := referenced[path]; ok {
			return nil
		}
		reason := "orphan"
		if strings.HasPrefix(info.Name(), tempPrefix) {
			reason = "partial write"
		} else if idx.tempDir != "" && strings.HasPrefix(path, idx.tempDir+string(filepath.Separator)) {
			reason = "stale download"
		}
		if rmErr := idx.fs.Remove(path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			result = multierror.Append(result, fmt.Errorf("remove %s: %w", path, rmErr))
			return nil
		}
		idx.logger.WithFields(logrus.Fields{"path": path, "reason": reason}).Debug("cache file removed")
		return nil
	})
	if walkErr != nil {
		result = multierror.Append(result, walkErr)
	}
	return result.ErrorOrNil()
}

// Get 返回 url 对应的条目副本。
func (idx *Index) Get(url string) (Entry, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	e, ok := idx.entries[url]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// UpdateLastTime 刷新条目的访问时间，条目不存在时返回 false。
func (idx *Index) UpdateLastTime(url string) bool {
	idx.mu.Lock()
	e, ok := idx.entries[url]
	if !ok {
		idx.mu.Unlock()
		return false
	}
	idx.order.remove(e)
	e.LastAccess = nextAccess(idx.now(), e.LastAccess)
	idx.order.insert(e)
	idx.markDirtyLocked()
	idx.mu.Unlock()
	idx.maybeFlush()
	return true
}

// Acquire 将条目标记为使用中，在 release 调用前不会被淘汰。
// 最后一个占用释放且总量超出预算时，release 会补做一次淘汰。
func (idx *Index) Acquire(url string) (release func(), ok bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, exists := idx.entries[url]; !exists {
		return func() {}, false
	}
	return idx.pinLocked(url), true
}

func (idx *Index) pinLocked(url string) func() {
	idx.pins[url]++
	var once sync.Once
	return func() {
		once.Do(func() {
			idx.mu.Lock()
			idx.pins[url]--
			last := idx.pins[url] <= 0
			if last {
				delete(idx.pins, url)
			}
			over := last && !idx.closed && idx.total > idx.limit
			idx.mu.Unlock()
			if over {
				idx.evict(context.Background())
				idx.maybeFlush()
			}
		})
	}
}

// CacheFile 将 src 提交到缓存。shouldSave 为 false 时不做任何事并返回 nil 条目；
// isTemp 表示 src 是可移动的临时下载文件，否则复制本地文件或（远程 src）直接下载。
// 同一 URL 多次提交只保留一个条目，文件内容原子替换。
// 返回的条目不带占用，预算被其他占用条目耗尽时文件可能已被淘汰；需要继续读取文件的调用方使用 CommitPinned。
func (idx *Index) CacheFile(ctx context.Context, url, src string, shouldSave, isTemp bool) (*Entry, error) {
	if !shouldSave {
		return nil, nil
	}
	entry, release, err := idx.CommitPinned(ctx, url, src, isTemp)
	if err != nil {
		return nil, err
	}
	release()
	if _, still := idx.Get(url); !still {
		idx.logger.WithFields(logrus.Fields{
			"url":  url,
			"size": fmt.Sprintf("%.1S", infounit.ByteCount(entry.SizeBytes)),
		}).Warn("cached entry evicted right after commit")
	}
	return entry, nil
}

// CommitPinned 与 CacheFile 相同地提交 src，但新条目在返回前已被占用：
// 提交后的淘汰不会删除它，调用方读完文件后调用 release。
func (idx *Index) CommitPinned(ctx context.Context, url, src string, isTemp bool) (*Entry, func(), error) {
	if url == "" || src == "" {
		return nil, nil, asseterr.New(asseterr.KindFileSystem, "cache.commit", url, "url and source path required")
	}
	if idx.isClosed() {
		return nil, nil, ErrClosed
	}

	locator := Locator{URL: url, Ext: ExtFromURL(url)}
	stored, err := idx.storeSource(ctx, locator, src, isTemp)
	if err != nil {
		idx.logger.WithError(err).WithField("url", url).Warn("Save file failed")
		if asseterr.KindOf(err) != "" {
			return nil, nil, err
		}
		return nil, nil, asseterr.Wrap(asseterr.KindFileSystem, "cache.commit", url, err)
	}

	idx.mu.Lock()
	if idx.closed {
		idx.mu.Unlock()
		return nil, nil, ErrClosed
	}
	e, exists := idx.entries[url]
	if exists {
		idx.order.remove(e)
		idx.total -= e.SizeBytes
		e.LocalPath = stored.FilePath
		e.SizeBytes = stored.SizeBytes
		e.LastAccess = nextAccess(idx.now(), e.LastAccess)
	} else {
		idx.seq++
		e = &Entry{
			URL:        url,
			LocalPath:  stored.FilePath,
			SizeBytes:  stored.SizeBytes,
			LastAccess: nextAccess(idx.now(), time.Time{}),
			Seq:        idx.seq,
		}
		idx.entries[url] = e
	}
	idx.order.insert(e)
	idx.total += e.SizeBytes
	idx.markDirtyLocked()
	release := idx.pinLocked(url)
	committed := *e
	idx.mu.Unlock()

	idx.logger.WithFields(logging.CacheFields("commit", url, committed.LocalPath, committed.SizeBytes)).Debug("cache entry committed")

	idx.evict(ctx)
	idx.maybeFlush()

	if committed.SizeBytes > idx.limit {
		idx.logger.WithFields(logrus.Fields{
			"url":  url,
			"size": fmt.Sprintf("%.1S", infounit.ByteCount(committed.SizeBytes)),
		}).Warn("cached file exceeds size limit")
	}
	return &committed, release, nil
}

// CacheRemote 直接按 URL 下载并提交到缓存，供图片直读路径在解码成功后落盘。
func (idx *Index) CacheRemote(ctx context.Context, url string) (*Entry, error) {
	return idx.CacheFile(ctx, url, url, true, false)
}

func (idx *Index) storeSource(ctx context.Context, locator Locator, src string, isTemp bool) (*StoredFile, error) {
	if isTemp {
		return idx.store.Adopt(ctx, locator, src)
	}
	if remotePattern.MatchString(src) {
		if idx.remote == nil {
			return nil, asseterr.New(asseterr.KindNetwork, "cache.commit", src, "no remote opener configured")
		}
		body, err := idx.remote.Open(ctx, src)
		if err != nil {
			return nil, err
		}
		defer body.Close()
		return idx.store.Put(ctx, locator, body)
	}
	in, err := idx.fs.Open(src)
	if err != nil {
		return nil, err
	}
	defer in.Close()
	return idx.store.Put(ctx, locator, in)
}

// Remove 删除条目及其文件。
func (idx *Index) Remove(ctx context.Context, url string) error {
	idx.mu.Lock()
	e, ok := idx.entries[url]
	if !ok {
		idx.mu.Unlock()
		return nil
	}
	idx.detachLocked(e)
	idx.markDirtyLocked()
	removed := *e
	idx.mu.Unlock()

	err := idx.deleteFile(removed)
	idx.notifyEvicted([]Entry{removed})
	idx.maybeFlush()
	return err
}

// Clear 删除所有未被占用的条目。
func (idx *Index) Clear(ctx context.Context) error {
	idx.mu.Lock()
	var removed []Entry
	for url, e := range idx.entries {
		if idx.pins[url] > 0 {
			continue
		}
		idx.detachLocked(e)
		removed = append(removed, *e)
	}
	if len(removed) > 0 {
		idx.markDirtyLocked()
	}
	idx.mu.Unlock()

	var result *multierror.Error
	for _, e := range removed {
		if err := idx.deleteFile(e); err != nil {
			result = multierror.Append(result, err)
		}
	}
	idx.notifyEvicted(removed)
	idx.maybeFlush()
	return result.ErrorOrNil()
}

// Evict 立即执行一轮淘汰，返回被淘汰的条目。
func (idx *Index) Evict(ctx context.Context) []Entry {
	victims := idx.evict(ctx)
	idx.maybeFlush()
	return victims
}

func (idx *Index) evict(ctx context.Context) []Entry {
	idx.mu.Lock()
	var victims []Entry
	if idx.total > idx.limit {
		var candidates []*Entry
		remaining := idx.total
		idx.order.ascend(func(url string) bool {
			if remaining <= idx.limit {
				return false
			}
			if idx.pins[url] > 0 {
				return true
			}
			e := idx.entries[url]
			candidates = append(candidates, e)
			remaining -= e.SizeBytes
			return true
		})
		for _, e := range candidates {
			idx.detachLocked(e)
			victims = append(victims, *e)
		}
		if len(victims) > 0 {
			idx.markDirtyLocked()
		}
	}
	idx.mu.Unlock()

	if len(victims) == 0 {
		return nil
	}
	for _, e := range victims {
		if err := idx.deleteFile(e); err != nil {
			idx.logger.WithError(err).WithField("url", e.URL).Warn("remove evicted file failed")
		}
		idx.logger.WithFields(logging.CacheFields("evict", e.URL, e.LocalPath, e.SizeBytes)).Debug("cache entry evicted")
	}
	metrics.RecordEvictions(len(victims))
	idx.notifyEvicted(victims)
	return victims
}

// detachLocked 从 map 与 LRU 中移除条目，调用方需持有 idx.mu。
func (idx *Index) detachLocked(e *Entry) {
	idx.order.remove(e)
	delete(idx.entries, e.URL)
	idx.total -= e.SizeBytes
}

// deleteFile 在条目锁内删除文件；若期间同一 URL 已被重新提交则保留文件。
func (idx *Index) deleteFile(e Entry) error {
	locator := Locator{URL: e.URL, Ext: ExtFromURL(e.URL)}
	return idx.store.withEntryLock(locator, func(string) error {
		idx.mu.Lock()
		current, readded := idx.entries[e.URL]
		idx.mu.Unlock()
		if readded && current.LocalPath == e.LocalPath {
			return nil
		}
		if err := idx.fs.Remove(e.LocalPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return asseterr.Wrap(asseterr.KindFileSystem, "cache.remove", e.URL, err)
		}
		return nil
	})
}

// OnEvict 注册条目被淘汰或删除后的回调。回调在索引锁之外执行。
func (idx *Index) OnEvict(fn func(Entry)) {
	if fn == nil {
		return
	}
	idx.mu.Lock()
	idx.onEvict = append(idx.onEvict, fn)
	idx.mu.Unlock()
}

func (idx *Index) notifyEvicted(entries []Entry) {
	if len(entries) == 0 {
		return
	}
	idx.mu.Lock()
	hooks := make([]func(Entry), len(idx.onEvict))
	copy(hooks, idx.onEvict)
	idx.mu.Unlock()
	for _, e := range entries {
		for _, hook := range hooks {
			hook(e)
		}
	}
}

// Entries 按淘汰顺序（最旧优先）返回所有条目。
func (idx *Index) Entries() []Entry {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	out := make([]Entry, 0, idx.order.len())
	idx.order.ascend(func(url string) bool {
		out = append(out, *idx.entries[url])
		return true
	})
	return out
}

// Stats 返回当前条目数与占用。
func (idx *Index) Stats() Stats {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return Stats{
		Entries:    len(idx.entries),
		TotalBytes: idx.total,
		LimitBytes: idx.limit,
		Usage:      fmt.Sprintf("%.1S / %.1S", infounit.ByteCount(idx.total), infounit.ByteCount(idx.limit)),
	}
}

func (idx *Index) markDirtyLocked() {
	idx.dirty = true
	metrics.SetCacheUsage(len(idx.entries), idx.total)
}

func (idx *Index) isClosed() bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.closed
}

// maybeFlush 在 FlushInterval 为 0 时同步写清单，否则合并到定时器中批量写入。
func (idx *Index) maybeFlush() {
	if idx.flushInterval <= 0 {
		if err := idx.Flush(); err != nil {
			idx.logger.WithError(err).Warn("write cache manifest failed")
		}
		return
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed || !idx.dirty || idx.flushTimer != nil {
		return
	}
	idx.flushTimer = time.AfterFunc(idx.flushInterval, func() {
		idx.mu.Lock()
		idx.flushTimer = nil
		idx.mu.Unlock()
		if err := idx.Flush(); err != nil {
			idx.logger.WithError(err).Warn("write cache manifest failed")
		}
	})
}

// Flush 将索引写入清单文件；索引未变化时不写盘。
func (idx *Index) Flush() error {
	idx.flushMu.Lock()
	defer idx.flushMu.Unlock()

	idx.mu.Lock()
	if !idx.dirty {
		idx.mu.Unlock()
		return nil
	}
	files := make(map[string]manifestEntry, len(idx.entries))
	for url, e := range idx.entries {
		files[url] = manifestEntry{
			Path:     e.LocalPath,
			Size:     e.SizeBytes,
			LastTime: e.LastAccess,
			Seq:      e.Seq,
		}
	}
	idx.dirty = false
	idx.mu.Unlock()

	if err := writeManifest(idx.fs, idx.manifestPath, files); err != nil {
		idx.mu.Lock()
		idx.dirty = true
		idx.mu.Unlock()
		return asseterr.Wrap(asseterr.KindFileSystem, "cache.flush", idx.manifestPath, err)
	}
	return nil
}

// Close 停止批量写定时器并写出最终清单。
func (idx *Index) Close() error {
	idx.mu.Lock()
	if idx.closed {
		idx.mu.Unlock()
		return nil
	}
	idx.closed = true
	if idx.flushTimer != nil {
		idx.flushTimer.Stop()
		idx.flushTimer = nil
	}
	idx.mu.Unlock()

	var result *multierror.Error
	if err := idx.Flush(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// owns 判断路径位于缓存根目录之内。
func (idx *Index) owns(path string) bool {
	return strings.HasPrefix(filepath.Clean(path), idx.dir+string(filepath.Separator))
}

// IsRemote 判断 url 是否带有协议头。
func IsRemote(url string) bool {
	return remotePattern.MatchString(url)
}
