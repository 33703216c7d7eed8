package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// tempPrefix 标记写入过程中的临时文件，Index.Init 会清理遗留的同名文件。
const tempPrefix = ".cache-"

// NewStore 以 basePath 为根目录构建磁盘缓存，整个进程复用一份实例。
func NewStore(fsys afero.Fs, basePath string) (Store, error) {
	if fsys == nil {
		return nil, errors.New("file system required")
	}
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs := filepath.Clean(basePath)
	if !filepath.IsAbs(abs) {
		resolved, err := filepath.Abs(abs)
		if err != nil {
			return nil, fmt.Errorf("resolve storage path: %w", err)
		}
		abs = resolved
	}

	if err := fsys.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{
		fs:       fsys,
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 避免同一 URL 并发写入，同时复用 basePath。
type fileStore struct {
	fs       afero.Fs
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStore) Path(locator Locator) (string, error) {
	return s.entryPath(locator)
}

func (s *fileStore) Stat(ctx context.Context, locator Locator) (*StoredFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filePath, err := s.entryPath(locator)
	if err != nil {
		return nil, err
	}
	return s.statPath(locator, filePath)
}

func (s *fileStore) Put(ctx context.Context, locator Locator, body io.Reader) (*StoredFile, error) {
	unlock := s.lockEntry(locator)
	defer unlock()

	filePath, err := s.entryPath(locator)
	if err != nil {
		return nil, err
	}
	if err := s.writeAtomic(ctx, filePath, body); err != nil {
		return nil, err
	}
	return s.statPath(locator, filePath)
}

func (s *fileStore) Adopt(ctx context.Context, locator Locator, src string) (*StoredFile, error) {
	unlock := s.lockEntry(locator)
	defer unlock()

	filePath, err := s.entryPath(locator)
	if err != nil {
		return nil, err
	}
	if filepath.Clean(src) == filePath {
		return s.statPath(locator, filePath)
	}
	if err := s.fs.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, err
	}

	// rename 在同一文件系统内是原子的；跨设备时退化为复制 + 删除源文件。
	if err := s.fs.Rename(src, filePath); err != nil {
		in, openErr := s.fs.Open(src)
		if openErr != nil {
			return nil, openErr
		}
		writeErr := s.writeAtomic(ctx, filePath, in)
		in.Close()
		if writeErr != nil {
			return nil, writeErr
		}
		if rmErr := s.fs.Remove(src); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			return nil, rmErr
		}
	}
	return s.statPath(locator, filePath)
}

func (s *fileStore) Remove(ctx context.Context, locator Locator) error {
	unlock := s.lockEntry(locator)
	defer unlock()

	filePath, err := s.entryPath(locator)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// withEntryLock 在持有条目锁的情况下执行 fn，供 Index 在删除文件前复核条目状态。
func (s *fileStore) withEntryLock(locator Locator, fn func(filePath string) error) error {
	unlock := s.lockEntry(locator)
	defer unlock()

	filePath, err := s.entryPath(locator)
	if err != nil {
		return err
	}
	return fn(filePath)
}

func (s *fileStore) writeAtomic(ctx context.Context, filePath string, body io.Reader) error {
	if err := s.fs.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return err
	}

	tempFile, err := afero.TempFile(s.fs, filepath.Dir(filePath), tempPrefix+"*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = copyWithContext(ctx, tempFile, body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		s.fs.Remove(tempName)
		return err
	}

	if err := s.fs.Rename(tempName, filePath); err != nil {
		s.fs.Remove(tempName)
		return err
	}
	return nil
}

func (s *fileStore) statPath(locator Locator, filePath string) (*StoredFile, error) {
	info, err := s.fs.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}
	return &StoredFile{
		Locator:   locator,
		FilePath:  filePath,
		SizeBytes: info.Size(),
		ModTime:   info.ModTime(),
	}, nil
}

func (s *fileStore) lockEntry(locator Locator) func() {
	key := locator.URL
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

func (s *fileStore) entryPath(locator Locator) (string, error) {
	if locator.URL == "" {
		return "", errors.New("cache url required")
	}

	sum := sha1.Sum([]byte(locator.URL))
	name := hex.EncodeToString(sum[:])
	filePath := filepath.Join(s.basePath, name[:2], name+cleanExt(locator.Ext))
	if !strings.HasPrefix(filePath, s.basePath+string(filepath.Separator)) {
		return "", errors.New("invalid cache path")
	}
	return filePath, nil
}

// cleanExt 只保留形如 ".png" 的扩展名，其它内容一律丢弃，避免路径注入。
func cleanExt(ext string) string {
	if len(ext) < 2 || len(ext) > 16 || ext[0] != '.' {
		return ""
	}
	for _, r := range ext[1:] {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		default:
			return ""
		}
	}
	return ext
}

// ExtFromURL 从 URL 中提取扩展名，忽略查询串与片段。
func ExtFromURL(rawURL string) string {
	if idx := strings.IndexAny(rawURL, "?#"); idx >= 0 {
		rawURL = rawURL[:idx]
	}
	slash := strings.LastIndex(rawURL, "/")
	dot := strings.LastIndex(rawURL, ".")
	if dot <= slash {
		return ""
	}
	return rawURL[dot:]
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
