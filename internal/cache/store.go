package cache

import (
	"context"
	"errors"
	"io"
	"time"
)

// Store 负责管理磁盘缓存文件的读写。磁盘布局遵循：
//
//	<StoragePath>/<sha1前两位>/<sha1(url)><ext>    # 实际正文
//
// 每个条目仅由正文文件组成，大小与修改时间由文件系统提供。
type Store interface {
	// Path 返回 locator 对应的绝对文件路径，不检查文件是否存在。
	Path(locator Locator) (string, error)

	// Stat 返回已落盘条目的文件信息。若不存在则返回 ErrNotFound。
	Stat(ctx context.Context, locator Locator) (*StoredFile, error)

	// Put 将 body 写入缓存。实现需通过临时文件 + rename 保证写入原子性，
	// 并在失败时清理临时文件。
	Put(ctx context.Context, locator Locator, body io.Reader) (*StoredFile, error)

	// Adopt 将已存在的本地文件（通常是临时下载文件）移动到缓存位置。
	Adopt(ctx context.Context, locator Locator, src string) (*StoredFile, error)

	// Remove 删除正文文件，文件不存在时视为成功。
	Remove(ctx context.Context, locator Locator) error
}

// Locator 唯一定位一个缓存条目（远程 URL + 扩展名）。
type Locator struct {
	URL string
	Ext string
}

// StoredFile 描述一次写入或查询的落盘结果。
type StoredFile struct {
	Locator   Locator
	FilePath  string
	SizeBytes int64
	ModTime   time.Time
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")
