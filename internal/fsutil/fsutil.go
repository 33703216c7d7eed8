// Package fsutil wraps the platform file system (an afero.Fs) with the small
// set of primitives the asset layer needs: text/binary/JSON reads, atomic-ish
// writes, copy/move/delete and directory helpers. Relative paths are resolved
// against the application root and may not climb out of it; absolute paths are
// accepted only under the root or a trusted directory (cache and temp files).
// Every failure is reported as an asseterr FileSystem or Parse error.
package fsutil

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/any-hub/asset-hub/internal/asseterr"
)

// ErrOutsideRoot 表示路径落在应用根目录与受信目录之外。
var ErrOutsideRoot = errors.New("path escapes application root")

// FS 以 root 为相对路径基准封装 afero.Fs，整进程共享一份实例。
type FS struct {
	fs      afero.Fs
	root    string
	trusted []string
	logger  *logrus.Logger
}

// New 构造 FS；logger 为空时使用 logrus 标准 logger。
// trusted 列出根目录之外允许以绝对路径访问的目录或文件（缓存目录、临时目录、应用清单）。
func New(base afero.Fs, root string, logger *logrus.Logger, trusted ...string) *FS {
	if base == nil {
		base = afero.NewOsFs()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	f := &FS{fs: base, root: filepath.Clean(root), logger: logger}
	for _, dir := range trusted {
		if dir != "" {
			f.trusted = append(f.trusted, filepath.Clean(dir))
		}
	}
	return f
}

// Afero 返回底层文件系统，供缓存/下载层直接做流式写入。
func (f *FS) Afero() afero.Fs {
	return f.fs
}

// Root 返回应用根目录。
func (f *FS) Root() string {
	return f.root
}

// Abs 将路径解析为底层文件系统中的路径。相对路径以应用根目录为基准，
// 跳出根目录（如 "../x"）返回 ErrOutsideRoot；绝对路径必须位于根目录或受信目录之下。
func (f *FS) Abs(path string) (string, error) {
	if filepath.IsAbs(path) {
		abs := filepath.Clean(path)
		if within(abs, f.root) {
			return abs, nil
		}
		for _, dir := range f.trusted {
			if within(abs, dir) {
				return abs, nil
			}
		}
		return "", asseterr.Wrap(asseterr.KindFileSystem, "resolve", path, ErrOutsideRoot)
	}
	abs := filepath.Join(f.root, filepath.FromSlash(path))
	if !within(abs, f.root) {
		return "", asseterr.Wrap(asseterr.KindFileSystem, "resolve", path, ErrOutsideRoot)
	}
	return abs, nil
}

func within(path, dir string) bool {
	if path == dir || dir == string(filepath.Separator) {
		return true
	}
	return strings.HasPrefix(path, dir+string(filepath.Separator))
}

func (f *FS) resolve(op, path string) (string, error) {
	abs, err := f.Abs(path)
	if err != nil {
		return "", f.fail(op, path, ErrOutsideRoot)
	}
	return abs, nil
}

// ReadText 以 UTF-8 文本读取文件。
func (f *FS) ReadText(path string) (string, error) {
	data, err := f.readFile("read_text", path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ReadArrayBuffer 读取原始字节。
func (f *FS) ReadArrayBuffer(path string) ([]byte, error) {
	return f.readFile("read_array_buffer", path)
}

// ReadJSON 读取并解析 JSON，解析失败时返回携带解析器信息的 ParseFailure。
func (f *FS) ReadJSON(path string) (any, error) {
	data, err := f.readFile("read_json", path)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		f.warn("read_json", path, err)
		return nil, asseterr.New(asseterr.KindParse, "read_json", path, err.Error())
	}
	return out, nil
}

// ReadJSONSync 同步读取 JSON 并解码到 v，用于启动阶段读取应用清单。
func (f *FS) ReadJSONSync(path string, v any) error {
	data, err := f.readFile("read_json_sync", path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		f.warn("read_json_sync", path, err)
		return asseterr.New(asseterr.KindParse, "read_json_sync", path, err.Error())
	}
	return nil
}

// WriteFile 先写临时文件再 rename，避免进程中断留下半截文件。
func (f *FS) WriteFile(path string, data []byte) error {
	target, err := f.resolve("write_file", path)
	if err != nil {
		return err
	}
	if err := f.fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return f.fail("write_file", target, err)
	}
	tmp, err := afero.TempFile(f.fs, filepath.Dir(target), ".write-*")
	if err != nil {
		return f.fail("write_file", target, err)
	}
	tmpName := tmp.Name()
	_, err = tmp.Write(data)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = f.fs.Remove(tmpName)
		return f.fail("write_file", target, err)
	}
	if err := f.fs.Rename(tmpName, target); err != nil {
		_ = f.fs.Remove(tmpName)
		return f.fail("write_file", target, err)
	}
	return nil
}

// CopyFile 复制 src 到 dst，目标目录不存在时自动创建。
func (f *FS) CopyFile(src, dst string) error {
	from, err := f.resolve("copy_file", src)
	if err != nil {
		return err
	}
	target, err := f.resolve("copy_file", dst)
	if err != nil {
		return err
	}
	in, err := f.fs.Open(from)
	if err != nil {
		return f.fail("copy_file", src, err)
	}
	defer in.Close()

	if err := f.fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return f.fail("copy_file", target, err)
	}
	out, err := f.fs.Create(target)
	if err != nil {
		return f.fail("copy_file", target, err)
	}
	_, err = io.Copy(out, in)
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = f.fs.Remove(target)
		return f.fail("copy_file", target, err)
	}
	return nil
}

// MoveFile 将临时文件转存到 dst；跨设备 rename 失败时退化为复制 + 删除。
func (f *FS) MoveFile(src, dst string) error {
	from, err := f.resolve("move_file", src)
	if err != nil {
		return err
	}
	to, err := f.resolve("move_file", dst)
	if err != nil {
		return err
	}
	if err := f.fs.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return f.fail("move_file", to, err)
	}
	if err := f.fs.Rename(from, to); err == nil {
		return nil
	}
	if err := f.CopyFile(from, to); err != nil {
		return err
	}
	_ = f.fs.Remove(from)
	return nil
}

// DeleteFile 删除文件，不存在视为成功。
func (f *FS) DeleteFile(path string) error {
	target, err := f.resolve("delete_file", path)
	if err != nil {
		return err
	}
	if err := f.fs.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return f.fail("delete_file", path, err)
	}
	return nil
}

// MakeDir 递归创建目录。
func (f *FS) MakeDir(path string) error {
	target, err := f.resolve("make_dir", path)
	if err != nil {
		return err
	}
	if err := f.fs.MkdirAll(target, 0o755); err != nil {
		return f.fail("make_dir", path, err)
	}
	return nil
}

// Exists 判断文件或目录是否存在。
func (f *FS) Exists(path string) bool {
	target, err := f.Abs(path)
	if err != nil {
		return false
	}
	ok, err := afero.Exists(f.fs, target)
	return err == nil && ok
}

// IsDir 判断路径是否为目录。
func (f *FS) IsDir(path string) bool {
	target, err := f.Abs(path)
	if err != nil {
		return false
	}
	ok, err := afero.IsDir(f.fs, target)
	return err == nil && ok
}

// Stat 返回文件信息。
func (f *FS) Stat(path string) (os.FileInfo, error) {
	target, err := f.resolve("stat", path)
	if err != nil {
		return nil, err
	}
	info, err := f.fs.Stat(target)
	if err != nil {
		return nil, f.fail("stat", path, err)
	}
	return info, nil
}

// Open 以只读方式打开文件。
func (f *FS) Open(path string) (afero.File, error) {
	target, err := f.resolve("open", path)
	if err != nil {
		return nil, err
	}
	file, err := f.fs.Open(target)
	if err != nil {
		return nil, f.fail("open", path, err)
	}
	return file, nil
}

// ReadDir 返回目录下的文件名列表。
func (f *FS) ReadDir(path string) ([]string, error) {
	target, err := f.resolve("read_dir", path)
	if err != nil {
		return nil, err
	}
	infos, err := afero.ReadDir(f.fs, target)
	if err != nil {
		return nil, f.fail("read_dir", path, err)
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names, nil
}

func (f *FS) readFile(op, path string) ([]byte, error) {
	target, err := f.resolve(op, path)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(f.fs, target)
	if err != nil {
		return nil, f.fail(op, path, err)
	}
	return data, nil
}

func (f *FS) fail(op, path string, err error) error {
	f.warn(op, path, err)
	return asseterr.Wrap(asseterr.KindFileSystem, op, path, err)
}

func (f *FS) warn(op, path string, err error) {
	f.logger.WithFields(logrus.Fields{
		"action": op,
		"path":   path,
	}).Warn(err.Error())
}
