// Package asseterr 定义资源下载/缓存链路对外暴露的错误类型。
package asseterr

import (
	"errors"
	"fmt"
)

// Kind 标识错误类别，调用方可据此决定重试或降级。
type Kind string

const (
	KindUnsupportedFormat Kind = "unsupported_format"
	KindNetwork           Kind = "network_failure"
	KindFileSystem        Kind = "filesystem_failure"
	KindParse             Kind = "parse_failure"
	KindSubpackageLoad    Kind = "subpackage_load_failure"
	KindBundleManifest    Kind = "bundle_manifest_failure"
)

// 每个 Kind 对应一个哨兵错误，便于 errors.Is 判断。
var (
	ErrUnsupportedFormat = errors.New("format unsupported")
	ErrNetwork           = errors.New("network failure")
	ErrFileSystem        = errors.New("file system failure")
	ErrParse             = errors.New("parse failure")
	ErrSubpackageLoad    = errors.New("subpackage load failure")
	ErrBundleManifest    = errors.New("bundle manifest failure")
)

var sentinels = map[Kind]error{
	KindUnsupportedFormat: ErrUnsupportedFormat,
	KindNetwork:           ErrNetwork,
	KindFileSystem:        ErrFileSystem,
	KindParse:             ErrParse,
	KindSubpackageLoad:    ErrSubpackageLoad,
	KindBundleManifest:    ErrBundleManifest,
}

// Error 携带错误类别、操作名与资源地址，Message 为面向用户的描述。
type Error struct {
	Kind    Kind
	Op      string
	URL     string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.URL != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.URL, msg)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

// Unwrap 返回底层原因。
func (e *Error) Unwrap() error {
	return e.Err
}

// Is 让 errors.Is(err, ErrNetwork) 之类的判断命中对应 Kind。
func (e *Error) Is(target error) bool {
	if sentinel, ok := sentinels[e.Kind]; ok && sentinel == target {
		return true
	}
	return false
}

// New 构造指定类别的错误，message 原样透出。
func New(kind Kind, op, url, message string) error {
	return &Error{Kind: kind, Op: op, URL: url, Message: message}
}

// Wrap 用指定类别包装底层错误；err 为 nil 时返回 nil。
func Wrap(kind Kind, op, url string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, URL: url, Err: err}
}

// Is 判断 err 链上是否存在指定类别的错误。
func Is(err error, kind Kind) bool {
	sentinel, ok := sentinels[kind]
	if !ok {
		return false
	}
	return errors.Is(err, sentinel)
}

// KindOf 返回 err 链上第一个 *Error 的类别，不存在时返回空串。
func KindOf(err error) Kind {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind
	}
	return ""
}
