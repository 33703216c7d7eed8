package assettype

// Kind 是资源类别键。
type Kind string

const (
	KindScript      Kind = "script"
	KindText        Kind = "text"
	KindJSON        Kind = "json"
	KindArrayBuffer Kind = "arraybuffer"
	KindImage       Kind = "image"
	KindWebP        Kind = "webp"
	KindAudio       Kind = "audio"
	KindVideo       Kind = "video"
	KindFont        Kind = "font"
)

// ResponseType 描述本地文件的读取方式。
type ResponseType string

const (
	ResponseText        ResponseType = "text"
	ResponseJSON        ResponseType = "json"
	ResponseArrayBuffer ResponseType = "arraybuffer"
	// ResponseNative 表示由平台原语处理（图片解码、音频句柄等），不直接读取内容。
	ResponseNative ResponseType = "native"
)

// Category 记录一个资源类别的静态信息，供路由装配和诊断端使用。
type Category struct {
	Kind         Kind         `json:"kind"`
	Description  string       `json:"description"`
	ResponseType ResponseType `json:"responseType"`
	Extensions   []string     `json:"extensions"`
	// AllowRemote 为 false 时远程 URL 直接视为不支持（脚本不能走网络加载）。
	AllowRemote bool `json:"allowRemote"`
}

// DefaultKind 返回未知扩展名回退使用的类别。
func DefaultKind() Kind {
	return defaultKind
}
