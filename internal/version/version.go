package version

import "fmt"

// Version/Commit 可在构建时通过 -ldflags 注入，默认使用开发占位符。
var (
	Version = "0.1.0"
	Commit  = "dev"
)

// CacheManifestVersion 是磁盘缓存清单的格式版本，与二进制版本解耦。
const CacheManifestVersion = "1.0"

// Full 返回便于 CLI 打印的完整版本信息。
func Full() string {
	return fmt.Sprintf("asset-hub %s (%s)", Version, Commit)
}

// UserAgent 返回下载请求使用的 User-Agent。
func UserAgent() string {
	return fmt.Sprintf("asset-hub/%s", Version)
}
