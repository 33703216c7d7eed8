package config

import (
	"errors"
	"strings"
)

var supportedOS = map[string]struct{}{
	"":        {},
	"android": {},
	"ios":     {},
	"windows": {},
	"macos":   {},
	"linux":   {},
	"ohos":    {},
}

const supportedOSList = "android|ios|windows|macos|linux|ohos"

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.AppRoot == "" {
		return newFieldError("Global.AppRoot", "不能为空")
	}
	if strings.ContainsAny(g.ManifestName, `/\`) {
		return newFieldError("Global.ManifestName", "只能是文件名")
	}
	if g.CacheSizeLimit <= 0 {
		return newFieldError("Global.CacheSizeLimit", "必须大于 0")
	}
	if g.ManifestFlushInterval.DurationValue() < 0 {
		return newFieldError("Global.ManifestFlushInterval", "不能为负数")
	}
	if g.MaxConcurrent <= 0 {
		return newFieldError("Global.MaxConcurrent", "必须大于 0")
	}
	if g.MaxRequestsPerTick <= 0 {
		return newFieldError("Global.MaxRequestsPerTick", "必须大于 0")
	}
	if g.TickInterval.DurationValue() <= 0 {
		return newFieldError("Global.TickInterval", "必须大于 0")
	}
	if g.MaxRetries < 0 {
		return newFieldError("Global.MaxRetries", "不能为负数")
	}
	if g.InitialBackoff.DurationValue() <= 0 {
		return newFieldError("Global.InitialBackoff", "必须大于 0")
	}
	if g.DownloadTimeout.DurationValue() <= 0 {
		return newFieldError("Global.DownloadTimeout", "必须大于 0")
	}

	p := c.Platform
	if _, ok := supportedOS[strings.ToLower(strings.TrimSpace(p.OS))]; !ok {
		return newFieldError("Platform.OS", "仅支持 "+supportedOSList)
	}
	if p.SubContext && strings.TrimSpace(p.SubContextRoot) == "" {
		return newFieldError("Platform.SubContextRoot", "子域模式下不能为空")
	}

	if (c.S3.AccessKey == "") != (c.S3.SecretKey == "") {
		return newFieldError("S3.AccessKey", "AccessKey 与 SecretKey 需同时提供")
	}
	if !c.S3.Enabled() && (c.S3.Endpoint != "" || c.S3.HasCredentials()) {
		return newFieldError("S3.Region", "配置 S3 时 Region 不能为空")
	}

	return nil
}
