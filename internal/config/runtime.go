package config

import "fmt"

// PlatformProfile 输出 `standard`、`android` 或 `sub-context`，与图片加载策略一一对应。
func (p PlatformConfig) PlatformProfile() string {
	switch {
	case p.SubContext:
		return "sub-context"
	case p.OS == "android":
		return "android"
	default:
		return "standard"
	}
}

// RuntimeSummary 汇总启动日志需要的关键参数，避免在入口处拼装字段。
func (c *Config) RuntimeSummary() map[string]interface{} {
	g := c.Global
	return map[string]interface{}{
		"app_root":         g.AppRoot,
		"storage_path":     g.StoragePath,
		"cache_limit":      fmt.Sprintf("%.1S", g.CacheSizeLimit.ByteCount()),
		"max_concurrent":   g.MaxConcurrent,
		"max_per_tick":     g.MaxRequestsPerTick,
		"platform_profile": c.Platform.PlatformProfile(),
		"webp":             c.Platform.WebP,
		"s3_enabled":       c.S3.Enabled(),
	}
}
