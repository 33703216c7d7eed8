package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// AssetFields 提供 url/类型/命中状态字段，供下载与缓存日志复用。
func AssetFields(url, ext string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"url":       url,
		"ext":       ext,
		"cache_hit": cacheHit,
	}
}

// CacheFields 描述缓存条目变化，供写入/淘汰日志复用。
func CacheFields(action, url, localPath string, size int64) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"url":        url,
		"local_path": localPath,
		"size_bytes": size,
	}
}
