package downloader

import (
	"context"

	"github.com/any-hub/asset-hub/internal/assettype"
)

// HandlerFunc 处理一次资源请求，返回引擎需要的结果（文本、JSON、字节、图片句柄等）。
type HandlerFunc func(ctx context.Context, url string, opts *Options) (any, error)

// Processor 在资源已位于本地后处理 localPath。
type Processor func(ctx context.Context, localPath string, opts *Options) (any, error)

// Options 是每次下载调用可携带的选项。
type Options struct {
	Reload bool
	// SaveFile 为 nil 时视为 true。
	SaveFile     *bool
	Header       map[string]string
	ResponseType assettype.ResponseType
	OnProgress   func(loaded, total int64)
	Priority     int
	Ver          string
}

// Bool 返回 v 的指针，便于设置 SaveFile。
func Bool(v bool) *bool {
	return &v
}

// ShouldSave 返回下载完成后是否写入持久缓存。
func (o *Options) ShouldSave() bool {
	return o == nil || o.SaveFile == nil || *o.SaveFile
}

func (o *Options) clone() *Options {
	if o == nil {
		return &Options{}
	}
	cp := *o
	return &cp
}

func (o *Options) header() map[string]string {
	if o == nil {
		return nil
	}
	return o.Header
}

func (o *Options) onProgress() func(loaded, total int64) {
	if o == nil {
		return nil
	}
	return o.OnProgress
}

func (o *Options) reload() bool {
	return o != nil && o.Reload
}

// RequestItem 是资源管线中的一个待加载条目。
type RequestItem struct {
	ID  string
	URL string
	Ext string
	// Bundle 为条目所属的 bundle 配置名称，不属于任何 bundle 配置时为空。
	Bundle  string
	Options *Options
}

// ApplySaveFileDefault 为不属于 bundle 配置的条目补齐 SaveFile=false，已显式设置的保持不变。
func ApplySaveFileDefault(items []*RequestItem) []*RequestItem {
	for _, item := range items {
		if item == nil || item.Bundle != "" {
			continue
		}
		if item.Options == nil {
			item.Options = &Options{}
		}
		if item.Options.SaveFile == nil {
			item.Options.SaveFile = Bool(false)
		}
	}
	return items
}
