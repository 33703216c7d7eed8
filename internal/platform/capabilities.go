package platform

import (
	"strings"

	"github.com/any-hub/asset-hub/internal/config"
)

// ImageStrategy 描述图片加载策略，启动时根据平台能力一次性确定。
type ImageStrategy string

const (
	StrategyStandard   ImageStrategy = "standard"
	StrategyAndroid    ImageStrategy = "android"
	StrategySubContext ImageStrategy = "sub-context"
)

// Capabilities 描述宿主平台的静态能力集合。
type Capabilities struct {
	OS             string
	SubContext     bool
	SubContextRoot string
	WebP           bool
}

// FromConfig 将配置中的 [Platform] 段转换为能力集合。
func FromConfig(cfg config.PlatformConfig) Capabilities {
	return Capabilities{
		OS:             strings.ToLower(strings.TrimSpace(cfg.OS)),
		SubContext:     cfg.SubContext,
		SubContextRoot: strings.TrimRight(cfg.SubContextRoot, "/"),
		WebP:           cfg.WebP,
	}
}

// ImageStrategy 返回该平台应使用的图片加载策略；子上下文优先于系统类型。
func (c Capabilities) ImageStrategy() ImageStrategy {
	switch {
	case c.SubContext:
		return StrategySubContext
	case c.OS == "android":
		return StrategyAndroid
	default:
		return StrategyStandard
	}
}
