package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"github.com/tunabay/go-infounit"
)

const (
	defaultManifestName   = "cacheList.json"
	defaultGameConfig     = "game.json"
	defaultCacheSizeLimit = 200 * infounit.Megabyte
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	hooks := mapstructure.ComposeDecodeHookFunc(durationDecodeHook(), byteSizeDecodeHook())
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hooks)); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyPlatformDefaults(&cfg.Platform)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := absolutize(&cfg.Global); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("AppRoot", ".")
	v.SetDefault("GameConfig", defaultGameConfig)
	v.SetDefault("StoragePath", "./gamecaches")
	v.SetDefault("TempPath", "")
	v.SetDefault("ManifestName", defaultManifestName)
	v.SetDefault("CacheSizeLimit", int64(defaultCacheSizeLimit))
	v.SetDefault("ManifestFlushInterval", "2s")
	v.SetDefault("MaxConcurrent", 10)
	v.SetDefault("MaxRequestsPerTick", 10)
	v.SetDefault("TickInterval", "16ms")
	v.SetDefault("DownloadTimeout", "30s")
	v.SetDefault("MaxRetries", 3)
	v.SetDefault("InitialBackoff", "1s")
	v.SetDefault("Platform.WebP", true)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.AppRoot == "" {
		g.AppRoot = "."
	}
	if g.GameConfig == "" {
		g.GameConfig = defaultGameConfig
	}
	if g.ManifestName == "" {
		g.ManifestName = defaultManifestName
	}
	if g.TempPath == "" && g.StoragePath != "" {
		g.TempPath = filepath.Join(g.StoragePath, ".tmp")
	}
	if g.CacheSizeLimit == 0 {
		g.CacheSizeLimit = ByteSize(defaultCacheSizeLimit)
	}
	if g.MaxConcurrent == 0 {
		g.MaxConcurrent = 10
	}
	if g.MaxRequestsPerTick == 0 {
		g.MaxRequestsPerTick = 10
	}
	if g.TickInterval.DurationValue() == 0 {
		g.TickInterval = Duration(16 * time.Millisecond)
	}
	if g.InitialBackoff.DurationValue() == 0 {
		g.InitialBackoff = Duration(time.Second)
	}
	if g.DownloadTimeout.DurationValue() == 0 {
		g.DownloadTimeout = Duration(30 * time.Second)
	}
}

func applyPlatformDefaults(p *PlatformConfig) {
	p.OS = strings.ToLower(strings.TrimSpace(p.OS))
	p.SubContextRoot = strings.TrimRight(strings.TrimSpace(p.SubContextRoot), "/")
}

func absolutize(g *GlobalConfig) error {
	for _, target := range []*string{&g.AppRoot, &g.StoragePath, &g.TempPath} {
		if *target == "" {
			continue
		}
		abs, err := filepath.Abs(*target)
		if err != nil {
			return fmt.Errorf("无法解析目录 %s: %w", *target, err)
		}
		*target = abs
	}
	return nil
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(ByteSize(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return parseByteSize(v)
		case int:
			if v < 0 {
				return nil, fmt.Errorf("容量不能为负数: %d", v)
			}
			return ByteSize(v), nil
		case int64:
			if v < 0 {
				return nil, fmt.Errorf("容量不能为负数: %d", v)
			}
			return ByteSize(v), nil
		case float64:
			if v < 0 {
				return nil, fmt.Errorf("容量不能为负数: %v", v)
			}
			return ByteSize(v), nil
		case ByteSize:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的容量类型: %T", v)
		}
	}
}

func joinPath(base, name string) string {
	if base == "" {
		return name
	}
	return filepath.Join(base, name)
}

func isAbs(path string) bool {
	return filepath.IsAbs(path)
}
