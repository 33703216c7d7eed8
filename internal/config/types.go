package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tunabay/go-infounit"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// ByteSize 表示缓存容量等字节数配置，支持 "200MB"、"1GiB" 或纯字节整数。
type ByteSize infounit.ByteCount

// UnmarshalText 解析容量字符串。
func (b *ByteSize) UnmarshalText(text []byte) error {
	parsed, err := parseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// Bytes 返回 int64 字节数。
func (b ByteSize) Bytes() int64 {
	return int64(b)
}

// ByteCount 返回 infounit 类型，便于日志以 %.1S 输出。
func (b ByteSize) ByteCount() infounit.ByteCount {
	return infounit.ByteCount(b)
}

func parseByteSize(raw string) (ByteSize, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if intVal, err := parseInt(raw); err == nil {
		if intVal < 0 {
			return 0, fmt.Errorf("invalid byte size: %s", raw)
		}
		return ByteSize(intVal), nil
	}
	count, err := infounit.ParseByteCount(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size: %s", raw)
	}
	return ByteSize(count), nil
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述全局运行时行为：日志、应用目录、缓存目录与下载调度参数。
type GlobalConfig struct {
	ListenPort            int      `mapstructure:"ListenPort"`
	LogLevel              string   `mapstructure:"LogLevel"`
	LogFilePath           string   `mapstructure:"LogFilePath"`
	LogMaxSize            int      `mapstructure:"LogMaxSize"`
	LogMaxBackups         int      `mapstructure:"LogMaxBackups"`
	LogCompress           bool     `mapstructure:"LogCompress"`
	AppRoot               string   `mapstructure:"AppRoot"`
	GameConfig            string   `mapstructure:"GameConfig"`
	StoragePath           string   `mapstructure:"StoragePath"`
	TempPath              string   `mapstructure:"TempPath"`
	ManifestName          string   `mapstructure:"ManifestName"`
	CacheSizeLimit        ByteSize `mapstructure:"CacheSizeLimit"`
	ManifestFlushInterval Duration `mapstructure:"ManifestFlushInterval"`
	MaxConcurrent         int      `mapstructure:"MaxConcurrent"`
	MaxRequestsPerTick    int      `mapstructure:"MaxRequestsPerTick"`
	TickInterval          Duration `mapstructure:"TickInterval"`
	DownloadTimeout       Duration `mapstructure:"DownloadTimeout"`
	MaxRetries            int      `mapstructure:"MaxRetries"`
	InitialBackoff        Duration `mapstructure:"InitialBackoff"`
}

// PlatformConfig 描述宿主平台能力，启动时一次性决定图片加载策略等行为。
type PlatformConfig struct {
	OS             string `mapstructure:"OS"`
	SubContext     bool   `mapstructure:"SubContext"`
	SubContextRoot string `mapstructure:"SubContextRoot"`
	WebP           bool   `mapstructure:"WebP"`
}

// S3Config 配置 s3:// 远程资源的访问方式，Region 为空时不启用 S3 下载。
type S3Config struct {
	Region       string `mapstructure:"Region"`
	Endpoint     string `mapstructure:"Endpoint"`
	AccessKey    string `mapstructure:"AccessKey"`
	SecretKey    string `mapstructure:"SecretKey"`
	UsePathStyle bool   `mapstructure:"UsePathStyle"`
}

// Enabled 表示是否配置了 S3 访问。
func (s S3Config) Enabled() bool {
	return strings.TrimSpace(s.Region) != ""
}

// HasCredentials 表示是否显式配置了静态凭证。
func (s S3Config) HasCredentials() bool {
	return s.AccessKey != "" && s.SecretKey != ""
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global   GlobalConfig   `mapstructure:",squash"`
	Platform PlatformConfig `mapstructure:"Platform"`
	S3       S3Config       `mapstructure:"S3"`
}

// ManifestPath 返回缓存清单文件的绝对路径。
func (c *Config) ManifestPath() string {
	return joinPath(c.Global.StoragePath, c.Global.ManifestName)
}

// GameConfigPath 返回应用清单（game.json）路径，相对路径以 AppRoot 为基准。
func (c *Config) GameConfigPath() string {
	if isAbs(c.Global.GameConfig) {
		return c.Global.GameConfig
	}
	return joinPath(c.Global.AppRoot, c.Global.GameConfig)
}
