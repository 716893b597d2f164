package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
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

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述进程级运行参数：监听端口、日志与磁盘缓存位置。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoragePath     string   `mapstructure:"StoragePath"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
}

// AppConfig 描述被缓存的 Web 应用：上游 origin、构建清单位置以及三个缓存分区的名称。
type AppConfig struct {
	Name             string   `mapstructure:"Name"`
	Domain           string   `mapstructure:"Domain"`
	Origin           string   `mapstructure:"Origin"`
	Proxy            string   `mapstructure:"Proxy"`
	BuildFile        string   `mapstructure:"BuildFile"`
	CoreFiles        []string `mapstructure:"CoreFiles"`
	WatchBuild       bool     `mapstructure:"WatchBuild"`
	WatchDebounce    Duration `mapstructure:"WatchDebounce"`
	FetchConcurrency int      `mapstructure:"FetchConcurrency"`
	TempCache        string   `mapstructure:"TempCache"`
	ContentCache     string   `mapstructure:"ContentCache"`
	ManifestCache    string   `mapstructure:"ManifestCache"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	App    AppConfig    `mapstructure:"App"`
}

// PartitionNames 汇总三个缓存分区的名称。
type PartitionNames struct {
	Temp     string
	Content  string
	Manifest string
}

// Partitions 返回 App 配置中的分区名称（假定默认值已填充）。
func (a AppConfig) Partitions() PartitionNames {
	return PartitionNames{
		Temp:     a.TempCache,
		Content:  a.ContentCache,
		Manifest: a.ManifestCache,
	}
}

// ProxyMode 输出 `direct` 或 `proxied`，供日志字段使用。
func (a AppConfig) ProxyMode() string {
	if strings.TrimSpace(a.Proxy) != "" {
		return "proxied"
	}
	return "direct"
}
