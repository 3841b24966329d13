package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"168h" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
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

// GlobalConfig 描述进程级运行参数：监听、日志、存储与缓存代际。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoragePath     string   `mapstructure:"StoragePath"`
	StorageBackend  string   `mapstructure:"StorageBackend"`
	GenerationTag   string   `mapstructure:"GenerationTag"`
	Upstream        string   `mapstructure:"Upstream"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
}

// PolicyConfig 决定各类资源的新鲜度参数与国家包组成。
type PolicyConfig struct {
	PackTTL             Duration `mapstructure:"PackTTL"`
	FXStaleAfter        Duration `mapstructure:"FXStaleAfter"`
	PackConcurrency     int      `mapstructure:"PackConcurrency"`
	StaticManifest      []string `mapstructure:"StaticManifest"`
	PackQuoteCurrencies []string `mapstructure:"PackQuoteCurrencies"`
}

// CountryConfig 覆盖内置国家目录中的币种与语言。
type CountryConfig struct {
	Code     string `mapstructure:"Code"`
	Currency string `mapstructure:"Currency"`
	Locale   string `mapstructure:"Locale"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global    GlobalConfig    `mapstructure:",squash"`
	Policy    PolicyConfig    `mapstructure:",squash"`
	Countries []CountryConfig `mapstructure:"Country"`
}

// CountryOverrides 以国家代码为键返回 [[Country]] 配置，便于构建目录。
func (c *Config) CountryOverrides() map[string]CountryConfig {
	if c == nil || len(c.Countries) == 0 {
		return nil
	}
	result := make(map[string]CountryConfig, len(c.Countries))
	for _, country := range c.Countries {
		result[country.Code] = country
	}
	return result
}
