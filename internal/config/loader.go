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
)

// 默认值集中定义，Load 与 applyDefaults 共用。
const (
	DefaultListenPort      = 5000
	DefaultGenerationTag   = "v1"
	DefaultPackTTL         = 7 * 24 * time.Hour
	DefaultFXStaleAfter    = 48 * time.Hour
	DefaultPackConcurrency = 4
	DefaultUpstreamTimeout = 30 * time.Second
)

var (
	defaultStaticManifest      = []string{"/", "/index.html", "/manifest.json"}
	defaultPackQuoteCurrencies = []string{"USD", "EUR"}
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
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyPolicyDefaults(&cfg.Policy)
	for i := range cfg.Countries {
		normalizeCountry(&cfg.Countries[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", DefaultListenPort)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("StorageBackend", "fs")
	v.SetDefault("GenerationTag", DefaultGenerationTag)
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("PackTTL", "168h")
	v.SetDefault("FXStaleAfter", "48h")
	v.SetDefault("PackConcurrency", DefaultPackConcurrency)
	v.SetDefault("StaticManifest", defaultStaticManifest)
	v.SetDefault("PackQuoteCurrencies", defaultPackQuoteCurrencies)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = DefaultListenPort
	}
	g.StorageBackend = strings.ToLower(strings.TrimSpace(g.StorageBackend))
	if g.StorageBackend == "" {
		g.StorageBackend = "fs"
	}
	g.GenerationTag = strings.TrimSpace(g.GenerationTag)
	if g.GenerationTag == "" {
		g.GenerationTag = DefaultGenerationTag
	}
	g.Upstream = strings.TrimRight(strings.TrimSpace(g.Upstream), "/")
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(DefaultUpstreamTimeout)
	}
}

func applyPolicyDefaults(p *PolicyConfig) {
	if p.PackTTL.DurationValue() == 0 {
		p.PackTTL = Duration(DefaultPackTTL)
	}
	if p.FXStaleAfter.DurationValue() == 0 {
		p.FXStaleAfter = Duration(DefaultFXStaleAfter)
	}
	if p.PackConcurrency == 0 {
		p.PackConcurrency = DefaultPackConcurrency
	}
	if p.StaticManifest == nil {
		p.StaticManifest = append([]string(nil), defaultStaticManifest...)
	}
	for i, entry := range p.StaticManifest {
		entry = strings.TrimSpace(entry)
		if entry != "" && !strings.HasPrefix(entry, "/") {
			entry = "/" + entry
		}
		p.StaticManifest[i] = entry
	}
	if p.PackQuoteCurrencies == nil {
		p.PackQuoteCurrencies = append([]string(nil), defaultPackQuoteCurrencies...)
	}
	for i, currency := range p.PackQuoteCurrencies {
		p.PackQuoteCurrencies[i] = strings.ToUpper(strings.TrimSpace(currency))
	}
}

func normalizeCountry(c *CountryConfig) {
	c.Code = strings.ToUpper(strings.TrimSpace(c.Code))
	c.Currency = strings.ToUpper(strings.TrimSpace(c.Currency))
	c.Locale = strings.ToLower(strings.TrimSpace(c.Locale))
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
