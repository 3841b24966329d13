package config

import (
	"testing"
	"time"
)

func TestLoadFailsWithMissingFields(t *testing.T) {
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("缺失字段的配置应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
StoragePath = "./data"
Upstream = "https://app.example.com"
PackTTL = "boom"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadAcceptsIntegerSeconds(t *testing.T) {
	cfg := `
StoragePath = "./data"
Upstream = "https://app.example.com"
PackTTL = 3600
StorageBackend = "SQLite"
`
	path := writeTempConfig(t, cfg)
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if loaded.Policy.PackTTL.DurationValue() != time.Hour {
		t.Fatalf("整数秒应解析为 1h, got %s", loaded.Policy.PackTTL.DurationValue())
	}
	if loaded.Global.StorageBackend != "sqlite" {
		t.Fatalf("StorageBackend 应转为小写: %s", loaded.Global.StorageBackend)
	}
	if loaded.Global.GenerationTag != DefaultGenerationTag {
		t.Fatalf("GenerationTag 默认值错误: %s", loaded.Global.GenerationTag)
	}
	if len(loaded.Policy.PackQuoteCurrencies) != 2 {
		t.Fatalf("PackQuoteCurrencies 默认值错误: %v", loaded.Policy.PackQuoteCurrencies)
	}
}
