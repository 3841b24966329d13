package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfgPath := testConfigPath(t, "valid.toml")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Policy.PackTTL.DurationValue() != DefaultPackTTL {
		t.Fatalf("PackTTL 应该自动填充默认值, got %s", cfg.Policy.PackTTL.DurationValue())
	}
	if cfg.Policy.FXStaleAfter.DurationValue() != 48*time.Hour {
		t.Fatalf("FXStaleAfter 默认应为 48h")
	}
	if cfg.Global.StoragePath == "" {
		t.Fatalf("StoragePath 应该被保留")
	}
	if cfg.Global.ListenPort != 5000 {
		t.Fatalf("ListenPort 应当被解析")
	}
	if cfg.Global.GenerationTag != "v2.0.0" {
		t.Fatalf("GenerationTag 解析错误: %s", cfg.Global.GenerationTag)
	}
	if cfg.Global.UpstreamTimeout.DurationValue() != 10*time.Second {
		t.Fatalf("UpstreamTimeout 解析错误")
	}
	if cfg.Policy.PackConcurrency != 3 {
		t.Fatalf("PackConcurrency 解析错误: %d", cfg.Policy.PackConcurrency)
	}
}

func TestLoadNormalizesListsAndCountries(t *testing.T) {
	cfg, err := Load(testConfigPath(t, "valid.toml"))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if got := cfg.Policy.StaticManifest; len(got) != 3 || got[1] != "/index.html" {
		t.Fatalf("StaticManifest 应补齐前导斜杠: %v", got)
	}
	if got := cfg.Policy.PackQuoteCurrencies; len(got) != 2 || got[0] != "USD" {
		t.Fatalf("PackQuoteCurrencies 应转为大写: %v", got)
	}
	overrides := cfg.CountryOverrides()
	jp, ok := overrides["JP"]
	if !ok || jp.Currency != "JPY" || jp.Locale != "ja" {
		t.Fatalf("Country 覆盖解析错误: %+v", overrides)
	}
}

func TestValidateRejectsMissingUpstream(t *testing.T) {
	cfgPath := testConfigPath(t, "missing.toml")

	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("不合法的配置应返回错误")
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestStorageBackendValidation(t *testing.T) {
	testCases := []struct {
		name      string
		backend   string
		shouldErr bool
	}{
		{"fs ok", "fs", false},
		{"sqlite ok", "sqlite", false},
		{"unsupported backend", "redis", true},
		{"missing backend", "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Global.StorageBackend = tc.backend
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error for backend %q", tc.backend)
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error for backend %q: %v", tc.backend, err)
			}
		})
	}
}

func TestValidateCountryTables(t *testing.T) {
	testCases := []struct {
		name    string
		country CountryConfig
		field   string
	}{
		{"bad code", CountryConfig{Code: "JPN"}, "Country[JPN].Code"},
		{"bad currency", CountryConfig{Code: "JP", Currency: "YEN!"}, "Country[JP].Currency"},
		{"bad locale", CountryConfig{Code: "JP", Locale: "Japanese"}, "Country[JP].Locale"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Countries = []CountryConfig{tc.country}
			err := cfg.Validate()
			fieldErr, ok := err.(FieldError)
			if !ok {
				t.Fatalf("expected FieldError, got %v", err)
			}
			if fieldErr.Field != tc.field {
				t.Fatalf("expected field %s, got %s", tc.field, fieldErr.Field)
			}
		})
	}
}

func TestValidateRejectsDuplicateCountries(t *testing.T) {
	cfg := validConfig()
	cfg.Countries = []CountryConfig{{Code: "JP"}, {Code: "JP"}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("重复的国家代码应报错")
	}
}

func TestValidateRejectsNonPositivePolicy(t *testing.T) {
	cfg := validConfig()
	cfg.Policy.PackConcurrency = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("PackConcurrency 为 0 应报错")
	}

	cfg = validConfig()
	cfg.Policy.PackTTL = Duration(-time.Second)
	if err := cfg.Validate(); err == nil {
		t.Fatalf("负数 PackTTL 应报错")
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:      5000,
			StoragePath:     "./data",
			StorageBackend:  "fs",
			GenerationTag:   "v1",
			Upstream:        "https://app.example.com",
			UpstreamTimeout: Duration(time.Second),
		},
		Policy: PolicyConfig{
			PackTTL:             Duration(DefaultPackTTL),
			FXStaleAfter:        Duration(DefaultFXStaleAfter),
			PackConcurrency:     2,
			StaticManifest:      []string{"/"},
			PackQuoteCurrencies: []string{"USD"},
		},
	}
}

func TestValidateUpstreamReportsField(t *testing.T) {
	cfg := validConfig()
	cfg.Global.Upstream = "ftp://origin.example.com"
	err := cfg.Validate()

	var fieldErr FieldError
	if !errors.As(err, &fieldErr) {
		t.Fatalf("expected FieldError, got %v", err)
	}
	if fieldErr.Field != "Global.Upstream" || fieldErr.Err == nil {
		t.Fatalf("unexpected field error: %+v", fieldErr)
	}
	if !strings.Contains(err.Error(), "http/https") {
		t.Fatalf("error should keep the cause: %v", err)
	}
}
