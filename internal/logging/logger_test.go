package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tripcache/tripcache/internal/config"
)

func TestConfigureDefaultsToStdout(t *testing.T) {
	logger, err := InitLogger(config.GlobalConfig{LogLevel: "info"})
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	if logger.Out != os.Stdout {
		t.Fatalf("未指定文件时应输出到 stdout")
	}
}

func TestInitLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := InitLogger(config.GlobalConfig{LogLevel: "loud"}); err == nil {
		t.Fatalf("非法日志级别应报错")
	}
}

func TestInitLoggerFallbackWhenDirectoryUnavailable(t *testing.T) {
	dir := t.TempDir()
	blocked := filepath.Join(dir, "blocked")
	// 普通文件占位，MkdirAll 对任何用户都会失败
	if err := os.WriteFile(blocked, []byte("x"), 0o644); err != nil {
		t.Fatalf("创建占位文件失败: %v", err)
	}

	cfg := config.GlobalConfig{
		LogLevel:    "info",
		LogFilePath: filepath.Join(blocked, "sub", "tripcache.log"),
	}
	logger, err := InitLogger(cfg)
	if err != nil {
		t.Fatalf("初始化不应失败: %v", err)
	}
	if logger.Out != os.Stdout {
		t.Fatalf("fallback 时应退回 stdout")
	}
}

func TestConfigureCreatesRotatingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tripcache.log")
	cfg := config.GlobalConfig{LogLevel: "debug", LogFilePath: path}
	logger, err := InitLogger(cfg)
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	logger.Info("test")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("预期创建日志文件: %v", err)
	}
}

func TestControlFieldsOmitsEmptyCountry(t *testing.T) {
	fields := ControlFields("GET_CACHE_SIZE", "")
	if _, ok := fields["country"]; ok {
		t.Fatalf("country 为空时不应输出: %v", fields)
	}
	fields = ControlFields("DOWNLOAD_COUNTRY_PACK", "JP")
	if fields["country"] != "JP" || fields["action"] != "control" {
		t.Fatalf("unexpected fields: %v", fields)
	}
}

func TestSetLevelOnReload(t *testing.T) {
	logger, err := InitLogger(config.GlobalConfig{LogLevel: "info"})
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	if err := SetLevel(logger, "DEBUG"); err != nil {
		t.Fatalf("调整级别失败: %v", err)
	}
	if logger.GetLevel().String() != "debug" {
		t.Fatalf("期望 debug，得到 %s", logger.GetLevel())
	}
	if err := SetLevel(logger, "chatty"); err == nil {
		t.Fatalf("非法级别应报错")
	}
	if logger.GetLevel().String() != "debug" {
		t.Fatalf("非法级别不应改变当前级别")
	}
}

func TestEmptyLevelDefaultsToInfo(t *testing.T) {
	logger, err := InitLogger(config.GlobalConfig{})
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	if logger.GetLevel().String() != "info" {
		t.Fatalf("空级别应使用 info，得到 %s", logger.GetLevel())
	}
}
