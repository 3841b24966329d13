package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/tripcache/tripcache/internal/config"
	"github.com/tripcache/tripcache/internal/logging"
	"github.com/tripcache/tripcache/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

const shutdownTimeout = 30 * time.Second

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := configFields(logging.BaseFields("check_config", opts.configPath), cfg)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序：配置 → 存储 → 策略/目录 → 代理 → Fiber server，
	// 所有请求与控制命令共享同一份存储与代理实例。
	svc, err := newService(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化代理失败: %v\n", err)
		return 1
	}
	defer svc.close()

	fields := configFields(logging.BaseFields("startup", opts.configPath), cfg)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 安装失败只影响离线可用性，不阻止服务启动
	if err := svc.start(ctx); err != nil {
		logger.WithFields(logging.BaseFields("install", opts.configPath)).WithError(err).Warn("初始代际安装不完整")
	}

	go watchSignals(ctx, svc, opts.configPath, logger)

	if err := startHTTPServer(svc.app, cfg.Global.ListenPort, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("tripcache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 TRIPCACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("TRIPCACHE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

func configFields(fields logrus.Fields, cfg *config.Config) logrus.Fields {
	fields["generation_tag"] = cfg.Global.GenerationTag
	fields["storage_backend"] = cfg.Global.StorageBackend
	fields["upstream"] = cfg.Global.Upstream
	fields["static_manifest"] = len(cfg.Policy.StaticManifest)
	fields["countries"] = len(cfg.Countries)
	return fields
}

// watchSignals：SIGHUP 重新加载配置并在代际标签变化时升级；SIGINT/SIGTERM 触发优雅退出。
func watchSignals(ctx context.Context, svc *service, configPath string, logger *logrus.Logger) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGHUP, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-signals:
			if sig == syscall.SIGHUP {
				if err := svc.reload(ctx, configPath); err != nil {
					logger.WithFields(logging.BaseFields("reload", configPath)).WithError(err).Error("配置重载失败")
				}
				continue
			}
			logger.WithFields(logrus.Fields{"action": "shutdown", "signal": sig.String()}).Info("收到退出信号")
			if err := svc.app.ShutdownWithTimeout(shutdownTimeout); err != nil {
				logger.WithError(err).WithField("action", "shutdown").Error("Fiber 服务关闭失败")
			}
			return
		}
	}
}

func startHTTPServer(app *fiber.App, port int, logger *logrus.Logger) error {
	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true})
}
