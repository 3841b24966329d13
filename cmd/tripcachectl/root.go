package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tripcache/tripcache/internal/config"
	"github.com/tripcache/tripcache/internal/control"
	"github.com/tripcache/tripcache/internal/coordinator"
	"github.com/tripcache/tripcache/internal/version"
)

const (
	defaultProxyURL = "http://127.0.0.1:5000"
	defaultTimeout  = 2 * time.Minute
)

// env 收拢命令运行所需的外部依赖，测试时替换。
type env struct {
	out        io.Writer
	newChannel func(proxyURL string, timeout time.Duration) control.Channel
	httpClient func(timeout time.Duration) *http.Client
	now        func() time.Time
}

func defaultEnv() *env {
	return &env{
		out: os.Stdout,
		newChannel: func(proxyURL string, timeout time.Duration) control.Channel {
			ch := control.NewHTTPChannel(proxyURL)
			ch.Client.Timeout = timeout
			return ch
		},
		httpClient: func(timeout time.Duration) *http.Client {
			return &http.Client{Timeout: timeout}
		},
		now: time.Now,
	}
}

// settings 是从 flag 与 TRIPCACHE_* 环境变量合并后的配置。
type settings struct {
	ProxyURL   string
	StatePath  string
	Timeout    time.Duration
	StaleAfter time.Duration
}

func newRootCmd(e *env) *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:           "tripcachectl",
		Short:         "Manage offline country packs of a running tripcache proxy.",
		Version:       version.Full(),
		SilenceErrors: true,
		SilenceUsage:  true,
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}
	root.SetOut(e.out)

	flags := root.PersistentFlags()
	flags.String("proxy", defaultProxyURL, "base URL of the tripcache proxy")
	flags.String("state", defaultStatePath(), "pack state file")
	flags.Duration("timeout", defaultTimeout, "timeout for a single command")
	flags.Duration("stale-after", coordinator.DefaultStaleAfter, "age after which a rate is flagged stale")
	flags.String("config", "", "tripcache config file; supplies the listen port and FX staleness")

	v.SetEnvPrefix("TRIPCACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindPFlags(flags)

	load := func() (settings, error) {
		s := settings{
			ProxyURL:   strings.TrimRight(v.GetString("proxy"), "/"),
			StatePath:  v.GetString("state"),
			Timeout:    v.GetDuration("timeout"),
			StaleAfter: v.GetDuration("stale-after"),
		}
		path := v.GetString("config")
		if path == "" {
			return s, nil
		}
		cfg, err := config.Load(path)
		if err != nil {
			return settings{}, err
		}
		// 显式 flag 或环境变量优先于配置文件
		if !flags.Changed("proxy") && os.Getenv("TRIPCACHE_PROXY") == "" {
			s.ProxyURL = fmt.Sprintf("http://127.0.0.1:%d", cfg.Global.ListenPort)
		}
		if !flags.Changed("stale-after") && os.Getenv("TRIPCACHE_STALE_AFTER") == "" {
			s.StaleAfter = cfg.Policy.FXStaleAfter.DurationValue()
		}
		return s, nil
	}

	root.AddCommand(
		newPackCmd(e, load),
		newUsageCmd(e, load),
		newRateCmd(e, load),
	)
	return root
}

func (e *env) coordinator(s settings) (*coordinator.Coordinator, error) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return coordinator.New(coordinator.Options{
		Channel:   e.newChannel(s.ProxyURL, s.Timeout),
		StatePath: s.StatePath,
		Logger:    logger,
		Clock:     e.now,
	})
}

func commandContext(cmd *cobra.Command, s settings) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.Timeout)
}

func defaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(".tripcache", "packs.yaml")
	}
	return filepath.Join(home, ".tripcache", "packs.yaml")
}
