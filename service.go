package main

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/tripcache/tripcache/internal/cache"
	"github.com/tripcache/tripcache/internal/config"
	"github.com/tripcache/tripcache/internal/logging"
	"github.com/tripcache/tripcache/internal/policy"
	"github.com/tripcache/tripcache/internal/proxy"
	"github.com/tripcache/tripcache/internal/server"
	"github.com/tripcache/tripcache/internal/server/routes"
)

// service 组装一个进程内的全部组件。
type service struct {
	logger  *logrus.Logger
	storage cache.Storage
	proxy   *proxy.Proxy
	app     *fiber.App
}

func newService(cfg *config.Config, logger *logrus.Logger) (*service, error) {
	storage, err := cache.NewStorage(cfg.Global.StorageBackend, cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存存储失败: %w", err)
	}

	engine := policy.NewEngine(policy.Options{
		StaticManifest: cfg.Policy.StaticManifest,
		PackTTL:        cfg.Policy.PackTTL.DurationValue(),
	})
	catalog := policy.NewCatalog(catalogOverrides(cfg), cfg.Policy.PackQuoteCurrencies)

	fetcher, err := proxy.NewHTTPFetcher(server.NewUpstreamClient(cfg), cfg.Global.Upstream)
	if err != nil {
		_ = storage.Close()
		return nil, err
	}

	p, err := proxy.New(proxy.Options{
		Storage:         storage,
		Engine:          engine,
		Catalog:         catalog,
		Fetcher:         fetcher,
		Logger:          logger,
		GenerationTag:   cfg.Global.GenerationTag,
		PackConcurrency: cfg.Policy.PackConcurrency,
	})
	if err != nil {
		_ = storage.Close()
		return nil, err
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Proxy:      proxy.NewHandler(p, logger),
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		_ = storage.Close()
		return nil, err
	}
	routes.RegisterStatusRoutes(app, p)
	routes.RegisterControlRoutes(app, p, logger)

	return &service{logger: logger, storage: storage, proxy: p, app: app}, nil
}

func catalogOverrides(cfg *config.Config) map[policy.PackID]policy.Country {
	overrides := make(map[policy.PackID]policy.Country)
	for code, country := range cfg.CountryOverrides() {
		overrides[policy.PackID(code)] = policy.Country{Currency: country.Currency, Locale: country.Locale}
	}
	return overrides
}

// start 安装并激活配置中的初始代际。
func (s *service) start(ctx context.Context) error {
	return s.proxy.Start(ctx)
}

// reload 重新读取配置；只有 GenerationTag 与 LogLevel 可以热更新，其余变更需要重启。
func (s *service) reload(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	fields := logging.BaseFields("reload", configPath)
	fields["generation_tag"] = cfg.Global.GenerationTag
	fields["previous_tag"] = s.proxy.GenerationTag()

	if err := logging.SetLevel(s.logger, cfg.Global.LogLevel); err != nil {
		s.logger.WithFields(fields).WithError(err).Warn("日志级别未更新")
	}
	if cfg.Global.GenerationTag == s.proxy.GenerationTag() {
		s.logger.WithFields(fields).Info("代际未变化，跳过升级")
		return nil
	}
	if err := s.proxy.Upgrade(ctx, cfg.Global.GenerationTag); err != nil {
		if s.proxy.GenerationTag() != cfg.Global.GenerationTag {
			return err
		}
		s.logger.WithFields(fields).WithError(err).Warn("代际升级不完整")
		return nil
	}
	s.logger.WithFields(fields).Info("代际升级完成")
	return nil
}

func (s *service) close() error {
	s.proxy.Wait()
	return s.storage.Close()
}
