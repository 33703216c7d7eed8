package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gofiber/fiber/v3"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/any-hub/asset-hub/internal/bundle"
	"github.com/any-hub/asset-hub/internal/cache"
	"github.com/any-hub/asset-hub/internal/config"
	"github.com/any-hub/asset-hub/internal/downloader"
	"github.com/any-hub/asset-hub/internal/fsutil"
	"github.com/any-hub/asset-hub/internal/logging"
	"github.com/any-hub/asset-hub/internal/platform"
	"github.com/any-hub/asset-hub/internal/server"
	"github.com/any-hub/asset-hub/internal/server/routes"
	"github.com/any-hub/asset-hub/internal/transport"
)

// services 持有进程内共享的资源服务实例。
type services struct {
	logger    *logrus.Logger
	files     *fsutil.FS
	transport *transport.Downloader
	index     *cache.Index
	temps     *cache.TempFiles
	router    *downloader.Router
	loader    *bundle.Loader

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// buildServices 按依赖顺序构造服务；子上下文不持有缓存索引与临时文件表。
func buildServices(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*services, error) {
	osFs := afero.NewOsFs()
	caps := platform.FromConfig(cfg.Platform)
	files := fsutil.New(osFs, cfg.Global.AppRoot, logger,
		cfg.Global.StoragePath, cfg.Global.TempPath, cfg.GameConfigPath())

	dl := transport.New(
		transport.OptionsFromConfig(cfg, osFs, logger),
		&transport.HTTPFetcher{Client: transport.NewClient(cfg)},
	)
	if cfg.S3.Enabled() {
		s3Fetcher, err := transport.NewS3Fetcher(ctx, cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("初始化 S3 下载失败: %w", err)
		}
		dl.Register("s3", s3Fetcher)
	}

	svc := &services{logger: logger, files: files, transport: dl}

	var (
		index downloader.Index
		temps *cache.TempFiles
	)
	if caps.ImageStrategy() != platform.StrategySubContext {
		idx, err := cache.NewIndex(cache.Options{
			Fs:            osFs,
			Dir:           cfg.Global.StoragePath,
			ManifestName:  cfg.Global.ManifestName,
			TempDir:       cfg.Global.TempPath,
			SizeLimit:     cfg.Global.CacheSizeLimit.Bytes(),
			FlushInterval: cfg.Global.ManifestFlushInterval.DurationValue(),
			Remote:        dl,
			Logger:        logger,
		})
		if err != nil {
			return nil, fmt.Errorf("构建缓存索引失败: %w", err)
		}
		svc.temps = cache.NewTempFiles()
		idx.OnEvict(svc.temps.Forget())
		if err := idx.Init(ctx); err != nil {
			return nil, fmt.Errorf("初始化缓存索引失败: %w", err)
		}
		svc.index = idx
		index, temps = idx, svc.temps
	}

	orchestrator := downloader.NewOrchestrator(downloader.OrchestratorOptions{
		Resolver:  downloader.NewResolver(caps, index, temps),
		Index:     index,
		Temps:     temps,
		Transport: dl,
		Logger:    logger,
	})

	svc.router = downloader.NewRouter(downloader.RouterOptionsFromConfig(cfg, logger))
	svc.router.Register(downloader.DefaultHandlers(downloader.HandlerDeps{
		FS:           files,
		Orchestrator: orchestrator,
		Index:        index,
		Opener:       dl,
		Images:       &platform.DecoderImageLoader{Fs: osFs},
		Fonts:        &platform.SFNTFontLoader{Fs: osFs, Logger: logger},
		Scripts:      &platform.ModuleHost{Fs: osFs, AppRoot: cfg.Global.AppRoot, Logger: logger},
		Caps:         caps,
		Logger:       logger,
	}))

	subpackages, err := bundle.LoadSubpackages(files, cfg.GameConfigPath())
	if err != nil {
		logger.WithFields(logrus.Fields{
			"action": "load_subpackages",
			"path":   cfg.GameConfigPath(),
		}).Warn("应用清单不可用，按无分包处理")
	}
	svc.loader = bundle.NewLoader(bundle.LoaderOptions{
		Downloader:  svc.router,
		Subpackages: subpackages,
		SubLoader:   &platform.DirSubpackageLoader{Fs: osFs, AppRoot: cfg.Global.AppRoot, Logger: logger},
		Logger:      logger,
	})

	return svc, nil
}

// Start 在后台运行下载调度循环。
func (s *services) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.router.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.WithError(err).Warn("download router stopped")
		}
	}()
}

// Prefetch 预取资源与 bundle，失败只记录日志。
func (s *services) Prefetch(ctx context.Context, urls, roots []string) {
	for _, url := range urls {
		ext := cache.ExtFromURL(url)
		_, err := s.router.Download(ctx, url, url, ext, nil)
		entry := s.logger.WithFields(logging.AssetFields(url, ext, false))
		if err != nil {
			entry.WithError(err).Warn("prefetch failed")
			continue
		}
		entry.Info("prefetch done")
	}
	for _, root := range roots {
		if _, err := s.loader.Load(ctx, root, nil); err != nil {
			s.logger.WithField("root", root).WithError(err).Warn("bundle prefetch failed")
		}
	}
}

// Close 停止调度循环并落盘缓存清单。
func (s *services) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	var result *multierror.Error
	if s.index != nil {
		if err := s.index.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// registerRoutes 挂载诊断接口。
func (s *services) registerRoutes(app *fiber.App) {
	if s.index != nil {
		routes.RegisterCacheRoutes(app, s.index)
	}
	routes.RegisterAssetRoutes(app, s.router)
	routes.RegisterBundleRoutes(app, s.loader)
}

func startHTTPServer(ctx context.Context, cfg *config.Config, svc *services, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	svc.registerRoutes(app)

	go func() {
		<-ctx.Done()
		if err := app.Shutdown(); err != nil {
			logger.WithError(err).Warn("Fiber 服务关闭失败")
		}
	}()

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true})
}
