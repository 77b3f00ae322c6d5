package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/tile-hub/tile-hub/internal/config"
	"github.com/tile-hub/tile-hub/internal/fetcher"
	"github.com/tile-hub/tile-hub/internal/logging"
	"github.com/tile-hub/tile-hub/internal/provider"
	"github.com/tile-hub/tile-hub/internal/server"
	"github.com/tile-hub/tile-hub/internal/store"
	"github.com/tile-hub/tile-hub/internal/version"
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
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["providers"] = config.ProviderNames(cfg.Providers)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	registry, err := provider.NewRegistry(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "构建 provider 注册表失败: %v\n", err)
		return 1
	}

	// 启动遵循“配置 → provider 注册表 → SQLite 缓存 → Fetcher → Fiber server”
	// 顺序。缓存打不开时降级为纯网络模式继续服务，而不是拒绝启动。
	tileStore, err := store.Open(cfg.Global.CachePath)
	if err != nil {
		logger.WithError(err).WithFields(logrus.Fields{
			"action":     "cache_open",
			"cache_path": cfg.Global.CachePath,
		}).Warn("缓存不可用，降级为纯网络模式")
		tileStore = nil
	}

	httpClient := server.NewUpstreamClient(cfg)
	waiters := server.NewDispatcher()
	tiles, err := fetcher.New(fetcher.Options{
		Client:    httpClient,
		Store:     tileStore,
		Sink:      waiters,
		Errors:    waiters.HandleError,
		Logger:    logger,
		UserAgent: cfg.Global.UserAgent,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "初始化瓦片抓取器失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["providers"] = config.ProviderNames(cfg.Providers)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["cache_path"] = cfg.Global.CachePath
	fields["cache_enabled"] = tileStore != nil
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, registry, tiles, waiters, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("tile-hub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 TILE_HUB_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("TILE_HUB_CONFIG")
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

func startHTTPServer(
	cfg *config.Config,
	registry *provider.Registry,
	tiles server.TileRequester,
	waiters *server.Dispatcher,
	logger *logrus.Logger,
) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Providers:  registry,
		Tiles:      tiles,
		Waiters:    waiters,
		ListenPort: port,
	})
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
