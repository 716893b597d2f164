package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/config"
	"github.com/any-hub/shellcache/internal/logging"
	"github.com/any-hub/shellcache/internal/manifest"
	"github.com/any-hub/shellcache/internal/proxy"
	"github.com/any-hub/shellcache/internal/server"
	"github.com/any-hub/shellcache/internal/server/routes"
	"github.com/any-hub/shellcache/internal/version"
	"github.com/any-hub/shellcache/internal/watch"
	"github.com/any-hub/shellcache/internal/worker"
)

const serviceName = "shellcache"

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

	logger, err := logging.InitLogger(cfg.Global, serviceName)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	build, err := loadBuild(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "加载构建清单失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["app"] = cfg.App.Name
		fields["resources"] = len(build.Resources)
		fields["core_files"] = len(build.Core)
		fields["build_version"] = build.VersionLabel()
		fields["proxy_mode"] = cfg.App.ProxyMode()
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序：配置 → 磁盘缓存 → 上游客户端 → worker 注册 → Fiber server，
	// 所有请求与生命周期步骤共享同一份缓存与 http.Client。
	store, err := cache.NewStore(cfg.Global.StoragePath)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存目录失败: %v\n", err)
		return 1
	}

	httpClient, err := server.NewUpstreamClient(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化上游客户端失败: %v\n", err)
		return 1
	}
	upstream, err := proxy.NewUpstream(httpClient, cfg.App.Origin)
	if err != nil {
		fmt.Fprintf(stdErr, "解析源站地址失败: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registration := worker.NewRegistration(newWorkerFactory(cfg, store, upstream, logger), logger)
	if err := registration.Update(ctx, build); err != nil {
		// 安装失败不阻止启动：没有激活 worker 时请求全部透传到源站。
		logger.WithError(err).WithFields(logging.BaseFields("install", opts.configPath)).Error("初始安装失败")
	}

	if cfg.App.WatchBuild {
		go watchBuild(ctx, cfg, registration, logger)
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["app"] = cfg.App.Name
	fields["origin"] = cfg.App.Origin
	fields["listen_port"] = cfg.Global.ListenPort
	fields["proxy_mode"] = cfg.App.ProxyMode()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	handler := proxy.NewHandler(registration, upstream, logger, cfg.App.Name)
	if err := startHTTPServer(cfg, registration, handler, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet(serviceName, flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 SHELLCACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置与构建清单后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("SHELLCACHE_CONFIG")
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

// loadBuild 读取构建清单；配置中的 CoreFiles 覆盖清单自带的 shell 列表。
func loadBuild(cfg *config.Config) (manifest.Build, error) {
	build, err := manifest.LoadBuild(cfg.App.BuildFile)
	if err != nil {
		return manifest.Build{}, err
	}
	build = build.WithCore(cfg.App.CoreFiles)
	if err := build.Validate(); err != nil {
		return manifest.Build{}, err
	}
	return build, nil
}

func newWorkerFactory(cfg *config.Config, store cache.Store, fetcher worker.Fetcher, logger *logrus.Logger) worker.Factory {
	names := cfg.App.Partitions()
	scope := server.ScopeOrigin(cfg.App.Domain, cfg.Global.ListenPort)
	return func(build manifest.Build) (*worker.Worker, error) {
		return worker.New(worker.Options{
			Build:   build,
			Store:   store,
			Fetcher: fetcher,
			Logger:  logger,
			Partitions: worker.Partitions{
				Temp:     names.Temp,
				Content:  names.Content,
				Manifest: names.Manifest,
			},
			Scope:       scope,
			Concurrency: cfg.App.FetchConcurrency,
		})
	}
}

// watchBuild 在构建文件变化后重新加载并触发 Update；摘要未变时 Update 不做任何事。
func watchBuild(ctx context.Context, cfg *config.Config, registration *worker.Registration, logger *logrus.Logger) {
	reload := func() {
		build, err := loadBuild(cfg)
		if err != nil {
			logger.WithError(err).WithField("action", "reload").Warn("构建清单无效，保留当前版本")
			return
		}
		if err := registration.Update(ctx, build); err != nil {
			logger.WithError(err).WithField("action", "reload").Error("新版本安装失败")
		}
	}
	if err := watch.Watch(ctx, cfg.App.BuildFile, cfg.App.WatchDebounce.DurationValue(), logger, reload); err != nil {
		logger.WithError(err).WithField("action", "watch").Error("构建文件监听失败")
	}
}

func startHTTPServer(cfg *config.Config, registration *worker.Registration, proxyHandler server.ProxyHandler, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Proxy:      proxyHandler,
		ListenPort: port,
		Domain:     cfg.App.Domain,
	})
	if err != nil {
		return err
	}
	routes.RegisterLifecycleRoutes(app, registration, logger)

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
