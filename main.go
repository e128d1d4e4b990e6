package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/udprip/udprip/internal/api"
	"github.com/udprip/udprip/internal/api/routes"
	"github.com/udprip/udprip/internal/config"
	"github.com/udprip/udprip/internal/console"
	"github.com/udprip/udprip/internal/logging"
	"github.com/udprip/udprip/internal/metrics"
	"github.com/udprip/udprip/internal/router"
	"github.com/udprip/udprip/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath     string
	configExplicit bool
	checkOnly      bool
	showVersion    bool

	address     string
	period      time.Duration
	startupPath string
}

var (
	stdIn  io.Reader = os.Stdin
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

const shutdownGrace = 5 * time.Second

func main() {
	args := os.Args[1:]
	if len(args) > 0 && args[0] == "lab" {
		os.Exit(runLab(args[1:]))
	}

	opts, err := parseCLIFlags(args)
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

	cfg, err := loadConfig(opts)
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
		fields["port"] = cfg.Global.Port
		fields["update_period"] = cfg.Global.UpdatePeriod.DurationValue().String()
		fields["aging_factor"] = cfg.Global.AgingFactor
		if opts.address != "" {
			normalized, err := config.ValidateAddress(opts.address)
			if err != nil {
				fmt.Fprintf(stdErr, "地址校验失败: %v\n", err)
				return 1
			}
			fields["address"] = normalized
		}
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	if opts.address == "" {
		fmt.Fprintln(stdErr, "usage: udprip [flags] <address> [period-seconds] [startup-file]")
		return 2
	}

	period := cfg.EffectivePeriod(config.Duration(opts.period))
	node, err := router.NewNode(router.Options{
		Address:     opts.address,
		Port:        cfg.Global.Port,
		Period:      period,
		AgingWindow: cfg.AgingWindow(period),
		Logger:      logger,
		Metrics:     metrics.New(),
		Console:     stdOut,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "构建路由器失败: %v\n", err)
		return 1
	}

	// 信号触发的收尾和 console quit 共用一个 cancel。
	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(signalCtx)
	defer cancel()

	if err := node.Start(ctx); err != nil {
		fmt.Fprintf(stdErr, "启动路由器失败: %v\n", err)
		return 1
	}

	apiShutdown, err := startDiagnostics(cfg, node, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "启动诊断服务失败: %v\n", err)
		_ = node.Stop(shutdownGrace)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["address"] = opts.address
	fields["port"] = cfg.Global.Port
	fields["update_period"] = period.String()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	cons := console.New(node, stdOut, logger, cancel)
	if opts.startupPath != "" {
		if err := cons.PlayScript(opts.startupPath); err != nil {
			fmt.Fprintf(stdErr, "执行启动脚本失败: %v\n", err)
			_ = node.Stop(shutdownGrace)
			return 1
		}
		if cfg.Global.FollowStartup {
			go func() {
				if err := cons.Follow(ctx, opts.startupPath); err != nil {
					logger.WithFields(logrus.Fields{
						"action": "follow_startup",
						"path":   opts.startupPath,
					}).WithError(err).Warn("脚本跟随退出")
				}
			}()
		}
	}

	consoleDone := make(chan error, 1)
	go func() { consoleDone <- cons.Run(ctx, stdIn) }()

	select {
	case <-ctx.Done():
	case err := <-consoleDone:
		if err != nil {
			logger.WithFields(logging.RouterFields("console_failed", opts.address)).
				WithError(err).Warn("console 会话异常结束")
		}
		// stdin 到头（比如后台运行）不代表退出，继续守护到信号或 quit。
		<-ctx.Done()
	}

	if err := node.Stop(shutdownGrace); err != nil {
		logger.WithFields(logging.RouterFields("shutdown", opts.address)).
			WithError(err).Warn("路由器未能干净退出")
	}
	if apiShutdown != nil {
		apiShutdown()
	}

	logger.WithFields(logging.RouterFields("shutdown", opts.address)).Info("路由器已退出")
	return 0
}

// loadConfig 读取配置。显式指定的文件必须存在，默认路径缺失时回退内置默认值。
func loadConfig(opts cliOptions) (*config.Config, error) {
	if opts.configExplicit {
		return config.Load(opts.configPath)
	}
	return config.LoadOrDefault(opts.configPath)
}

// startDiagnostics 启动 Fiber 诊断服务，返回收尾函数。ApiPort 为 0 表示关闭。
func startDiagnostics(cfg *config.Config, node *router.Node, logger *logrus.Logger) (func(), error) {
	if cfg.Global.ApiPort <= 0 {
		return nil, nil
	}

	app, err := api.NewApp(api.AppOptions{
		Logger:     logger,
		Node:       node,
		ListenPort: cfg.Global.ApiPort,
	})
	if err != nil {
		return nil, err
	}
	routes.RegisterDiagnostics(app, node, node.Metrics(), logger)

	// 绑定节点自身地址：lab 里多节点同机时互不可见对方的诊断面。
	addr := net.JoinHostPort(node.Address(), strconv.Itoa(cfg.Global.ApiPort))
	go func() {
		logger.WithFields(logrus.Fields{
			"action": "listen",
			"addr":   addr,
		}).Info("诊断服务启动")
		if err := app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
			logger.WithFields(logrus.Fields{"action": "listen"}).
				WithError(err).Error("诊断服务退出")
		}
	}()

	return func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancelShutdown()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logger.WithFields(logrus.Fields{"action": "shutdown"}).
				WithError(err).Warn("诊断服务未能干净退出")
		}
	}, nil
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("udprip", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 UDPRIP_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	opts := cliOptions{
		checkOnly:   checkOnly,
		showVersion: showVer,
	}

	opts.configPath = os.Getenv("UDPRIP_CONFIG")
	if configFlag != "" {
		opts.configPath = configFlag
	}
	opts.configExplicit = opts.configPath != ""
	if opts.configPath == "" {
		opts.configPath = "config.toml"
	}

	rest := fs.Args()
	if len(rest) > 3 {
		return cliOptions{}, fmt.Errorf("多余的参数: %v", rest[3:])
	}
	if len(rest) > 0 {
		opts.address = rest[0]
	}
	if len(rest) > 1 {
		seconds, err := strconv.ParseFloat(rest[1], 64)
		if err != nil || seconds <= 0 {
			return cliOptions{}, fmt.Errorf("广播周期必须是正数秒: %q", rest[1])
		}
		opts.period = time.Duration(seconds * float64(time.Second))
	}
	if len(rest) > 2 {
		opts.startupPath = rest[2]
	}

	return opts, nil
}
