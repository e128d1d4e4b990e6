package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/udprip/udprip/internal/config"
	"github.com/udprip/udprip/internal/lab"
	"github.com/udprip/udprip/internal/lab/tmux"
	"github.com/udprip/udprip/internal/logging"
)

// runLab 实现 lab 子命令：按拓扑拉起/检查/结束一组路由器。
//
//	udprip lab [-config lab.toml] [-check]
//	udprip lab [-config lab.toml] down
func runLab(args []string) int {
	fs := flag.NewFlagSet("udprip lab", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
	)
	fs.StringVar(&configFlag, "config", "", "拓扑文件路径（默认 ./lab.toml，可被 UDPRIP_LAB_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check", false, "只打印启动计划，不实际执行")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(stdErr, "解析参数失败: %v\n", err)
		return 2
	}

	down := false
	switch rest := fs.Args(); {
	case len(rest) == 0:
	case len(rest) == 1 && rest[0] == "down":
		down = true
	default:
		fmt.Fprintf(stdErr, "未知的 lab 参数: %v\n", fs.Args())
		return 2
	}

	path := os.Getenv("UDPRIP_LAB_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "lab.toml"
	}

	topo, err := config.LoadTopology(path)
	if err != nil {
		fmt.Fprintf(stdErr, "加载拓扑失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(config.GlobalConfig{LogLevel: topo.Global.LogLevel})
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if checkOnly {
		plan, err := lab.BuildPlan(topo, "preview")
		if err != nil {
			fmt.Fprintf(stdErr, "生成启动计划失败: %v\n", err)
			return 1
		}
		plan.Print(stdOut)
		return 0
	}

	var client lab.TmuxClient
	if topo.Global.UseTmux {
		if !tmux.Available() {
			fmt.Fprintln(stdErr, "找不到 tmux，请安装或在拓扑里设置 UseTmux = false")
			return 1
		}
		client = tmux.NewClient()
	}

	launcher, err := lab.NewLauncher(lab.LauncherOptions{
		Topology: topo,
		Tmux:     client,
		Logger:   logger,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "构建编排器失败: %v\n", err)
		return 1
	}

	if down {
		if err := launcher.Down(); err != nil {
			fmt.Fprintf(stdErr, "结束实验失败: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdOut, "实验已结束")
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	plan, err := launcher.Up(ctx)
	if err != nil {
		fmt.Fprintf(stdErr, "启动实验失败: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdOut, "工作目录 %s\n", plan.Root)
	if plan.UseTmux {
		fmt.Fprintf(stdOut, "已在 tmux 会话 %s 启动 %d 个节点，执行:\n", plan.Session, len(plan.Nodes))
		fmt.Fprintf(stdOut, "  tmux attach -t %s\n", plan.Session)
		fmt.Fprintf(stdOut, "结束实验: udprip lab -config %s down\n", path)
	}
	return 0
}
