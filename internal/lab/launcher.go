package lab

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/udprip/udprip/internal/config"
)

// TmuxClient 是编排所需的 tmux 能力面，测试里用假实现替换。
type TmuxClient interface {
	HasSession(name string) (bool, error)
	CreateSession(name string, command []string) error
	CreatePane(target string, command []string) error
	SelectLayout(target, layout string) error
	PipePane(target, command string) error
	KillSession(name string) error
}

// LauncherOptions 聚合 Launcher 的构造参数。
type LauncherOptions struct {
	Topology *config.Topology
	Tmux     TmuxClient
	Logger   *logrus.Logger
}

// Launcher 按拓扑把一组路由器拉起来，tmux 一格一台。
type Launcher struct {
	topo   *config.Topology
	tmux   TmuxClient
	logger *logrus.Logger

	newRunID func() string
}

// NewLauncher 构建 Launcher。tmux 模式必须提供 tmux 客户端。
func NewLauncher(opts LauncherOptions) (*Launcher, error) {
	if opts.Topology == nil {
		return nil, errors.New("topology required")
	}
	if opts.Topology.Global.UseTmux && opts.Tmux == nil {
		return nil, errors.New("tmux client required")
	}
	return &Launcher{
		topo:     opts.Topology,
		tmux:     opts.Tmux,
		logger:   opts.Logger,
		newRunID: uuid.NewString,
	}, nil
}

// Up 物化运行目录并启动全部节点。tmux 模式把节点托管给会话后立即
// 返回；平铺模式阻塞到 ctx 取消或任一节点异常退出。
func (l *Launcher) Up(ctx context.Context) (*Plan, error) {
	plan, err := BuildPlan(l.topo, l.newRunID())
	if err != nil {
		return nil, err
	}
	if _, err := plan.Materialize(); err != nil {
		return nil, err
	}

	if l.logger != nil {
		l.logger.WithFields(logrus.Fields{
			"action":  "lab_started",
			"run_id":  plan.RunID,
			"session": plan.Session,
			"nodes":   len(plan.Nodes),
			"tmux":    plan.UseTmux,
		}).Info("实验启动")
	}

	if plan.UseTmux {
		if err := l.upTmux(plan); err != nil {
			return nil, err
		}
		return plan, nil
	}
	return plan, l.upPlain(ctx, plan)
}

// Down 结束 tmux 会话里的一次实验。
func (l *Launcher) Down() error {
	if !l.topo.Global.UseTmux {
		return errors.New("plain mode runs in the foreground, stop it with ctrl-c")
	}

	session := l.topo.Session()
	exists, err := l.tmux.HasSession(session)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("session %s not found", session)
	}
	if err := l.tmux.KillSession(session); err != nil {
		return err
	}

	if l.logger != nil {
		l.logger.WithFields(logrus.Fields{
			"action":  "lab_stopped",
			"session": session,
		}).Info("实验结束")
	}
	return nil
}

func (l *Launcher) upTmux(plan *Plan) error {
	exists, err := l.tmux.HasSession(plan.Session)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("session %s already exists, run lab down first", plan.Session)
	}

	window := plan.Session + ":0"
	for i, node := range plan.Nodes {
		if i == 0 {
			err = l.tmux.CreateSession(plan.Session, node.Command)
		} else {
			err = l.tmux.CreatePane(window, node.Command)
		}
		if err != nil {
			// 半成品会话比报错更烦人，直接拆掉。
			_ = l.tmux.KillSession(plan.Session)
			return fmt.Errorf("start node %s: %w", node.Address, err)
		}
	}

	// console 输出旁路一份到文件，窗格关掉之后还能复盘。
	for i, node := range plan.Nodes {
		target := fmt.Sprintf("%s:0.%d", plan.Session, i)
		if err := l.tmux.PipePane(target, "cat >> "+shellQuote(node.ConsoleLog)); err != nil {
			l.warn("pipe_pane_failed", node.Address, err)
		}
	}

	if len(plan.Nodes) > 1 {
		if err := l.tmux.SelectLayout(window, "tiled"); err != nil {
			l.warn("select_layout_failed", "", err)
		}
	}
	return nil
}

func (l *Launcher) upPlain(ctx context.Context, plan *Plan) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, node := range plan.Nodes {
		g.Go(func() error {
			return l.runNode(gctx, node)
		})
	}

	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (l *Launcher) runNode(ctx context.Context, node NodePlan) error {
	console, err := os.OpenFile(node.ConsoleLog, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open console log for %s: %w", node.Address, err)
	}
	defer console.Close()

	cmd := exec.CommandContext(ctx, node.Command[0], node.Command[1:]...)
	cmd.Dir = node.Dir
	cmd.Stdout = console
	cmd.Stderr = console
	// ctx 取消时先发 SIGINT 让路由器优雅退出，拖过宽限期再强杀。
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = 5 * time.Second

	if l.logger != nil {
		l.logger.WithFields(logrus.Fields{
			"action":  "node_started",
			"address": node.Address,
		}).Info("节点进程启动")
	}

	if err := cmd.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("node %s exited: %w", node.Address, err)
	}
	return nil
}

func (l *Launcher) warn(action, address string, err error) {
	if l.logger == nil {
		return
	}
	fields := logrus.Fields{"action": action}
	if address != "" {
		fields["address"] = address
	}
	l.logger.WithFields(fields).WithError(err).Warn("实验编排告警")
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
