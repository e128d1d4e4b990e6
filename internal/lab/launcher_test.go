package lab

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/udprip/udprip/internal/config"
)

type fakeTmux struct {
	exists   bool
	failPane bool
	calls    []string
}

func (f *fakeTmux) HasSession(name string) (bool, error) {
	f.calls = append(f.calls, "has-session "+name)
	return f.exists, nil
}

func (f *fakeTmux) CreateSession(name string, command []string) error {
	f.calls = append(f.calls, "new-session "+name+" "+strings.Join(command, " "))
	return nil
}

func (f *fakeTmux) CreatePane(target string, command []string) error {
	if f.failPane {
		return errors.New("pane failed")
	}
	f.calls = append(f.calls, "split-window "+target+" "+strings.Join(command, " "))
	return nil
}

func (f *fakeTmux) SelectLayout(target, layout string) error {
	f.calls = append(f.calls, "select-layout "+target+" "+layout)
	return nil
}

func (f *fakeTmux) PipePane(target, command string) error {
	f.calls = append(f.calls, "pipe-pane "+target)
	return nil
}

func (f *fakeTmux) KillSession(name string) error {
	f.calls = append(f.calls, "kill-session "+name)
	return nil
}

func (f *fakeTmux) countPrefix(prefix string) int {
	n := 0
	for _, call := range f.calls {
		if strings.HasPrefix(call, prefix) {
			n++
		}
	}
	return n
}

func newTestLauncher(t *testing.T, topo *config.Topology, tm *fakeTmux) *Launcher {
	t.Helper()
	launcher, err := NewLauncher(LauncherOptions{Topology: topo, Tmux: tm})
	if err != nil {
		t.Fatalf("NewLauncher 返回错误: %v", err)
	}
	launcher.newRunID = func() string { return "run-1" }
	return launcher
}

func TestLauncherUpTmux(t *testing.T) {
	topo := hubSpokeTopology(t)
	tm := &fakeTmux{}
	launcher := newTestLauncher(t, topo, tm)

	plan, err := launcher.Up(context.Background())
	if err != nil {
		t.Fatalf("Up 返回错误: %v", err)
	}

	if tm.countPrefix("new-session udprip-hubspoke") != 1 {
		t.Fatalf("应当创建一个会话: %v", tm.calls)
	}
	if tm.countPrefix("split-window") != 3 {
		t.Fatalf("四节点应当再开三个窗格: %v", tm.calls)
	}
	if tm.countPrefix("pipe-pane") != 4 {
		t.Fatalf("每个窗格都应旁路 console: %v", tm.calls)
	}
	if tm.countPrefix("select-layout udprip-hubspoke:0 tiled") != 1 {
		t.Fatalf("应当套用 tiled 布局: %v", tm.calls)
	}

	// 会话创建前配置必须已经就位。
	if _, err := os.Stat(plan.Nodes[0].ConfigPath); err != nil {
		t.Fatalf("节点配置未物化: %v", err)
	}
	if _, err := os.Stat(filepath.Join(plan.Root, "127.0.1.2", "startup.cmds")); err != nil {
		t.Fatalf("启动指令未物化: %v", err)
	}
}

func TestLauncherUpRefusesDuplicateSession(t *testing.T) {
	topo := hubSpokeTopology(t)
	tm := &fakeTmux{exists: true}
	launcher := newTestLauncher(t, topo, tm)

	_, err := launcher.Up(context.Background())
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("重名会话应当拒绝启动: %v", err)
	}
	if tm.countPrefix("new-session") != 0 {
		t.Fatalf("拒绝后不应创建会话: %v", tm.calls)
	}
}

func TestLauncherPaneFailureTearsDownSession(t *testing.T) {
	topo := hubSpokeTopology(t)
	tm := &fakeTmux{failPane: true}
	launcher := newTestLauncher(t, topo, tm)

	if _, err := launcher.Up(context.Background()); err == nil {
		t.Fatalf("窗格失败应当报错")
	}
	if tm.countPrefix("kill-session") != 1 {
		t.Fatalf("半成品会话应当被拆除: %v", tm.calls)
	}
}

func TestLauncherDown(t *testing.T) {
	topo := hubSpokeTopology(t)
	tm := &fakeTmux{exists: true}
	launcher := newTestLauncher(t, topo, tm)

	if err := launcher.Down(); err != nil {
		t.Fatalf("Down 返回错误: %v", err)
	}
	if tm.countPrefix("kill-session udprip-hubspoke") != 1 {
		t.Fatalf("应当结束会话: %v", tm.calls)
	}
}

func TestLauncherDownMissingSession(t *testing.T) {
	topo := hubSpokeTopology(t)
	tm := &fakeTmux{exists: false}
	launcher := newTestLauncher(t, topo, tm)

	if err := launcher.Down(); err == nil {
		t.Fatalf("会话不存在应当报错")
	}
}

func TestNewLauncherRequiresTmuxClient(t *testing.T) {
	topo := hubSpokeTopology(t)
	if _, err := NewLauncher(LauncherOptions{Topology: topo}); err == nil {
		t.Fatalf("tmux 模式缺少客户端应当报错")
	}
}

func writeFakeNode(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.sh")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("写入脚本失败: %v", err)
	}
	return path
}

func TestLauncherPlainStopsOnCancel(t *testing.T) {
	topo := hubSpokeTopology(t)
	topo.Global.UseTmux = false
	topo.Global.Binary = writeFakeNode(t, "#!/bin/sh\necho up\nsleep 30\n")

	launcher, err := NewLauncher(LauncherOptions{Topology: topo})
	if err != nil {
		t.Fatalf("NewLauncher 返回错误: %v", err)
	}
	launcher.newRunID = func() string { return "run-1" }

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	plan, err := launcher.Up(ctx)
	if err != nil {
		t.Fatalf("取消应当算正常收尾: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("节点未随取消退出: %v", elapsed)
	}

	// console 输出应当落盘。
	data, err := os.ReadFile(plan.Nodes[0].ConsoleLog)
	if err != nil {
		t.Fatalf("console 日志缺失: %v", err)
	}
	if !strings.Contains(string(data), "up") {
		t.Fatalf("console 日志内容不符: %q", data)
	}
}

func TestLauncherPlainPropagatesNodeFailure(t *testing.T) {
	topo := hubSpokeTopology(t)
	topo.Global.UseTmux = false
	topo.Global.Binary = writeFakeNode(t, "#!/bin/sh\nexit 7\n")

	launcher, err := NewLauncher(LauncherOptions{Topology: topo})
	if err != nil {
		t.Fatalf("NewLauncher 返回错误: %v", err)
	}
	launcher.newRunID = func() string { return "run-1" }

	_, err = launcher.Up(context.Background())
	if err == nil || !strings.Contains(err.Error(), "exited") {
		t.Fatalf("节点异常退出应当上抛: %v", err)
	}
}
