package lab

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/udprip/udprip/internal/config"
)

// NodePlan 描述一个节点的启动方式与落盘位置。
type NodePlan struct {
	Address      string
	Period       time.Duration
	ApiPort      int
	Dir          string
	ConfigPath   string
	StartupPath  string
	StartupLines []string
	ConsoleLog   string
	Command      []string
}

// Plan 是一次实验的完整启动计划。BuildPlan 只做计算不碰磁盘，
// -check 模式因此可以安全地打印计划。
type Plan struct {
	Session       string
	RunID         string
	WorkspaceBase string
	Root          string
	UseTmux       bool
	Binary        string
	Port          int
	UpdatePeriod  time.Duration
	AgingFactor   int
	LogLevel      string
	Nodes         []NodePlan
}

// BuildPlan 把拓扑展开成启动计划。Binary 缺省取当前可执行文件，
// 即 lab 子命令和路由器共用同一个二进制。
func BuildPlan(topo *config.Topology, runID string) (*Plan, error) {
	if topo == nil {
		return nil, errors.New("topology required")
	}
	if runID == "" {
		return nil, errors.New("run id required")
	}

	binary := topo.Global.Binary
	if binary == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve binary: %w", err)
		}
		binary = exe
	}

	base, err := filepath.Abs(topo.Global.Workspace)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace path: %w", err)
	}

	plan := &Plan{
		Session:       topo.Session(),
		RunID:         runID,
		WorkspaceBase: base,
		Root:          filepath.Join(base, runID),
		UseTmux:       topo.Global.UseTmux,
		Binary:        binary,
		Port:          topo.Global.Port,
		UpdatePeriod:  topo.Global.UpdatePeriod.DurationValue(),
		AgingFactor:   topo.Global.AgingFactor,
		LogLevel:      topo.Global.LogLevel,
	}

	for idx, node := range topo.Nodes {
		dir := filepath.Join(plan.Root, node.Address)

		apiPort := 0
		if topo.Global.ApiPort > 0 {
			apiPort = topo.Global.ApiPort + idx
			if apiPort > 65535 {
				return nil, fmt.Errorf("api port overflows for %s: %d", node.Address, apiPort)
			}
			if apiPort == plan.Port {
				return nil, fmt.Errorf("api port collides with udp port for %s: %d", node.Address, apiPort)
			}
		}

		np := NodePlan{
			Address:    node.Address,
			Period:     topo.EffectivePeriod(node),
			ApiPort:    apiPort,
			Dir:        dir,
			ConfigPath: filepath.Join(dir, "config.toml"),
			ConsoleLog: filepath.Join(dir, "console.log"),
		}

		switch {
		case node.StartupFile != "":
			abs, err := filepath.Abs(node.StartupFile)
			if err != nil {
				return nil, fmt.Errorf("resolve startup file for %s: %w", node.Address, err)
			}
			np.StartupPath = abs
		case len(node.Startup) > 0:
			np.StartupPath = filepath.Join(dir, "startup.cmds")
			np.StartupLines = append([]string(nil), node.Startup...)
		}

		np.Command = routerCommand(binary, np)
		plan.Nodes = append(plan.Nodes, np)
	}

	return plan, nil
}

// routerCommand 拼出节点的启动命令行。周期始终显式传递，
// 免得尾部的启动脚本参数产生歧义。
func routerCommand(binary string, node NodePlan) []string {
	cmd := []string{binary, "-config", node.ConfigPath, node.Address, formatSeconds(node.Period)}
	if node.StartupPath != "" {
		cmd = append(cmd, node.StartupPath)
	}
	return cmd
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

// Materialize 创建运行目录并写入每个节点的配置与启动指令文件。
func (p *Plan) Materialize() (*Workspace, error) {
	w, err := NewWorkspace(p.WorkspaceBase, p.RunID)
	if err != nil {
		return nil, err
	}

	for i := range p.Nodes {
		node := &p.Nodes[i]
		if _, err := w.WriteFile(path.Join(node.Address, "config.toml"), []byte(p.renderConfig(node))); err != nil {
			return nil, fmt.Errorf("write config for %s: %w", node.Address, err)
		}
		if len(node.StartupLines) > 0 {
			content := strings.Join(node.StartupLines, "\n") + "\n"
			if _, err := w.WriteFile(path.Join(node.Address, "startup.cmds"), []byte(content)); err != nil {
				return nil, fmt.Errorf("write startup for %s: %w", node.Address, err)
			}
		}
	}

	return w, nil
}

// renderConfig 生成节点的路由器配置。键名与配置加载器保持一致。
func (p *Plan) renderConfig(node *NodePlan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# generated by udprip lab, run %s\n", p.RunID)
	fmt.Fprintf(&b, "Port = %d\n", p.Port)
	fmt.Fprintf(&b, "UpdatePeriod = %q\n", node.Period.String())
	fmt.Fprintf(&b, "AgingFactor = %d\n", p.AgingFactor)
	fmt.Fprintf(&b, "LogLevel = %q\n", p.LogLevel)
	fmt.Fprintf(&b, "LogFilePath = %q\n", filepath.Join(node.Dir, "router.log"))
	// 必须显式写出：键缺失时加载器会填回默认的 8600。
	fmt.Fprintf(&b, "ApiPort = %d\n", node.ApiPort)
	return b.String()
}

// Print 以人类可读的形式输出计划，供 -check 模式使用。
func (p *Plan) Print(w io.Writer) {
	mode := "plain processes"
	if p.UseTmux {
		mode = "tmux session " + p.Session
	}
	fmt.Fprintf(w, "run %s via %s\n", p.RunID, mode)
	fmt.Fprintf(w, "workspace %s\n", p.Root)
	fmt.Fprintf(w, "udp port %d, update period %s, aging factor %d\n", p.Port, p.UpdatePeriod, p.AgingFactor)
	for _, node := range p.Nodes {
		fmt.Fprintf(w, "node %s\n", node.Address)
		if node.ApiPort > 0 {
			fmt.Fprintf(w, "  api  http://%s:%d/-/status\n", node.Address, node.ApiPort)
		}
		fmt.Fprintf(w, "  exec %s\n", strings.Join(node.Command, " "))
	}
}
