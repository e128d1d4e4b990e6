package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// LabGlobal 描述一次拓扑实验的公共参数，所有节点共享。
type LabGlobal struct {
	Name         string   `mapstructure:"Name"`
	Workspace    string   `mapstructure:"Workspace"`
	Binary       string   `mapstructure:"Binary"`
	SessionName  string   `mapstructure:"SessionName"`
	UseTmux      bool     `mapstructure:"UseTmux"`
	Port         int      `mapstructure:"Port"`
	UpdatePeriod Duration `mapstructure:"UpdatePeriod"`
	AgingFactor  int      `mapstructure:"AgingFactor"`
	ApiPort      int      `mapstructure:"ApiPort"`
	LogLevel     string   `mapstructure:"LogLevel"`
}

// NodeConfig 描述拓扑中的一个路由器节点。
// Startup 与 StartupFile 互斥：前者由 lab 生成启动指令文件，
// 后者直接引用现成文件。
type NodeConfig struct {
	Address     string   `mapstructure:"Address"`
	Period      Duration `mapstructure:"Period"`
	Startup     []string `mapstructure:"Startup"`
	StartupFile string   `mapstructure:"StartupFile"`
}

// Topology 是实验拓扑 TOML 文件映射的整体结构。
type Topology struct {
	Global LabGlobal    `mapstructure:",squash"`
	Nodes  []NodeConfig `mapstructure:"Node"`
}

// LoadTopology 读取并解析拓扑文件，注入默认值并完成语义校验。
func LoadTopology(path string) (*Topology, error) {
	if path == "" {
		path = "lab.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setTopologyDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取拓扑失败: %w", err)
	}

	if err := rejectNodeLevelPorts(v); err != nil {
		return nil, err
	}

	var topo Topology
	if err := v.Unmarshal(&topo, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析拓扑失败: %w", err)
	}

	applyTopologyDefaults(&topo)

	if err := topo.Validate(); err != nil {
		return nil, err
	}

	absWorkspace, err := filepath.Abs(topo.Global.Workspace)
	if err != nil {
		return nil, fmt.Errorf("无法解析工作目录: %w", err)
	}
	topo.Global.Workspace = absWorkspace

	return &topo, nil
}

func setTopologyDefaults(v *viper.Viper) {
	v.SetDefault("Name", "lab")
	v.SetDefault("Workspace", "./lab")
	v.SetDefault("UseTmux", true)
	v.SetDefault("Port", DefaultPort)
	v.SetDefault("UpdatePeriod", "10s")
	v.SetDefault("AgingFactor", DefaultAgingFactor)
	v.SetDefault("ApiPort", 8600)
	v.SetDefault("LogLevel", "info")
}

func applyTopologyDefaults(t *Topology) {
	g := &t.Global
	if g.Name == "" {
		g.Name = "lab"
	}
	if g.Workspace == "" {
		g.Workspace = "./lab"
	}
	if g.Port == 0 {
		g.Port = DefaultPort
	}
	if g.UpdatePeriod.DurationValue() == 0 {
		g.UpdatePeriod = Duration(10 * time.Second)
	}
	if g.AgingFactor == 0 {
		g.AgingFactor = DefaultAgingFactor
	}
	if g.LogLevel == "" {
		g.LogLevel = "info"
	}
}

// Validate 校验拓扑语义：地址唯一且合法、启动指令互斥、add 目标必须是已声明节点。
func (t *Topology) Validate() error {
	if t == nil {
		return errors.New("拓扑为空")
	}

	g := t.Global
	if g.Name == "" {
		return newFieldError("Name", "不能为空")
	}
	if g.Workspace == "" {
		return newFieldError("Workspace", "不能为空")
	}
	if g.Port <= 0 || g.Port > 65535 {
		return newFieldError("Port", "必须在 1-65535")
	}
	if g.UpdatePeriod.DurationValue() <= 0 {
		return newFieldError("UpdatePeriod", "必须大于 0")
	}
	if g.AgingFactor < 1 {
		return newFieldError("AgingFactor", "必须不小于 1")
	}
	if g.ApiPort < 0 || g.ApiPort > 65535 {
		return newFieldError("ApiPort", "必须在 0-65535，0 表示关闭")
	}
	if g.ApiPort != 0 && g.ApiPort == g.Port {
		return newFieldError("ApiPort", "不能与 UDP Port 相同")
	}

	if len(t.Nodes) == 0 {
		return errors.New("至少需要声明一个 Node")
	}

	declared := make(map[string]struct{}, len(t.Nodes))
	for i := range t.Nodes {
		node := &t.Nodes[i]
		normalized, err := ValidateAddress(node.Address)
		if err != nil {
			return fmt.Errorf("%s: %w", nodeField(node.Address, "Address"), err)
		}
		node.Address = normalized
		if _, exists := declared[normalized]; exists {
			return newFieldError(nodeField(normalized, "Address"), "重复")
		}
		declared[normalized] = struct{}{}

		if node.Period.DurationValue() < 0 {
			return newFieldError(nodeField(normalized, "Period"), "不能为负数")
		}
		if len(node.Startup) > 0 && node.StartupFile != "" {
			return newFieldError(nodeField(normalized, "Startup"), "与 StartupFile 互斥")
		}
	}

	for _, node := range t.Nodes {
		for _, line := range node.Startup {
			target, ok := startupAddTarget(line)
			if !ok {
				continue
			}
			if _, exists := declared[target]; !exists {
				return newFieldError(nodeField(node.Address, "Startup"),
					fmt.Sprintf("add 指向未声明的节点: %s", target))
			}
		}
	}

	return nil
}

// EffectivePeriod 返回节点生效的广播周期：节点覆盖优先于全局值。
func (t *Topology) EffectivePeriod(node NodeConfig) time.Duration {
	if node.Period.DurationValue() > 0 {
		return node.Period.DurationValue()
	}
	return t.Global.UpdatePeriod.DurationValue()
}

// Session 返回 tmux 会话名，未显式配置时从拓扑名派生。
func (t *Topology) Session() string {
	if name := strings.TrimSpace(t.Global.SessionName); name != "" {
		return name
	}
	return "udprip-" + t.Global.Name
}

// startupAddTarget 从 "add <ip> <weight>" 指令里提取目标地址。
// 非 add 指令返回 ok=false，由路由器启动时自行解析报错。
func startupAddTarget(line string) (string, bool) {
	fields := strings.Fields(line)
	if len(fields) != 3 || fields[0] != "add" {
		return "", false
	}
	return fields[1], true
}

// rejectNodeLevelPorts 拒绝节点级 Port 配置：协议要求全体节点共享
// 同一 UDP 端口、以 IP 区分身份，节点粒度的端口没有意义。
func rejectNodeLevelPorts(v *viper.Viper) error {
	raw := v.Get("Node")
	nodes, ok := raw.([]interface{})
	if !ok {
		return nil
	}

	for idx, entry := range nodes {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		// viper 会把嵌套键统一成小写，按不区分大小写匹配。
		hasPort := false
		address := ""
		for key, value := range m {
			if strings.EqualFold(key, "Port") {
				hasPort = true
			}
			if strings.EqualFold(key, "Address") {
				if rawAddr, ok := value.(string); ok {
					address = rawAddr
				}
			}
		}
		if hasPort {
			name := fmt.Sprintf("#%d", idx)
			if address != "" {
				name = address
			}
			return newFieldError(nodeField(name, "Port"), "不支持节点级端口，请使用全局 Port")
		}
	}

	return nil
}
