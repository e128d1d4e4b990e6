package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒数值与 Go Duration 字符串。
// 路由器 CLI 的 period 位置参数沿用同一解析规则，"10"、"0.5"、"10s" 等价可用。
type Duration time.Duration

// ParseDuration 解析 "30s"、"5m" 或纯数字秒值（允许小数）。
func ParseDuration(raw string) (Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Duration(0), nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		return Duration(parsed), nil
	}
	if seconds, err := strconv.ParseFloat(raw, 64); err == nil {
		return Duration(time.Duration(seconds * float64(time.Second))), nil
	}

	return Duration(0), fmt.Errorf("invalid duration value: %s", raw)
}

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// GlobalConfig 描述单个路由器进程的运行时行为。
type GlobalConfig struct {
	Port          int      `mapstructure:"Port"`
	UpdatePeriod  Duration `mapstructure:"UpdatePeriod"`
	AgingFactor   int      `mapstructure:"AgingFactor"`
	LogLevel      string   `mapstructure:"LogLevel"`
	LogFilePath   string   `mapstructure:"LogFilePath"`
	LogMaxSize    int      `mapstructure:"LogMaxSize"`
	LogMaxBackups int      `mapstructure:"LogMaxBackups"`
	LogCompress   bool     `mapstructure:"LogCompress"`
	ApiPort       int      `mapstructure:"ApiPort"`
	FollowStartup bool     `mapstructure:"FollowStartup"`
}

// Config 是路由器 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
}

// EffectivePeriod 返回生效的广播周期：CLI 位置参数优先于配置文件。
func (c *Config) EffectivePeriod(override Duration) time.Duration {
	if override.DurationValue() > 0 {
		return override.DurationValue()
	}
	return c.Global.UpdatePeriod.DurationValue()
}

// AgingWindow 返回邻居老化窗口：AgingFactor 倍的广播周期。
func (c *Config) AgingWindow(period time.Duration) time.Duration {
	return time.Duration(c.Global.AgingFactor) * period
}
