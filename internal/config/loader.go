package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// DefaultPort 是协议约定的 UDP 端口，所有路由器共享同一端口、以 IP 区分身份。
const DefaultPort = 55151

// DefaultAgingFactor 决定邻居老化窗口是广播周期的多少倍。
const DefaultAgingFactor = 4

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadOrDefault 与 Load 相同，但默认路径下文件不存在时返回纯默认配置。
// 显式指定的配置路径应当走 Load，缺文件是硬错误。
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}
	return Load(path)
}

// Default 返回不读取任何文件的默认配置，与加载空文件的结果一致。
// ApiPort 与 LogCompress 的零值都有语义，不能放进 applyGlobalDefaults。
func Default() *Config {
	cfg := &Config{}
	applyGlobalDefaults(&cfg.Global)
	cfg.Global.ApiPort = 8600
	cfg.Global.LogCompress = true
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("Port", DefaultPort)
	v.SetDefault("UpdatePeriod", "10s")
	v.SetDefault("AgingFactor", DefaultAgingFactor)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("ApiPort", 8600)
	v.SetDefault("FollowStartup", false)
}

func applyGlobalDefaults(g *GlobalConfig) {
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
	if g.LogMaxSize == 0 {
		g.LogMaxSize = 100
	}
	if g.LogMaxBackups == 0 {
		g.LogMaxBackups = 10
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
