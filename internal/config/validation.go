package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动路由器。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.Port <= 0 || g.Port > 65535 {
		return newFieldError("Port", "必须在 1-65535")
	}
	if g.UpdatePeriod.DurationValue() <= 0 {
		return newFieldError("UpdatePeriod", "必须大于 0")
	}
	if g.AgingFactor < 1 {
		return newFieldError("AgingFactor", "必须不小于 1")
	}
	if g.LogMaxSize < 0 {
		return newFieldError("LogMaxSize", "不能为负数")
	}
	if g.LogMaxBackups < 0 {
		return newFieldError("LogMaxBackups", "不能为负数")
	}
	if g.ApiPort < 0 || g.ApiPort > 65535 {
		return newFieldError("ApiPort", "必须在 0-65535，0 表示关闭")
	}
	if g.ApiPort != 0 && g.ApiPort == g.Port {
		return newFieldError("ApiPort", "不能与 UDP Port 相同")
	}

	return nil
}

// ValidateAddress 校验 CLI 位置参数里的路由器地址必须是字面量 IP。
func ValidateAddress(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errors.New("地址不能为空")
	}
	ip := net.ParseIP(trimmed)
	if ip == nil {
		return "", fmt.Errorf("无法解析地址: %s", raw)
	}
	return ip.String(), nil
}
