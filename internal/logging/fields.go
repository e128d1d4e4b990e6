package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RouterFields 提供本机地址字段，路由器生命周期日志复用。
func RouterFields(action, address string) logrus.Fields {
	return logrus.Fields{
		"action":  action,
		"address": address,
	}
}

// PacketFields 提供报文三元组字段，收发/转发/丢弃日志复用。
func PacketFields(kind, source, destination string) logrus.Fields {
	return logrus.Fields{
		"kind":        kind,
		"source":      source,
		"destination": destination,
	}
}
