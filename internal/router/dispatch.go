package router

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/udprip/udprip/internal/logging"
	"github.com/udprip/udprip/internal/metrics"
	"github.com/udprip/udprip/internal/wire"
)

// Handler 消费一条已解码的报文。
type Handler interface {
	Handle(msg wire.Message)
}

// HandlerFunc 允许用普通函数充当 Handler。
type HandlerFunc func(msg wire.Message)

// Handle 实现 Handler。
func (f HandlerFunc) Handle(msg wire.Message) { f(msg) }

// Dispatcher 根据报文 kind 选择对应的 Handler，处理器缺失或 panic
// 时丢弃报文并记录，保证一条毒报文不会拖垮监听循环。
type Dispatcher struct {
	logger  *logrus.Logger
	metrics *metrics.Metrics

	handlers sync.Map
}

// NewDispatcher 创建空的分发器，处理器由 Node 在启动时注册。
func NewDispatcher(logger *logrus.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		logger:  logger,
		metrics: m,
	}
}

// Register 注册某个 kind 的处理器。键为空或处理器为 nil 属于
// 接线错误，直接 panic。
func (d *Dispatcher) Register(kind string, handler Handler) {
	normalized := strings.ToLower(strings.TrimSpace(kind))
	if normalized == "" {
		panic(fmt.Errorf("dispatcher: kind is required"))
	}
	if handler == nil {
		panic(fmt.Errorf("dispatcher: handler for %s is nil", normalized))
	}
	d.handlers.Store(normalized, handler)
}

// Dispatch 把报文交给对应处理器。
func (d *Dispatcher) Dispatch(msg wire.Message) {
	handler := d.lookup(msg.Kind())
	if handler == nil {
		d.drop(msg, DropReasonNoHandler, nil)
		return
	}
	d.invoke(handler, msg)
}

// HandledKinds 返回已注册处理器的 kind 列表，诊断端用。
func (d *Dispatcher) HandledKinds() []string {
	var kinds []string
	d.handlers.Range(func(key, _ any) bool {
		kinds = append(kinds, key.(string))
		return true
	})
	sort.Strings(kinds)
	return kinds
}

func (d *Dispatcher) lookup(kind string) Handler {
	normalized := strings.ToLower(strings.TrimSpace(kind))
	if normalized == "" {
		return nil
	}
	if value, ok := d.handlers.Load(normalized); ok {
		if handler, ok := value.(Handler); ok {
			return handler
		}
	}
	return nil
}

func (d *Dispatcher) invoke(handler Handler, msg wire.Message) {
	defer func() {
		if r := recover(); r != nil {
			d.drop(msg, DropReasonPanic, fmt.Errorf("panic: %v", r))
		}
	}()
	handler.Handle(msg)
}

func (d *Dispatcher) drop(msg wire.Message, reason string, err error) {
	if d.metrics != nil {
		d.metrics.PacketsDropped.WithLabelValues(reason).Inc()
	}
	if d.logger == nil {
		return
	}
	fields := logging.PacketFields(msg.Kind(), msg.Src(), msg.Dst())
	fields["action"] = "packet_dropped"
	fields["reason"] = reason
	if err != nil {
		d.logger.WithFields(fields).Error(err.Error())
		return
	}
	d.logger.WithFields(fields).Warn("no handler registered for kind")
}
