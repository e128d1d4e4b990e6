package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/udprip/udprip/internal/logging"
	"github.com/udprip/udprip/internal/metrics"
	"github.com/udprip/udprip/internal/routing"
	"github.com/udprip/udprip/internal/wire"
)

// 报文被丢弃的原因，对应 udprip_packets_dropped_total 的 reason 标签。
const (
	DropReasonNoHandler   = "no_handler"
	DropReasonPanic       = "handler_panic"
	DropReasonStranger    = "unknown_neighbor"
	DropReasonUnreachable = "unreachable"
	DropReasonNoRouteBack = "no_route_back"
	DropReasonSendError   = "send_error"
	DropReasonEncode      = "encode"
)

var (
	// ErrSelfLink 表示试图把自己加成邻居。
	ErrSelfLink = errors.New("cannot link a router to itself")
	// ErrBadWeight 表示链路权重不是正整数。
	ErrBadWeight = errors.New("link weight must be a positive integer")
	// ErrUnknownLink 表示删除的链路不存在。
	ErrUnknownLink = errors.New("no such link")
	// ErrBadAddress 表示地址不是合法的字面量 IP。
	ErrBadAddress = errors.New("address is not an IP literal")
)

// sender 抽象发包动作，生产环境由 Transport 实现，测试里可替换。
type sender interface {
	Send(target string, raw []byte) error
}

// Options 聚合 Node 的构造参数。
type Options struct {
	// Address 是本机地址，同时也是协议里的身份。
	Address string
	// Port 是全体路由器共享的 UDP 端口。
	Port int
	// Period 是 update 广播周期。
	Period time.Duration
	// AgingWindow 是邻居老化窗口，通常为 Period 的数倍。
	AgingWindow time.Duration
	Logger      *logrus.Logger
	Metrics     *metrics.Metrics
	// Console 承接面向人的输出（交付的 payload、trace 结果、控制通告），
	// 默认 os.Stdout。
	Console io.Writer
}

// Node 是一台路由器的组合根。
type Node struct {
	address     string
	port        int
	period      time.Duration
	agingWindow time.Duration

	links *routing.LinkTable
	table *routing.Table

	transport  *Transport
	send       sender
	dispatcher *Dispatcher

	logger  *logrus.Logger
	metrics *metrics.Metrics

	console   io.Writer
	consoleMu sync.Mutex

	startedAt time.Time
	shutdown  chan struct{}
	done      chan struct{}
	running   atomic.Bool
}

// NewNode 构建路由器，此时尚未绑定 socket。
func NewNode(opts Options) (*Node, error) {
	if net.ParseIP(opts.Address) == nil {
		return nil, fmt.Errorf("%w: %s", ErrBadAddress, opts.Address)
	}
	if opts.Port <= 0 || opts.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", opts.Port)
	}
	if opts.Period <= 0 {
		return nil, fmt.Errorf("invalid update period: %v", opts.Period)
	}
	if opts.AgingWindow <= 0 {
		opts.AgingWindow = 4 * opts.Period
	}
	if opts.Console == nil {
		opts.Console = os.Stdout
	}

	n := &Node{
		address:     opts.Address,
		port:        opts.Port,
		period:      opts.Period,
		agingWindow: opts.AgingWindow,
		links:       routing.NewLinkTable(),
		table:       routing.NewTable(opts.Address),
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		console:     opts.Console,
	}
	n.dispatcher = NewDispatcher(opts.Logger, opts.Metrics)
	n.registerHandlers()
	return n, nil
}

// Address 返回本机地址。
func (n *Node) Address() string { return n.address }

// Metrics 返回节点持有的指标集，可能为 nil。
func (n *Node) Metrics() *metrics.Metrics { return n.metrics }

// HandledKinds 返回已注册处理器的 kind 列表。
func (n *Node) HandledKinds() []string { return n.dispatcher.HandledKinds() }

// Start 绑定 socket 并启动监听与周期广播。重复调用是幂等的。
func (n *Node) Start(ctx context.Context) error {
	if n.running.Load() {
		return nil
	}

	transport := NewTransport(n.address, n.port, n.logger)
	if err := transport.Start(ctx, n.handlePacket); err != nil {
		return err
	}
	n.transport = transport
	n.send = transport

	n.shutdown = make(chan struct{})
	n.done = make(chan struct{})
	n.running.Store(true)
	n.startedAt = time.Now()

	go n.updateLoop(ctx)

	if n.logger != nil {
		fields := logging.RouterFields("router_started", n.address)
		fields["port"] = n.port
		fields["period"] = n.period.String()
		fields["aging_window"] = n.agingWindow.String()
		n.logger.WithFields(fields).Info("路由器已启动")
	}
	return nil
}

// Stop 停止广播循环并关闭 socket，幂等。
func (n *Node) Stop(timeout time.Duration) error {
	if !n.running.Load() {
		return nil
	}
	n.running.Store(false)

	select {
	case <-n.shutdown:
	default:
		close(n.shutdown)
	}

	var transportErr error
	if n.transport != nil {
		transportErr = n.transport.Stop(timeout)
	}

	select {
	case <-n.done:
	case <-time.After(timeout):
		return fmt.Errorf("update loop stop timed out after %v", timeout)
	}

	if n.logger != nil {
		n.logger.WithFields(logging.RouterFields("router_stopped", n.address)).Info("路由器已停止")
	}
	return transportErr
}

// updateLoop 周期性老化邻居并广播距离向量。
func (n *Node) updateLoop(ctx context.Context) {
	defer close(n.done)

	ticker := time.NewTicker(n.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-n.shutdown:
			return
		case <-ticker.C:
			n.broadcastUpdate()
		}
	}
}

// broadcastUpdate 执行一轮老化与水平分割广播。
func (n *Node) broadcastUpdate() {
	for _, dead := range n.links.Expire(n.agingWindow) {
		n.table.PurgeHop(dead)
		if n.logger != nil {
			fields := logging.RouterFields("neighbor_expired", n.address)
			fields["neighbor"] = dead
			fields["aging_window"] = n.agingWindow.String()
			n.logger.WithFields(fields).Warn("邻居超时，相关路由已摘除")
		}
	}

	for _, neighbor := range n.links.Neighbors() {
		vector := n.table.Export(neighbor)
		raw, err := wire.NewUpdate(n.address, neighbor, vector).Encode()
		if err != nil {
			n.countDrop(DropReasonEncode)
			if n.logger != nil {
				n.logger.WithFields(logging.RouterFields("update_encode_failed", n.address)).Error(err.Error())
			}
			continue
		}
		if err := n.send.Send(neighbor, raw); err != nil {
			if n.metrics != nil {
				n.metrics.UpdateSendErrors.Inc()
			}
			if n.logger != nil {
				fields := logging.RouterFields("update_send_failed", n.address)
				fields["neighbor"] = neighbor
				n.logger.WithFields(fields).Warn(err.Error())
			}
			continue
		}
		if n.metrics != nil {
			n.metrics.UpdatesSent.Inc()
		}
	}

	n.refreshGauges()
}

// handlePacket 是监听循环的入口：解码失败直接丢弃，成功则分发。
func (n *Node) handlePacket(raw []byte, from *net.UDPAddr) {
	msg, err := wire.Decode(raw)
	if err != nil {
		if n.metrics != nil {
			n.metrics.PacketsInvalid.Inc()
		}
		if n.logger != nil {
			fields := logging.RouterFields("packet_invalid", n.address)
			if from != nil {
				fields["from"] = from.String()
			}
			n.logger.WithFields(fields).Warn(err.Error())
		}
		return
	}

	if n.metrics != nil {
		n.metrics.PacketsReceived.WithLabelValues(msg.Kind()).Inc()
	}
	n.dispatcher.Dispatch(msg)
}

// AddLink 登记一条直连链路并立即生成直连路由。
func (n *Node) AddLink(address string, weight int) error {
	normalized, err := normalizeIP(address)
	if err != nil {
		return err
	}
	if weight <= 0 {
		return fmt.Errorf("%w: %d", ErrBadWeight, weight)
	}
	if normalized == n.address {
		return ErrSelfLink
	}

	n.links.Add(normalized, weight)
	n.table.AddDirect(normalized, weight)
	n.refreshGauges()

	if n.logger != nil {
		fields := logging.RouterFields("link_added", n.address)
		fields["neighbor"] = normalized
		fields["weight"] = weight
		n.logger.WithFields(fields).Info("链路已登记")
	}
	return nil
}

// RemoveLink 摘除链路及所有经由它的路由。
func (n *Node) RemoveLink(address string) error {
	normalized, err := normalizeIP(address)
	if err != nil {
		return err
	}
	if !n.links.Remove(normalized) {
		return fmt.Errorf("%w: %s", ErrUnknownLink, normalized)
	}
	n.table.PurgeHop(normalized)
	n.refreshGauges()

	if n.logger != nil {
		fields := logging.RouterFields("link_removed", n.address)
		fields["neighbor"] = normalized
		n.logger.WithFields(fields).Info("链路已摘除")
	}
	return nil
}

// StartTrace 发起一次路径探测。结果会以 data 报文送回本机并打到 console。
func (n *Node) StartTrace(destination string) error {
	normalized, err := normalizeIP(destination)
	if err != nil {
		return err
	}

	if n.logger != nil {
		fields := logging.PacketFields(wire.KindTrace, n.address, normalized)
		fields["action"] = "trace_started"
		n.logger.WithFields(fields).Info("开始路径探测")
	}
	n.forwardOrNotify(wire.NewTrace(n.address, normalized))
	return nil
}

// Links 返回链路表快照。
func (n *Node) Links() []routing.Link { return n.links.Snapshot() }

// Routes 返回路由表快照。
func (n *Node) Routes() []routing.Route { return n.table.Snapshot() }

// Status 汇总诊断端需要的运行时信息。
type Status struct {
	Address     string
	Port        int
	Period      time.Duration
	AgingWindow time.Duration
	StartedAt   time.Time
	Neighbors   int
	Routes      int
}

// Status 返回当前运行状态快照。
func (n *Node) Status() Status {
	return Status{
		Address:     n.address,
		Port:        n.port,
		Period:      n.period,
		AgingWindow: n.agingWindow,
		StartedAt:   n.startedAt,
		Neighbors:   n.links.Len(),
		Routes:      n.table.Len(),
	}
}

func (n *Node) refreshGauges() {
	if n.metrics == nil {
		return
	}
	n.metrics.NeighborsGauge.Set(float64(n.links.Len()))
	n.metrics.RoutesGauge.Set(float64(n.table.Len()))
}

func (n *Node) countDrop(reason string) {
	if n.metrics != nil {
		n.metrics.PacketsDropped.WithLabelValues(reason).Inc()
	}
}

// printConsole 串行化面向人的输出，避免监听循环与广播循环交错打印。
func (n *Node) printConsole(format string, args ...any) {
	n.consoleMu.Lock()
	defer n.consoleMu.Unlock()
	fmt.Fprintf(n.console, format, args...)
}

func normalizeIP(raw string) (string, error) {
	ip := net.ParseIP(raw)
	if ip == nil {
		return "", fmt.Errorf("%w: %s", ErrBadAddress, raw)
	}
	return ip.String(), nil
}
