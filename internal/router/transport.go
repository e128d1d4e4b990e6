package router

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// readBufferSize 是向内核申请的接收缓冲，防止广播风暴时丢包。
const readBufferSize = 2 * 1024 * 1024

// Transport 封装路由器唯一的 UDP socket。所有节点共享同一端口，
// 以绑定的 IP 区分身份，因此 socket 必须绑在节点自己的地址上。
type Transport struct {
	address string
	port    int
	logger  *logrus.Logger

	conn     *net.UDPConn
	shutdown chan struct{}
	done     chan struct{}
	running  atomic.Bool
	mu       sync.RWMutex
	wg       sync.WaitGroup
}

// NewTransport 创建未绑定的传输层，Start 时才真正监听。
func NewTransport(address string, port int, logger *logrus.Logger) *Transport {
	return &Transport{
		address: address,
		port:    port,
		logger:  logger,
	}
}

// Start 绑定 socket 并启动读循环，收到的每个数据报交给 handle。
// 重复调用是幂等的。
func (t *Transport) Start(ctx context.Context, handle func(raw []byte, from *net.UDPAddr)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running.Load() {
		return nil
	}

	t.shutdown = make(chan struct{})
	t.done = make(chan struct{})

	if err := t.bindSocket(); err != nil {
		return err
	}

	t.running.Store(true)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer close(t.done)
		t.readLoop(ctx, handle)
	}()

	return nil
}

func (t *Transport) bindSocket() error {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(t.address, strconv.Itoa(t.port)))
	if err != nil {
		return fmt.Errorf("resolve %s:%d: %w", t.address, t.port, err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s:%d: %w", t.address, t.port, err)
	}

	// 部分系统会限制缓冲大小，失败只降档不致命。
	if err := conn.SetReadBuffer(readBufferSize); err != nil && t.logger != nil {
		t.logger.WithFields(logrus.Fields{
			"action": "udp_buffer_resize_failed",
			"bytes":  readBufferSize,
		}).Warn(err.Error())
	}

	t.conn = conn
	return nil
}

// Send 把编码好的报文发给同端口的目标地址。
func (t *Transport) Send(target string, raw []byte) error {
	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()

	if conn == nil {
		return fmt.Errorf("transport not started")
	}

	ip := net.ParseIP(target)
	if ip == nil {
		return fmt.Errorf("invalid target address: %s", target)
	}

	_, err := conn.WriteToUDP(raw, &net.UDPAddr{IP: ip, Port: t.port})
	if err != nil {
		return fmt.Errorf("send to %s: %w", target, err)
	}
	return nil
}

// Stop 关闭 socket 并等待读循环退出，超时返回错误。
func (t *Transport) Stop(timeout time.Duration) error {
	if !t.running.Load() {
		return nil
	}
	t.running.Store(false)

	t.mu.Lock()
	if t.shutdown != nil {
		select {
		case <-t.shutdown:
		default:
			close(t.shutdown)
		}
	}
	if t.conn != nil {
		_ = t.conn.Close()
	}
	t.mu.Unlock()

	select {
	case <-t.done:
	case <-time.After(timeout):
		return fmt.Errorf("transport stop timed out after %v", timeout)
	}

	t.mu.Lock()
	t.conn = nil
	t.mu.Unlock()
	return nil
}

func (t *Transport) readLoop(ctx context.Context, handle func(raw []byte, from *net.UDPAddr)) {
	buffer := make([]byte, 65536)

	for t.running.Load() {
		select {
		case <-ctx.Done():
			return
		case <-t.shutdown:
			return
		default:
		}

		t.mu.RLock()
		conn := t.conn
		t.mu.RUnlock()
		if conn == nil {
			return
		}

		// 短读超时让循环有机会检查停机信号。
		_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

		n, from, err := conn.ReadFromUDP(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case <-t.shutdown:
				return
			default:
			}
			if t.logger != nil {
				t.logger.WithFields(logrus.Fields{
					"action": "udp_read_failed",
				}).Warn(err.Error())
			}
			continue
		}

		raw := make([]byte, n)
		copy(raw, buffer[:n])
		handle(raw, from)
	}
}
