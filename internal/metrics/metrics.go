// Package metrics 为单个路由器进程维护一套独立的 Prometheus 指标。
// 不使用全局默认注册表：lab 模式下多个节点可能共存于同一测试进程。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "udprip"

// Metrics 聚合路由器的全部指标，随 Node 一起创建与销毁。
type Metrics struct {
	registry *prometheus.Registry

	PacketsReceived  *prometheus.CounterVec
	PacketsInvalid   prometheus.Counter
	PacketsForwarded *prometheus.CounterVec
	PacketsDelivered *prometheus.CounterVec
	PacketsDropped   *prometheus.CounterVec
	UpdatesSent      prometheus.Counter
	UpdateSendErrors prometheus.Counter
	NeighborsGauge   prometheus.Gauge
	RoutesGauge      prometheus.Gauge
}

// New 创建并注册全套指标，同时挂上 Go 运行时与进程采集器。
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		PacketsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "packets",
				Name:      "received_total",
				Help:      "Datagrams decoded successfully, by message kind",
			},
			[]string{"kind"},
		),
		PacketsInvalid: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "packets",
				Name:      "invalid_total",
				Help:      "Datagrams that failed to decode",
			},
		),
		PacketsForwarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "packets",
				Name:      "forwarded_total",
				Help:      "Messages relayed toward their destination, by kind",
			},
			[]string{"kind"},
		),
		PacketsDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "packets",
				Name:      "delivered_total",
				Help:      "Messages consumed at this router as their destination, by kind",
			},
			[]string{"kind"},
		),
		PacketsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "packets",
				Name:      "dropped_total",
				Help:      "Messages discarded after decode, by reason",
			},
			[]string{"reason"},
		),
		UpdatesSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "updates",
				Name:      "sent_total",
				Help:      "Distance vector broadcasts sent to neighbors",
			},
		),
		UpdateSendErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "updates",
				Name:      "send_errors_total",
				Help:      "Broadcast attempts that failed at the socket",
			},
		),
		NeighborsGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "routing",
				Name:      "neighbors",
				Help:      "Direct links currently alive",
			},
		),
		RoutesGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "routing",
				Name:      "routes",
				Help:      "Routing table entries including the self route",
			},
		),
	}

	m.registry.MustRegister(
		m.PacketsReceived,
		m.PacketsInvalid,
		m.PacketsForwarded,
		m.PacketsDelivered,
		m.PacketsDropped,
		m.UpdatesSent,
		m.UpdateSendErrors,
		m.NeighborsGauge,
		m.RoutesGauge,
	)
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry 返回底层注册表，供测试 Gather 断言。
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回 /-/metrics 端点使用的 HTTP handler。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
