// Package api 基于 Fiber 暴露路由器的诊断面：运行状态、路由与链路的
// 查询和增删、trace 触发，以及 Prometheus 指标导出。诊断面监听独立端口，
// 与 UDP 数据面互不干扰。
package api
