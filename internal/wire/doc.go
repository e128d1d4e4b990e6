// Package wire 定义路由器之间交换的 JSON 数据报格式。
//
// 协议共有四种报文：data 承载用户负载、update 广播距离向量、
// trace 记录转发路径、control 回传控制信息（例如目标不可达）。
// 每种报文在 init() 中注册到全局 kind 注册表，Decode 先嗅探
// type 字段再分发到对应的解码器，未注册的类型返回 ErrUnknownKind。
//
// 报文始终携带本类型的全部字段（空 payload、空 routers 也会上线），
// 以保证不同节点之间的字节级兼容。
package wire
