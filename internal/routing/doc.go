// Package routing 维护路由器的两张核心表。
//
// LinkTable 记录直连邻居的权重与最近一次 update 的时间戳，
// 超过老化窗口未刷新 timestamp 的邻居会被整体摘除。
// Table 是距离向量路由表：每个目的地对应一个开销和一组等价下一跳，
// 学习邻居向量时按 Bellman-Ford 松弛，导出向量时执行水平分割
// （不把经由某邻居的路由再通告给该邻居）。
//
// 两张表都自带互斥锁，监听循环、定时广播、控制台与诊断端可以并发访问。
package routing
