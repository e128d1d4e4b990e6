// Package console 实现路由器的人机界面：stdin 交互会话、
// 启动脚本回放，以及基于 fsnotify 的脚本跟随模式。
package console
