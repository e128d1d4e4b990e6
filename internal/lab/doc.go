// Package lab 把一份拓扑描述变成一组真正跑起来的路由器：
// 物化运行目录与每个节点的配置、生成启动指令文件，然后在 tmux
// 会话里为每个节点开一个窗格，或者在无 tmux 环境下直接拉起子进程。
package lab
