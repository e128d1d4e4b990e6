package router

import (
	"github.com/udprip/udprip/internal/logging"
	"github.com/udprip/udprip/internal/wire"
)

func (n *Node) registerHandlers() {
	n.dispatcher.Register(wire.KindUpdate, HandlerFunc(n.handleUpdate))
	n.dispatcher.Register(wire.KindData, HandlerFunc(n.handleData))
	n.dispatcher.Register(wire.KindTrace, HandlerFunc(n.handleTrace))
	n.dispatcher.Register(wire.KindControl, HandlerFunc(n.handleControl))
}

// handleUpdate 先刷新发送方的活跃时间，再吸收它的距离向量。
// 陌生节点的 update 不可信，直接丢弃。
func (n *Node) handleUpdate(msg wire.Message) {
	update := msg.(*wire.Update)
	src := update.Src()

	n.links.Touch(src)
	weight, known := n.links.Weight(src)
	if !known {
		n.countDrop(DropReasonStranger)
		if n.logger != nil {
			fields := logging.PacketFields(wire.KindUpdate, src, update.Dst())
			fields["action"] = "update_ignored"
			n.logger.WithFields(fields).Debug("忽略陌生节点的 update")
		}
		return
	}

	n.table.Learn(src, weight, update.Distances)
	n.refreshGauges()

	if n.logger != nil {
		fields := logging.PacketFields(wire.KindUpdate, src, update.Dst())
		fields["action"] = "update_learned"
		fields["entries"] = len(update.Distances)
		n.logger.WithFields(fields).Debug("已吸收邻居向量")
	}
}

// handleData 到达目的地就交付 payload，否则继续转发。
func (n *Node) handleData(msg wire.Message) {
	data := msg.(*wire.Data)
	if data.Dst() != n.address {
		n.forwardOrNotify(data)
		return
	}

	n.printConsole("%s\n", data.Payload)
	if n.metrics != nil {
		n.metrics.PacketsDelivered.WithLabelValues(wire.KindData).Inc()
	}
	if n.logger != nil {
		fields := logging.PacketFields(wire.KindData, data.Src(), data.Dst())
		fields["action"] = "payload_delivered"
		fields["bytes"] = len(data.Payload)
		n.logger.WithFields(fields).Info("负载已交付")
	}
}

// handleTrace 先把自己追加进路径，到达目的地后把完整路径打包成
// data 报文回给发起方，否则继续转发。
func (n *Node) handleTrace(msg wire.Message) {
	trace := msg.(*wire.Trace)
	trace.Routers = append(trace.Routers, n.address)

	if trace.Dst() != n.address {
		n.forwardOrNotify(trace)
		return
	}

	if n.metrics != nil {
		n.metrics.PacketsDelivered.WithLabelValues(wire.KindTrace).Inc()
	}

	completed, err := trace.Encode()
	if err != nil {
		n.countDrop(DropReasonEncode)
		if n.logger != nil {
			n.logger.WithFields(logging.RouterFields("trace_encode_failed", n.address)).Error(err.Error())
		}
		return
	}
	if n.logger != nil {
		fields := logging.PacketFields(wire.KindTrace, trace.Src(), trace.Dst())
		fields["action"] = "trace_answered"
		fields["hops"] = len(trace.Routers)
		n.logger.WithFields(fields).Info("路径探测抵达终点")
	}
	n.forwardOrNotify(wire.NewData(n.address, trace.Src(), string(completed)))
}

// handleControl 到达目的地就把通告呈现给用户，否则继续转发。
func (n *Node) handleControl(msg wire.Message) {
	ctl := msg.(*wire.Control)
	if ctl.Dst() != n.address {
		n.forwardOrNotify(ctl)
		return
	}

	n.printConsole("control %s from %s: %s\n", ctl.Reason, ctl.Src(), string(ctl.Original))
	if n.metrics != nil {
		n.metrics.PacketsDelivered.WithLabelValues(wire.KindControl).Inc()
	}
	if n.logger != nil {
		fields := logging.PacketFields(wire.KindControl, ctl.Src(), ctl.Dst())
		fields["action"] = "control_delivered"
		fields["reason"] = ctl.Reason
		n.logger.WithFields(fields).Warn("收到控制通告")
	}
}

// forwardOrNotify 把报文送往下一跳；无路可走时向来源回发一条
// unreachable 的 control。control 自身无路时静默丢弃，绝不用
// control 回应 control。
func (n *Node) forwardOrNotify(msg wire.Message) {
	if hop, ok := n.table.NextHop(msg.Dst()); ok {
		n.forwardTo(msg, hop)
		return
	}

	n.countDrop(DropReasonUnreachable)
	if n.logger != nil {
		fields := logging.PacketFields(msg.Kind(), msg.Src(), msg.Dst())
		fields["action"] = "route_unreachable"
		n.logger.WithFields(fields).Warn("没有到目的地的路由")
	}

	if msg.Kind() == wire.KindControl {
		return
	}

	original, err := msg.Encode()
	if err != nil {
		n.countDrop(DropReasonEncode)
		return
	}
	notice := wire.NewControl(n.address, msg.Src(), wire.ReasonUnreachable, original)
	hop, ok := n.table.NextHop(notice.Dst())
	if !ok {
		n.countDrop(DropReasonNoRouteBack)
		if n.logger != nil {
			fields := logging.PacketFields(wire.KindControl, notice.Src(), notice.Dst())
			fields["action"] = "notify_undeliverable"
			n.logger.WithFields(fields).Debug("回程也无路由，控制通告作废")
		}
		return
	}
	n.forwardTo(notice, hop)
}

// forwardTo 编码并发送报文，成功才计入 forwarded。
func (n *Node) forwardTo(msg wire.Message, hop string) {
	raw, err := msg.Encode()
	if err != nil {
		n.countDrop(DropReasonEncode)
		if n.logger != nil {
			n.logger.WithFields(logging.RouterFields("forward_encode_failed", n.address)).Error(err.Error())
		}
		return
	}
	if err := n.send.Send(hop, raw); err != nil {
		n.countDrop(DropReasonSendError)
		if n.logger != nil {
			fields := logging.PacketFields(msg.Kind(), msg.Src(), msg.Dst())
			fields["action"] = "packet_send_failed"
			fields["next_hop"] = hop
			n.logger.WithFields(fields).Warn(err.Error())
		}
		return
	}

	if n.metrics != nil {
		n.metrics.PacketsForwarded.WithLabelValues(msg.Kind()).Inc()
	}
	if n.logger != nil {
		fields := logging.PacketFields(msg.Kind(), msg.Src(), msg.Dst())
		fields["action"] = "packet_forwarded"
		fields["next_hop"] = hop
		n.logger.WithFields(fields).Debug("报文已转发")
	}
}
