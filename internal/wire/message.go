package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
)

// MaxDatagramSize 是单个 UDP 负载的上限（IPv4 理论最大值）。
const MaxDatagramSize = 65507

// 四种报文类型在线上的 type 取值。
const (
	KindData    = "data"
	KindUpdate  = "update"
	KindTrace   = "trace"
	KindControl = "control"
)

// ReasonUnreachable 是 control 报文里"无路可走"的标准原因。
const ReasonUnreachable = "unreachable"

var (
	// ErrUnknownKind 表示 type 字段没有对应的已注册解码器。
	ErrUnknownKind = errors.New("unknown message kind")
	// ErrOversized 表示编码结果超出单个数据报可承载的大小。
	ErrOversized = errors.New("message exceeds datagram size limit")
)

// Header 承载所有报文共有的三个字段，嵌入后在 JSON 里平铺。
type Header struct {
	Type        string `json:"type"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

// Message 是四种报文的公共视图，路由器按它转发与分发。
type Message interface {
	Kind() string
	Src() string
	Dst() string
	Encode() ([]byte, error)
}

// Data 携带交付给目标路由器的文本负载。
type Data struct {
	Header
	Payload string `json:"payload"`
}

// Update 向邻居广播发送方的距离向量。
type Update struct {
	Header
	Distances map[string]int `json:"distances"`
}

// Trace 在途经的每台路由器上追加自己的地址。
type Trace struct {
	Header
	Routers []string `json:"routers"`
}

// Control 回传控制信息，original 原样携带引发它的报文。
type Control struct {
	Header
	Reason   string          `json:"reason"`
	Original json.RawMessage `json:"original"`
}

// NewData 构造一条指向 dst 的负载报文。
func NewData(src, dst, payload string) *Data {
	return &Data{Header: Header{Type: KindData, Source: src, Destination: dst}, Payload: payload}
}

// NewUpdate 构造发往单个邻居的距离向量报文。
func NewUpdate(src, dst string, distances map[string]int) *Update {
	if distances == nil {
		distances = map[string]int{}
	}
	return &Update{Header: Header{Type: KindUpdate, Source: src, Destination: dst}, Distances: distances}
}

// NewTrace 构造一条新的路径探测报文，routers 以发起方开头。
func NewTrace(src, dst string) *Trace {
	return &Trace{Header: Header{Type: KindTrace, Source: src, Destination: dst}, Routers: []string{src}}
}

// NewControl 构造控制报文，original 应为引发它的报文原始字节。
func NewControl(src, dst, reason string, original []byte) *Control {
	return &Control{
		Header:   Header{Type: KindControl, Source: src, Destination: dst},
		Reason:   reason,
		Original: json.RawMessage(original),
	}
}

func (d *Data) Kind() string { return KindData }

func (u *Update) Kind() string { return KindUpdate }

func (t *Trace) Kind() string { return KindTrace }

func (c *Control) Kind() string { return KindControl }

func (h Header) Src() string { return h.Source }

func (h Header) Dst() string { return h.Destination }

func (d *Data) Encode() ([]byte, error) { return encode(d) }

func (u *Update) Encode() ([]byte, error) { return encode(u) }

func (t *Trace) Encode() ([]byte, error) { return encode(t) }

func (c *Control) Encode() ([]byte, error) {
	if c.Original == nil {
		c.Original = json.RawMessage("null")
	}
	return encode(c)
}

func encode(msg Message) ([]byte, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", msg.Kind(), err)
	}
	if len(raw) > MaxDatagramSize {
		return nil, fmt.Errorf("encode %s message: %w (%d bytes)", msg.Kind(), ErrOversized, len(raw))
	}
	return raw, nil
}

// Decode 嗅探 type 字段后把原始字节交给对应 kind 的解码器。
func Decode(raw []byte) (Message, error) {
	var head Header
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	meta, ok := Resolve(head.Type)
	if !ok {
		return nil, fmt.Errorf("decode %q: %w", head.Type, ErrUnknownKind)
	}
	msg, err := meta.Decode(raw)
	if err != nil {
		return nil, err
	}
	if err := validateHeader(msg); err != nil {
		return nil, fmt.Errorf("decode %s message: %w", meta.Key, err)
	}
	return msg, nil
}

func validateHeader(msg Message) error {
	if net.ParseIP(msg.Src()) == nil {
		return fmt.Errorf("source %q is not an IP address", msg.Src())
	}
	if net.ParseIP(msg.Dst()) == nil {
		return fmt.Errorf("destination %q is not an IP address", msg.Dst())
	}
	return nil
}
