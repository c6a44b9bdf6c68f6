package session

import (
	"time"
)

// Lookup 按终端手机号查找在线会话
// HTTP 指令下发等外部调用方只依赖这个接口
type Lookup interface {
	Lookup(sim string) (*Handle, bool)
}

// Forwarder 终端上行消息的转发出口，每个终端会话持有一个
type Forwarder interface {
	// Forward 把终端的原始帧转发给订阅了该终端的转发方
	Forward(frames ...[]byte)
	// BindDevice 终端上线后让转发方能反向找到该会话
	BindDevice(h *Handle)
}

// ForwardResolver 为终端手机号创建转发出口
type ForwardResolver interface {
	GetForwarder(sim string) Forwarder
}

// Observer 会话注册表的变更通知，回调在注册表锁内按变更顺序执行，不能阻塞，也不能回调注册表
type Observer interface {
	OnSessionBound(info Info)
	OnSessionUnbound(info Info)
}

// Info 会话的只读快照
type Info struct {
	SIM         string    `json:"sim"`
	RemoteAddr  string    `json:"remoteAddr"`
	TraceID     string    `json:"traceId"`
	ConnectedAt time.Time `json:"connectedAt"`
	LastSeen    time.Time `json:"lastSeen"`
	Pending     int       `json:"pending"`
}

type noopForwarder struct{}

func (noopForwarder) Forward(...[]byte) {}

func (noopForwarder) BindDevice(*Handle) {}
