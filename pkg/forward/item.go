package forward

import (
	"sync"

	"github.com/bujia-iot/jt808-gateway/pkg/protocol"
	"github.com/bujia-iot/jt808-gateway/pkg/session"
)

// Item 一个转发方对一个终端的订阅
// 终端应答回到 Item，经所属转发方连接写回
type Item struct {
	sim   string
	owner *Subscriber

	mu     sync.Mutex
	device *session.Handle
}

func newItem(sim string, owner *Subscriber) *Item {
	return &Item{sim: sim, owner: owner}
}

// SIM 订阅的手机号
func (it *Item) SIM() string { return it.sim }

// BindDevice 终端上线后绑定会话
func (it *Item) BindDevice(h *session.Handle) {
	it.mu.Lock()
	it.device = h
	it.mu.Unlock()
}

// Device 当前绑定的在线会话
// 订阅先于终端上线，或终端换了连接时，从会话注册表重新查找
func (it *Item) Device() *session.Handle {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.device != nil && !it.device.IsClosed() {
		return it.device
	}
	it.device = it.owner.registry.lookupDevice(it.sim)
	return it.device
}

// ForwardRecv 把转发方消息交给终端
func (it *Item) ForwardRecv(msg *protocol.MergedMessage) bool {
	h := it.Device()
	if h == nil {
		return false
	}
	return h.ForwardRecv(msg, it)
}

// SendFrames 实现 network.FrameSender，写回所属转发方
func (it *Item) SendFrames(frames ...[]byte) error {
	return it.owner.SendFrames(frames...)
}
