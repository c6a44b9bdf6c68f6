package forward

import (
	"sync"

	"github.com/bujia-iot/jt808-gateway/internal/infrastructure/logger"
	"github.com/bujia-iot/jt808-gateway/pkg/session"
	"github.com/sirupsen/logrus"
)

// SimSender 终端会话持有的转发出口
// 缓存订阅了该终端的转发项，注册表版本号变化后重新收集
type SimSender struct {
	sim      string
	registry *Registry

	mu      sync.Mutex
	version uint64
	items   []*Item
	device  *session.Handle
}

// refreshLocked 先读版本号再扫描，扫描期间的变更会在下一次调用时被发现
func (s *SimSender) refreshLocked() {
	v := s.registry.Version()
	if s.items != nil && v == s.version {
		return
	}
	items := s.registry.itemsFor(s.sim)
	if s.device != nil {
		for _, it := range items {
			it.BindDevice(s.device)
		}
	}
	if items == nil {
		items = []*Item{}
	}
	s.items = items
	s.version = v
}

// Forward 把终端帧写给每个订阅方，单个订阅方失败不影响其他订阅方
func (s *SimSender) Forward(frames ...[]byte) {
	if len(frames) == 0 {
		return
	}
	s.mu.Lock()
	s.refreshLocked()
	items := s.items
	s.mu.Unlock()

	for _, it := range items {
		if err := it.SendFrames(frames...); err != nil {
			logger.WithFields(logrus.Fields{
				"sim":          s.sim,
				"subscriberID": it.owner.id,
				"error":        err.Error(),
			}).Warn("转发终端消息失败")
		}
	}
}

// BindDevice 实现 session.Forwarder
func (s *SimSender) BindDevice(h *session.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.device = h
	for _, it := range s.items {
		it.BindDevice(h)
	}
}

// Subscribed 当前订阅了该终端的转发方数量
func (s *SimSender) Subscribed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLocked()
	return len(s.items)
}
