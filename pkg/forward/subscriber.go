package forward

import (
	"sort"
	"sync"
	"time"

	"github.com/bujia-iot/jt808-gateway/internal/infrastructure/logger"
	"github.com/bujia-iot/jt808-gateway/pkg/constants"
	"github.com/bujia-iot/jt808-gateway/pkg/network"
	"github.com/bujia-iot/jt808-gateway/pkg/protocol"
	"github.com/sirupsen/logrus"
)

// Subscriber 一个转发方连接及其订阅的终端
type Subscriber struct {
	id          string
	remote      string
	writer      *network.TCPWriter
	registry    *Registry
	connectedAt time.Time

	mu    sync.RWMutex
	items map[string]*Item
}

// ID 转发方连接ID
func (s *Subscriber) ID() string { return s.id }

// RemoteAddr 转发方地址
func (s *Subscriber) RemoteAddr() string { return s.remote }

func (s *Subscriber) item(sim string) *Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items[sim]
}

// Add 订阅终端，已订阅的保持不变
// 返回订阅关系是否发生变化，有变化时注册表版本号加一
func (s *Subscriber) Add(sims ...string) bool {
	s.mu.Lock()
	changed := false
	for _, sim := range sims {
		sim = protocol.NormalizeSIM(sim)
		if _, ok := s.items[sim]; ok {
			continue
		}
		s.items[sim] = newItem(sim, s)
		changed = true
	}
	s.mu.Unlock()

	if changed {
		s.registry.bump()
	}
	return changed
}

// Remove 取消订阅
func (s *Subscriber) Remove(sims ...string) bool {
	s.mu.Lock()
	changed := false
	for _, sim := range sims {
		sim = protocol.NormalizeSIM(sim)
		if _, ok := s.items[sim]; ok {
			delete(s.items, sim)
			changed = true
		}
	}
	s.mu.Unlock()

	if changed {
		s.registry.bump()
	}
	return changed
}

// Reset 以新列表替换全部订阅，仍在列表中的终端保留原转发项
func (s *Subscriber) Reset(sims ...string) bool {
	next := make(map[string]*Item, len(sims))
	s.mu.Lock()
	for _, sim := range sims {
		sim = protocol.NormalizeSIM(sim)
		if it, ok := s.items[sim]; ok {
			next[sim] = it
		} else {
			next[sim] = newItem(sim, s)
		}
	}
	changed := len(next) != len(s.items)
	if !changed {
		for sim := range next {
			if _, ok := s.items[sim]; !ok {
				changed = true
				break
			}
		}
	}
	s.items = next
	s.mu.Unlock()

	if changed {
		s.registry.bump()
	}
	return changed
}

// clear 清空订阅，返回清掉的数量
func (s *Subscriber) clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.items)
	s.items = make(map[string]*Item)
	return n
}

// SIMs 已订阅的手机号，按字典序
func (s *Subscriber) SIMs() []string {
	s.mu.RLock()
	sims := make([]string, 0, len(s.items))
	for sim := range s.items {
		sims = append(sims, sim)
	}
	s.mu.RUnlock()
	sort.Strings(sims)
	return sims
}

// Info 转发方快照
func (s *Subscriber) Info() SubscriberInfo {
	return SubscriberInfo{
		ID:          s.id,
		RemoteAddr:  s.remote,
		ConnectedAt: s.connectedAt,
		SIMs:        s.SIMs(),
	}
}

// HandleControl 处理订阅控制帧，未知操作码记录后忽略
func (s *Subscriber) HandleControl(ctrl *protocol.ForwardControl) {
	fields := logrus.Fields{
		"subscriberID": s.id,
		"remoteAddr":   s.remote,
		"op":           ctrl.Op,
		"sims":         ctrl.SIMs,
	}
	var changed bool
	switch ctrl.Op {
	case constants.ForwardOpReset:
		changed = s.Reset(ctrl.SIMs...)
	case constants.ForwardOpAdd:
		changed = s.Add(ctrl.SIMs...)
	case constants.ForwardOpRemove:
		changed = s.Remove(ctrl.SIMs...)
	default:
		logger.WithFields(fields).Warn("未知的转发控制操作码，忽略")
		return
	}
	fields["changed"] = changed
	logger.WithFields(fields).Info("转发订阅变更")
}

// HandleData 把转发方的消息下发给终端，未订阅或终端不在线时丢弃
func (s *Subscriber) HandleData(msg *protocol.MergedMessage) bool {
	sim := msg.Header.SIM
	fields := logrus.Fields{
		"subscriberID": s.id,
		"sim":          sim,
		"msgID":        logger.FormatMsgID(msg.Header.MsgID),
		"sn":           msg.Header.SN,
	}
	it := s.item(sim)
	if it == nil {
		logger.WithFields(fields).Debug("转发方下发未订阅终端的消息，丢弃")
		return false
	}
	if !it.ForwardRecv(msg) {
		logger.WithFields(fields).Debug("终端不在线，转发消息丢弃")
		return false
	}
	return true
}

// SendFrames 每帧加长度前缀后一次写出
func (s *Subscriber) SendFrames(frames ...[]byte) error {
	out := make([][]byte, 0, len(frames))
	for _, f := range frames {
		encoded, err := protocol.EncodeForward(f)
		if err != nil {
			return err
		}
		out = append(out, encoded)
	}
	return s.writer.SendFrames(out...)
}
