package forward

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bujia-iot/jt808-gateway/internal/infrastructure/logger"
	"github.com/bujia-iot/jt808-gateway/pkg/network"
	"github.com/bujia-iot/jt808-gateway/pkg/protocol"
	"github.com/bujia-iot/jt808-gateway/pkg/session"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Registry 全部转发方连接
// 订阅关系每变更一次版本号加一，终端侧的 SimSender 据此判断缓存是否过期
type Registry struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	version     atomic.Uint64
	lookup      session.Lookup
}

// SubscriberInfo 转发方快照
type SubscriberInfo struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remoteAddr"`
	ConnectedAt time.Time `json:"connectedAt"`
	SIMs        []string  `json:"sims"`
}

// NewRegistry 创建转发注册表，lookup 用于转发方订阅时找到已在线的终端，可以为 nil
func NewRegistry(lookup session.Lookup) *Registry {
	return &Registry{
		subscribers: make(map[string]*Subscriber),
		lookup:      lookup,
	}
}

// Attach 登记一个新的转发方连接
func (r *Registry) Attach(remote string, writer *network.TCPWriter) *Subscriber {
	s := &Subscriber{
		id:          uuid.New().String(),
		remote:      remote,
		writer:      writer,
		registry:    r,
		items:       make(map[string]*Item),
		connectedAt: time.Now(),
	}
	r.mu.Lock()
	r.subscribers[s.id] = s
	r.mu.Unlock()

	logger.WithFields(logrus.Fields{
		"subscriberID": s.id,
		"remoteAddr":   remote,
	}).Info("转发方已连接")
	return s
}

// Detach 转发方断开，其订阅全部失效
func (r *Registry) Detach(s *Subscriber) {
	r.mu.Lock()
	_, ok := r.subscribers[s.id]
	delete(r.subscribers, s.id)
	r.mu.Unlock()
	if !ok {
		return
	}

	s.writer.Close()
	n := s.clear()
	if n > 0 {
		r.bump()
	}
	logger.WithFields(logrus.Fields{
		"subscriberID": s.id,
		"remoteAddr":   s.remote,
		"sims":         n,
	}).Info("转发方已断开")
}

// Version 订阅关系版本号
func (r *Registry) Version() uint64 {
	return r.version.Load()
}

func (r *Registry) bump() {
	r.version.Add(1)
}

// Count 转发方连接数
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers)
}

// itemsFor 收集订阅了该手机号的转发项
func (r *Registry) itemsFor(sim string) []*Item {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var items []*Item
	for _, s := range r.subscribers {
		if it := s.item(sim); it != nil {
			items = append(items, it)
		}
	}
	return items
}

// GetForwardSender 为终端创建转发出口，创建时即按当前订阅填充
func (r *Registry) GetForwardSender(sim string) *SimSender {
	s := &SimSender{sim: protocol.NormalizeSIM(sim), registry: r}
	s.mu.Lock()
	s.refreshLocked()
	s.mu.Unlock()
	return s
}

// GetForwarder 实现 session.ForwardResolver
func (r *Registry) GetForwarder(sim string) session.Forwarder {
	return r.GetForwardSender(sim)
}

// lookupDevice 按手机号找在线终端
func (r *Registry) lookupDevice(sim string) *session.Handle {
	if r.lookup == nil {
		return nil
	}
	h, ok := r.lookup.Lookup(sim)
	if !ok {
		return nil
	}
	return h
}

// Subscribers 全部转发方的快照
func (r *Registry) Subscribers() []SubscriberInfo {
	r.mu.RLock()
	subs := make([]*Subscriber, 0, len(r.subscribers))
	for _, s := range r.subscribers {
		subs = append(subs, s)
	}
	r.mu.RUnlock()

	infos := make([]SubscriberInfo, 0, len(subs))
	for _, s := range subs {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ConnectedAt.Before(infos[j].ConnectedAt) })
	return infos
}

// CloseAll 停机时断开全部转发方
func (r *Registry) CloseAll() {
	r.mu.RLock()
	subs := make([]*Subscriber, 0, len(r.subscribers))
	for _, s := range r.subscribers {
		subs = append(subs, s)
	}
	r.mu.RUnlock()
	for _, s := range subs {
		r.Detach(s)
	}
}
