package session

import (
	"sort"
	"sync"
	"time"

	"github.com/bujia-iot/jt808-gateway/internal/infrastructure/logger"
	"github.com/bujia-iot/jt808-gateway/pkg/protocol"
	"github.com/sirupsen/logrus"
)

// Registry 终端手机号到在线会话的映射，同一手机号最多一个未关闭的会话
// 只通过 Insert/Remove/Lookup 访问，读路径返回句柄指针，不在锁外暴露映射
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]*Handle
	observers []Observer
}

// NewRegistry 创建会话注册表
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Handle)}
}

// AddObserver 注册变更通知，应在开始服务前调用
func (r *Registry) AddObserver(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

// Insert 登记会话，已有会话被挤出并关闭，后登记者生效
func (r *Registry) Insert(sim string, h *Handle) {
	sim = protocol.NormalizeSIM(sim)

	r.mu.Lock()
	old, exists := r.sessions[sim]
	r.sessions[sim] = h
	if exists && old != h {
		old.Close()
	}
	// 持锁通知，同一手机号的上下线事件与注册表变更顺序一致
	info := h.Info()
	for _, o := range r.observers {
		o.OnSessionBound(info)
	}
	r.mu.Unlock()

	if exists && old != h {
		logger.WithFields(logrus.Fields{
			"sim":        sim,
			"oldRemote":  old.RemoteAddr(),
			"newRemote":  h.RemoteAddr(),
			"oldTraceID": old.traceID,
		}).Warn("终端重复登录，旧会话已被挤下线")
	}
}

// Remove 注销会话，只有仍是当前生效的会话时才删除
// 先检查关闭标志，加锁后再检查一次，被挤出的旧会话不会误删新会话
func (r *Registry) Remove(sim string, h *Handle) bool {
	sim = protocol.NormalizeSIM(sim)
	if h.IsClosed() {
		return false
	}

	r.mu.Lock()
	if h.IsClosed() || r.sessions[sim] != h {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, sim)
	h.Close()
	info := h.Info()
	for _, o := range r.observers {
		o.OnSessionUnbound(info)
	}
	r.mu.Unlock()
	return true
}

// Lookup 查找在线会话
func (r *Registry) Lookup(sim string) (*Handle, bool) {
	sim = protocol.NormalizeSIM(sim)
	r.mu.RLock()
	h, ok := r.sessions[sim]
	r.mu.RUnlock()
	if !ok || h.IsClosed() {
		return nil, false
	}
	return h, true
}

// Count 在线会话数
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot 全部在线会话的快照，按手机号排序
func (r *Registry) Snapshot() []Info {
	r.mu.RLock()
	handles := make([]*Handle, 0, len(r.sessions))
	for _, h := range r.sessions {
		handles = append(handles, h)
	}
	r.mu.RUnlock()

	infos := make([]Info, 0, len(handles))
	for _, h := range handles {
		infos = append(infos, h.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].SIM < infos[j].SIM })
	return infos
}

// CloseAll 关闭全部会话，停机时使用
func (r *Registry) CloseAll() {
	r.mu.Lock()
	handles := r.sessions
	r.sessions = make(map[string]*Handle)
	r.mu.Unlock()

	for _, h := range handles {
		h.Close()
	}
}

// CleanupForwards 清理全部会话中超时未应答的转发流水号，返回清理条数
func (r *Registry) CleanupForwards(maxAge time.Duration) int {
	r.mu.RLock()
	handles := make([]*Handle, 0, len(r.sessions))
	for _, h := range r.sessions {
		handles = append(handles, h)
	}
	r.mu.RUnlock()

	n := 0
	for _, h := range handles {
		n += h.CleanupForwards(maxAge)
	}
	return n
}
