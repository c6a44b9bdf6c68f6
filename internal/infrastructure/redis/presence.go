package redis

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bujia-iot/jt808-gateway/internal/infrastructure/logger"
	"github.com/bujia-iot/jt808-gateway/pkg/session"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// presenceQueueSize 待写入事件上限，Redis 变慢时丢弃新事件而不是阻塞会话注册表
const presenceQueueSize = 4096

type presenceEvent struct {
	online bool
	info   session.Info
}

// PresenceStore 把终端在线状态同步到 Redis 哈希 <prefix>online
// 实现 session.Observer，回调只入队，由后台协程写入
type PresenceStore struct {
	client redis.Cmdable
	key    string
	events chan presenceEvent
	apply  func(ctx context.Context, ev presenceEvent) error

	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

// NewPresenceStore 创建在线状态同步器并启动写入协程
func NewPresenceStore(client redis.Cmdable, keyPrefix string) *PresenceStore {
	p := &PresenceStore{
		client: client,
		key:    keyPrefix + "online",
		events: make(chan presenceEvent, presenceQueueSize),
	}
	p.apply = p.write
	p.wg.Add(1)
	go p.run()
	return p
}

// Key 在线状态哈希的键名
func (p *PresenceStore) Key() string {
	return p.key
}

// OnSessionBound 终端上线
func (p *PresenceStore) OnSessionBound(info session.Info) {
	p.enqueue(presenceEvent{online: true, info: info})
}

// OnSessionUnbound 终端下线
func (p *PresenceStore) OnSessionUnbound(info session.Info) {
	p.enqueue(presenceEvent{online: false, info: info})
}

func (p *PresenceStore) enqueue(ev presenceEvent) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.events <- ev:
	default:
		p.dropped.Add(1)
		logger.WithField("sim", ev.info.SIM).Warn("在线状态队列已满，丢弃事件")
	}
}

// Dropped 因队列满被丢弃的事件数
func (p *PresenceStore) Dropped() uint64 {
	return p.dropped.Load()
}

func (p *PresenceStore) run() {
	defer p.wg.Done()
	for ev := range p.events {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := p.apply(ctx, ev); err != nil {
			logger.WithFields(logrus.Fields{
				"sim":    ev.info.SIM,
				"online": ev.online,
				"error":  err.Error(),
			}).Warn("同步终端在线状态失败")
		}
		cancel()
	}
}

func (p *PresenceStore) write(ctx context.Context, ev presenceEvent) error {
	if !ev.online {
		return p.client.HDel(ctx, p.key, ev.info.SIM).Err()
	}
	value, err := json.Marshal(ev.info)
	if err != nil {
		return err
	}
	return p.client.HSet(ctx, p.key, ev.info.SIM, value).Err()
}

// Clear 启动时清掉上次运行遗留的在线记录
func (p *PresenceStore) Clear(ctx context.Context) error {
	return p.client.Del(ctx, p.key).Err()
}

// Close 停止接收事件，等待队列写完
func (p *PresenceStore) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.events)
	p.mu.Unlock()
	p.wg.Wait()
}
