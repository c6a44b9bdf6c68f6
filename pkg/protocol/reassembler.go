package protocol

import (
	"time"
)

// DefaultMaxPendingGroups 每个连接最多同时缓存的未完成分包组
const DefaultMaxPendingGroups = 64

// MergedMessage 合包后的完整消息
type MergedMessage struct {
	Header    Header     // 第一包的消息头
	Body      []byte     // 按包序号拼接后的消息体
	Fragments []*Message // 按包序号排列的物理帧，未分包时只有一个
}

// NewMergedMessage 把未分包的消息包装为完整消息
func NewMergedMessage(m *Message) *MergedMessage {
	return &MergedMessage{Header: m.Header, Body: m.Body, Fragments: []*Message{m}}
}

// Frames 每个物理帧的转义编码
func (m *MergedMessage) Frames() [][]byte {
	frames := make([][]byte, len(m.Fragments))
	for i, f := range m.Fragments {
		frames[i] = f.Frame()
	}
	return frames
}

type fragmentGroup struct {
	total   uint16
	parts   map[uint16]*Message
	created time.Time
}

// Reassembler 按第一包流水号归组分包，收齐后合并
// 分组只在单个连接内有效，不是并发安全的
type Reassembler struct {
	groups    map[uint16]*fragmentGroup
	maxGroups int
	now       func() time.Time
}

// NewReassembler 创建分包合并器
func NewReassembler() *Reassembler {
	return &Reassembler{
		groups:    make(map[uint16]*fragmentGroup),
		maxGroups: DefaultMaxPendingGroups,
		now:       time.Now,
	}
}

// Add 加入一个物理帧，收齐时返回合并后的消息，否则返回 nil
func (r *Reassembler) Add(m *Message) *MergedMessage {
	h := &m.Header
	if !h.IsFragmented() {
		return NewMergedMessage(m)
	}
	if h.FragTotal == 0 || h.FragIndex == 0 || h.FragIndex > h.FragTotal {
		return nil
	}
	if h.FragTotal == 1 {
		return NewMergedMessage(m)
	}

	key := h.FirstSN()
	group, ok := r.groups[key]
	if !ok || group.total != h.FragTotal {
		if !ok && len(r.groups) >= r.maxGroups {
			r.evictOldest()
		}
		group = &fragmentGroup{
			total:   h.FragTotal,
			parts:   make(map[uint16]*Message, h.FragTotal),
			created: r.now(),
		}
		r.groups[key] = group
	}
	group.parts[h.FragIndex] = m
	if len(group.parts) < int(group.total) {
		return nil
	}

	delete(r.groups, key)
	merged := &MergedMessage{Fragments: make([]*Message, 0, group.total)}
	size := 0
	for i := uint16(1); i <= group.total; i++ {
		size += len(group.parts[i].Body)
	}
	merged.Body = make([]byte, 0, size)
	for i := uint16(1); i <= group.total; i++ {
		part := group.parts[i]
		merged.Fragments = append(merged.Fragments, part)
		merged.Body = append(merged.Body, part.Body...)
	}
	merged.Header = merged.Fragments[0].Header
	return merged
}

// Pending 未完成的分包组数量
func (r *Reassembler) Pending() int {
	return len(r.groups)
}

func (r *Reassembler) evictOldest() {
	var (
		oldestKey uint16
		oldest    time.Time
		found     bool
	)
	for k, g := range r.groups {
		if !found || g.created.Before(oldest) {
			oldestKey, oldest, found = k, g.created, true
		}
	}
	if found {
		delete(r.groups, oldestKey)
	}
}
