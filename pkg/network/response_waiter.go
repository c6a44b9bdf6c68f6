package network

import (
	"context"
	"sync"
	"time"

	"github.com/bujia-iot/jt808-gateway/pkg/errors"
)

// pendingEntry 等待终端通用应答的条目
// 平台指令和转发消息共用同一张表，同一个流水号只会有一个条目
type pendingEntry struct {
	// 平台指令
	response chan byte
	err      error

	// 转发消息
	target   FrameSender
	originSN uint16

	createTime time.Time
}

func (e *pendingEntry) isCommand() bool {
	return e.response != nil
}

// AckRoute 一个终端通用应答的去向
type AckRoute struct {
	Matched  bool
	Command  bool        // 已交给等待中的平台指令
	Target   FrameSender // 转发消息的来源订阅方
	OriginSN uint16      // 订阅方发送时使用的流水号
}

// ResponseWaiter 按流水号关联终端通用应答
type ResponseWaiter struct {
	mu      sync.Mutex
	waiters map[uint16]*pendingEntry
	closed  bool
}

// NewResponseWaiter 创建新的响应等待器
func NewResponseWaiter() *ResponseWaiter {
	return &ResponseWaiter{
		waiters: make(map[uint16]*pendingEntry),
	}
}

// CommandWaiter 一条平台指令的等待句柄
type CommandWaiter struct {
	sn    uint16
	entry *pendingEntry
	owner *ResponseWaiter
}

// RegisterCommand 登记平台指令，应在写出指令之前调用，避免应答先于登记到达
func (w *ResponseWaiter) RegisterCommand(sn uint16) *CommandWaiter {
	entry := &pendingEntry{
		response:   make(chan byte, 1),
		createTime: time.Now(),
	}
	cw := &CommandWaiter{sn: sn, entry: entry, owner: w}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		entry.err = errors.ErrSessionClosed
		close(entry.response)
		return cw
	}
	w.putLocked(sn, entry)
	return cw
}

// RegisterForward 登记转发给终端的消息
func (w *ResponseWaiter) RegisterForward(sn, originSN uint16, target FrameSender) {
	entry := &pendingEntry{
		target:     target,
		originSN:   originSN,
		createTime: time.Now(),
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.putLocked(sn, entry)
}

// putLocked 流水号回绕后占用同一个位置时，旧条目被挤出，旧指令立即失败
func (w *ResponseWaiter) putLocked(sn uint16, entry *pendingEntry) {
	if old, ok := w.waiters[sn]; ok && old.isCommand() {
		old.err = errors.Newf(errors.ErrCodeCommandTimeout, "sequence %d reused before ack", sn)
		close(old.response)
	}
	w.waiters[sn] = entry
}

// Resolve 按应答流水号交付结果，没有匹配时返回 Matched=false
func (w *ResponseWaiter) Resolve(answerSN uint16, result byte) AckRoute {
	w.mu.Lock()
	entry, ok := w.waiters[answerSN]
	if ok {
		delete(w.waiters, answerSN)
	}
	w.mu.Unlock()

	if !ok {
		return AckRoute{}
	}
	if entry.isCommand() {
		entry.response <- result
		return AckRoute{Matched: true, Command: true}
	}
	return AckRoute{Matched: true, Target: entry.target, OriginSN: entry.originSN}
}

// remove 仅当该流水号下仍是同一个条目时删除
func (w *ResponseWaiter) remove(sn uint16, entry *pendingEntry) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if cur, ok := w.waiters[sn]; ok && cur == entry {
		delete(w.waiters, sn)
		return true
	}
	return false
}

// Close 关闭后所有等待中的指令立即失败，后续登记直接失败
func (w *ResponseWaiter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	for sn, entry := range w.waiters {
		if entry.isCommand() {
			entry.err = errors.ErrSessionClosed
			close(entry.response)
		}
		delete(w.waiters, sn)
	}
}

// GetWaitingCount 获取等待应答的数量
func (w *ResponseWaiter) GetWaitingCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.waiters)
}

// IsWaiting 该流水号是否有等待中的条目
func (w *ResponseWaiter) IsWaiting(sn uint16) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.waiters[sn]
	return ok
}

// CleanupForwards 清理超过 maxAge 仍未收到应答的转发条目
func (w *ResponseWaiter) CleanupForwards(maxAge time.Duration) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	removed := 0
	for sn, entry := range w.waiters {
		if !entry.isCommand() && now.Sub(entry.createTime) > maxAge {
			delete(w.waiters, sn)
			removed++
		}
	}
	return removed
}

// SN 指令使用的流水号
func (cw *CommandWaiter) SN() uint16 {
	return cw.sn
}

// Cancel 放弃等待并注销，写出失败时使用
func (cw *CommandWaiter) Cancel() {
	cw.owner.remove(cw.sn, cw.entry)
}

// Wait 等待应答结果，超时或 ctx 取消时注销自身
func (cw *CommandWaiter) Wait(ctx context.Context, timeout time.Duration) (byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result, ok := <-cw.entry.response:
		if !ok {
			return 0, cw.entry.err
		}
		return result, nil
	case <-timer.C:
		return cw.giveUp(errors.ErrCommandTimeout)
	case <-ctx.Done():
		return cw.giveUp(errors.Wrap(errors.ErrCodeCommandTimeout, "wait cancelled", ctx.Err()))
	}
}

// giveUp 注销失败说明应答已经交付或条目已被关闭，以通道里的结果为准
func (cw *CommandWaiter) giveUp(reason error) (byte, error) {
	if cw.owner.remove(cw.sn, cw.entry) {
		return 0, reason
	}
	result, ok := <-cw.entry.response
	if !ok {
		return 0, cw.entry.err
	}
	return result, nil
}
