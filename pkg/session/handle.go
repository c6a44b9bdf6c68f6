package session

import (
	"context"
	"encoding/binary"
	"sync/atomic"
	"time"

	"github.com/bujia-iot/jt808-gateway/internal/infrastructure/logger"
	"github.com/bujia-iot/jt808-gateway/pkg/constants"
	"github.com/bujia-iot/jt808-gateway/pkg/errors"
	"github.com/bujia-iot/jt808-gateway/pkg/network"
	"github.com/bujia-iot/jt808-gateway/pkg/protocol"
	"github.com/sirupsen/logrus"
)

// CommandResultTimeout 指令未收到应答时返回给整数结果调用方的值
const CommandResultTimeout = -1

// ResultCode 把 SendCommand 的返回值折算为整数结果，失败统一为 -1
func ResultCode(result byte, err error) int {
	if err != nil {
		return CommandResultTimeout
	}
	return int(result)
}

// Handle 终端会话的共享句柄
// 注册表、转发项和正在执行的指令都可能持有它，连接对象销毁后仍可安全调用，关闭后所有操作快速失败
type Handle struct {
	sim            string
	remote         string
	traceID        string
	writer         *network.TCPWriter
	packager       *protocol.Packager
	pending        *network.ResponseWaiter
	commandTimeout time.Duration
	connectedAt    time.Time
	lastSeen       atomic.Int64
	closed         atomic.Bool
}

// HandleOptions 创建句柄的参数
type HandleOptions struct {
	SIM            string
	RemoteAddr     string
	TraceID        string
	Writer         *network.TCPWriter
	Packager       *protocol.Packager
	CommandTimeout time.Duration
}

// NewHandle 创建会话句柄
func NewHandle(opts HandleOptions) *Handle {
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = constants.DefaultCommandTimeout
	}
	h := &Handle{
		sim:            opts.SIM,
		remote:         opts.RemoteAddr,
		traceID:        opts.TraceID,
		writer:         opts.Writer,
		packager:       opts.Packager,
		pending:        network.NewResponseWaiter(),
		commandTimeout: opts.CommandTimeout,
		connectedAt:    time.Now(),
	}
	h.Touch()
	return h
}

// SIM 终端手机号
func (h *Handle) SIM() string { return h.sim }

// RemoteAddr 终端地址
func (h *Handle) RemoteAddr() string { return h.remote }

// IsClosed 会话是否已关闭
func (h *Handle) IsClosed() bool { return h.closed.Load() }

// Close 关闭会话，等待中的指令立即失败，底层连接由所属连接负责关闭
func (h *Handle) Close() {
	if h.closed.CompareAndSwap(false, true) {
		h.pending.Close()
	}
}

// Touch 刷新最后活跃时间
func (h *Handle) Touch() {
	h.lastSeen.Store(time.Now().UnixNano())
}

// LastSeen 最后活跃时间
func (h *Handle) LastSeen() time.Time {
	return time.Unix(0, h.lastSeen.Load())
}

// Info 会话快照
func (h *Handle) Info() Info {
	return Info{
		SIM:         h.sim,
		RemoteAddr:  h.remote,
		TraceID:     h.traceID,
		ConnectedAt: h.connectedAt,
		LastSeen:    h.LastSeen(),
		Pending:     h.pending.GetWaitingCount(),
	}
}

// DistributeSN 预留 n 个连续流水号
func (h *Handle) DistributeSN(n int) uint16 {
	return h.packager.DistributeSN(n)
}

// Reply 发送协议层应答，不等待终端回复
func (h *Handle) Reply(id uint16, body protocol.BodyEncoder) error {
	if h.IsClosed() {
		return errors.ErrSessionClosed
	}
	msgs, err := h.packager.Serialize(id, body)
	if err != nil {
		return err
	}
	return h.writer.SendFrames(frames(msgs)...)
}

// SendCommand 下发平台指令并等待终端通用应答，返回终端的结果码
// 超时返回 ErrCommandTimeout，会话关闭返回 ErrSessionClosed
func (h *Handle) SendCommand(ctx context.Context, id uint16, body protocol.BodyEncoder) (byte, error) {
	if h.IsClosed() {
		return 0, errors.ErrSessionClosed
	}
	msgs, err := h.packager.Serialize(id, body)
	if err != nil {
		return 0, err
	}

	// 分包指令以最后一包的流水号等待应答
	waiter := h.pending.RegisterCommand(msgs[len(msgs)-1].Header.SN)
	if err := h.writer.SendFrames(frames(msgs)...); err != nil {
		waiter.Cancel()
		return 0, err
	}

	result, err := waiter.Wait(ctx, h.commandTimeout)
	fields := logrus.Fields{
		"sim":   h.sim,
		"msgID": logger.FormatMsgID(id),
		"sn":    waiter.SN(),
	}
	if err != nil {
		fields["error"] = err.Error()
		logger.WithFields(fields).Warn("平台指令未收到应答")
		return 0, err
	}
	fields["result"] = result
	logger.WithFields(fields).Info("平台指令收到应答")
	return result, nil
}

// ForwardRecv 把转发方发来的消息写给终端
// 按分包数预留流水号并逐包改写，每个流水号登记到转发方，终端的应答会回到该转发方
func (h *Handle) ForwardRecv(msg *protocol.MergedMessage, target network.FrameSender) bool {
	if h.IsClosed() || len(msg.Fragments) == 0 {
		return false
	}
	first := h.DistributeSN(len(msg.Fragments))
	out := make([][]byte, len(msg.Fragments))
	for i, frag := range msg.Fragments {
		sn := first + uint16(i)
		h.pending.RegisterForward(sn, frag.Header.SN, target)
		out[i] = frag.WithSN(sn).Frame()
	}
	if err := h.writer.SendFrames(out...); err != nil {
		logger.WithFields(logrus.Fields{
			"sim":   h.sim,
			"msgID": logger.FormatMsgID(msg.Header.MsgID),
			"error": err.Error(),
		}).Warn("转发消息写入终端失败")
		return false
	}
	return true
}

// ResolveAck 处理终端通用应答
// 匹配到平台指令时交付结果，匹配到转发消息时还原流水号后交给转发方，其余丢弃
func (h *Handle) ResolveAck(ack *protocol.GeneralAck, msg *protocol.MergedMessage) network.AckRoute {
	route := h.pending.Resolve(ack.AnswerSN, ack.Result)
	if !route.Matched || route.Command || route.Target == nil {
		return route
	}

	frag := msg.Fragments[0]
	body := append([]byte(nil), frag.Body...)
	binary.BigEndian.PutUint16(body[0:2], route.OriginSN)
	restored := &protocol.Message{Header: frag.Header, Body: body}
	if err := route.Target.SendFrames(restored.Frame()); err != nil {
		logger.WithFields(logrus.Fields{
			"sim":      h.sim,
			"answerSN": ack.AnswerSN,
			"error":    err.Error(),
		}).Warn("终端应答回传转发方失败")
	}
	return route
}

// PendingCount 等待应答的条目数
func (h *Handle) PendingCount() int {
	return h.pending.GetWaitingCount()
}

// CleanupForwards 清理长期未应答的转发条目
func (h *Handle) CleanupForwards(maxAge time.Duration) int {
	return h.pending.CleanupForwards(maxAge)
}

func frames(msgs []*protocol.Message) [][]byte {
	out := make([][]byte, len(msgs))
	for i, m := range msgs {
		out[i] = m.Frame()
	}
	return out
}
