package session

import (
	"sync"
	"time"

	"github.com/bujia-iot/jt808-gateway/internal/infrastructure/logger"
	"github.com/bujia-iot/jt808-gateway/pkg/constants"
	"github.com/bujia-iot/jt808-gateway/pkg/errors"
	"github.com/bujia-iot/jt808-gateway/pkg/network"
	"github.com/bujia-iot/jt808-gateway/pkg/protocol"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ConnectionOptions 终端连接参数
type ConnectionOptions struct {
	MaxFrameLength int
	MaxBodyLength  int
	AuthCode       string
	CommandTimeout time.Duration
	LogHexDump     bool
}

// DeviceConnection 一条终端TCP连接
// 负责切帧合包，按消息头中的手机号把消息交给对应的终端会话
// 终端身份在第一条消息到达时才确定，一条连接上可以出现多个手机号
type DeviceConnection struct {
	mu           sync.Mutex
	traceID      string
	remote       string
	writer       *network.TCPWriter
	parser       *protocol.StreamParser
	sessions     map[string]*DeviceSession
	registry     *Registry
	forwards     ForwardResolver
	opts         ConnectionOptions
	lastActivity time.Time
	closed       bool
}

// NewDeviceConnection 创建终端连接，forwards 为 nil 时不转发
func NewDeviceConnection(remote string, writer *network.TCPWriter, registry *Registry, forwards ForwardResolver, opts ConnectionOptions) *DeviceConnection {
	return &DeviceConnection{
		traceID:      uuid.New().String(),
		remote:       remote,
		writer:       writer,
		parser:       protocol.NewStreamParser(opts.MaxFrameLength),
		sessions:     make(map[string]*DeviceSession),
		registry:     registry,
		forwards:     forwards,
		opts:         opts,
		lastActivity: time.Now(),
	}
}

// TraceID 连接追踪ID
func (c *DeviceConnection) TraceID() string {
	return c.traceID
}

// OnData 处理从连接读到的一段数据，返回错误时调用方应关闭连接
func (c *DeviceConnection) OnData(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.ErrSessionClosed
	}
	c.lastActivity = time.Now()
	if c.opts.LogHexDump {
		logger.HexDump("终端上行数据", c.remote, data)
	}
	c.parser.Feed(data)

	for {
		msg, err := c.parser.Next()
		if err != nil {
			fields := logrus.Fields{
				"remoteAddr": c.remote,
				"traceID":    c.traceID,
				"error":      err.Error(),
			}
			if errors.IsConnectionFatal(err) {
				logger.WithFields(fields).Error("终端数据流失步，关闭连接")
				return err
			}
			logger.WithFields(fields).Warn("丢弃无效帧")
			continue
		}
		if msg == nil {
			return nil
		}
		if err := c.dispatch(msg); err != nil {
			return err
		}
	}
}

func (c *DeviceConnection) dispatch(msg *protocol.MergedMessage) error {
	sim := msg.Header.SIM
	s, ok := c.sessions[sim]
	if ok {
		if s.handle.IsClosed() {
			logger.WithFields(logrus.Fields{
				"sim":        sim,
				"remoteAddr": c.remote,
				"traceID":    c.traceID,
			}).Warn("会话已被新连接取代，关闭旧连接")
			return errors.Wrap(errors.ErrCodeSessionClosed, "session replaced", nil)
		}
		return s.HandleMessage(msg)
	}

	h := NewHandle(HandleOptions{
		SIM:            sim,
		RemoteAddr:     c.remote,
		TraceID:        c.traceID,
		Writer:         c.writer,
		Packager:       protocol.NewPackager(msg.Header, c.opts.MaxBodyLength),
		CommandTimeout: c.opts.CommandTimeout,
	})
	var fw Forwarder
	if c.forwards != nil {
		fw = c.forwards.GetForwarder(sim)
	}
	if fw != nil {
		fw.BindDevice(h)
	}
	s = NewDeviceSession(h, fw, c.opts.AuthCode)
	c.sessions[sim] = s
	c.registry.Insert(sim, h)

	logger.WithFields(logrus.Fields{
		"sim":        sim,
		"remoteAddr": c.remote,
		"traceID":    c.traceID,
		"msgID":      logger.FormatMsgID(msg.Header.MsgID),
	}).Info("终端会话建立")
	return s.HandleMessage(msg)
}

// IdleFor 距最后一次收到数据的时长
func (c *DeviceConnection) IdleFor() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastActivity)
}

// SIMs 本连接上出现过的手机号
func (c *DeviceConnection) SIMs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	sims := make([]string, 0, len(c.sessions))
	for sim := range c.sessions {
		sims = append(sims, sim)
	}
	return sims
}

// Close 连接断开或空闲超时后调用，注销仍然生效的会话
func (c *DeviceConnection) Close(reason error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	sessions := c.sessions
	c.sessions = make(map[string]*DeviceSession)
	c.mu.Unlock()

	c.writer.Close()
	for sim, s := range sessions {
		removed := c.registry.Remove(sim, s.handle)
		s.handle.Close()
		fields := logrus.Fields{
			"sim":        sim,
			"remoteAddr": c.remote,
			"traceID":    c.traceID,
			"removed":    removed,
		}
		if reason != nil {
			fields["reason"] = reason.Error()
		}
		logger.WithFields(fields).Info("终端会话结束")
	}
}

// IdleTimeout 从配置秒数换算空闲超时
func IdleTimeout(seconds int) time.Duration {
	if seconds <= 0 {
		return constants.DefaultIdleTimeout
	}
	return time.Duration(seconds) * time.Second
}
