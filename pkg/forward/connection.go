package forward

import (
	"sync"

	"github.com/bujia-iot/jt808-gateway/internal/infrastructure/logger"
	"github.com/bujia-iot/jt808-gateway/pkg/errors"
	"github.com/bujia-iot/jt808-gateway/pkg/network"
	"github.com/bujia-iot/jt808-gateway/pkg/protocol"
	"github.com/sirupsen/logrus"
)

// Connection 一条转发方TCP连接
type Connection struct {
	mu       sync.Mutex
	sub      *Subscriber
	registry *Registry
	decoder  *protocol.ForwardDecoder
	closed   bool
}

// NewConnection 创建转发连接并登记到注册表
func NewConnection(remote string, writer *network.TCPWriter, registry *Registry) *Connection {
	return &Connection{
		sub:      registry.Attach(remote, writer),
		registry: registry,
		decoder:  protocol.NewForwardDecoder(),
	}
}

// Subscriber 连接对应的转发方
func (c *Connection) Subscriber() *Subscriber {
	return c.sub
}

// OnData 处理一段数据，返回错误时调用方应关闭连接
func (c *Connection) OnData(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.ErrSessionClosed
	}

	c.decoder.Feed(data)
	for {
		pkt, err := c.decoder.Next()
		if err != nil {
			logger.WithFields(logrus.Fields{
				"subscriberID": c.sub.id,
				"remoteAddr":   c.sub.remote,
				"error":        err.Error(),
			}).Error("转发通道数据格式错误，关闭连接")
			return err
		}
		if pkt == nil {
			return nil
		}
		if pkt.Control != nil {
			c.sub.HandleControl(pkt.Control)
			continue
		}
		c.sub.HandleData(pkt.Message)
	}
}

// Close 连接断开后注销转发方
func (c *Connection) Close(reason error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	if reason != nil {
		logger.WithFields(logrus.Fields{
			"subscriberID": c.sub.id,
			"reason":       reason.Error(),
		}).Debug("转发连接关闭")
	}
	c.registry.Detach(c.sub)
}
