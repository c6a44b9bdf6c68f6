package http

import (
	"time"

	"github.com/bujia-iot/jt808-gateway/pkg/forward"
	"github.com/bujia-iot/jt808-gateway/pkg/session"
)

// DeviceDirectory 处理器依赖的在线终端查询能力，由 session.Registry 实现
type DeviceDirectory interface {
	session.Lookup
	Snapshot() []session.Info
	Count() int
}

// ForwarderDirectory 转发方查询能力，由 forward.Registry 实现
type ForwarderDirectory interface {
	Subscribers() []forward.SubscriberInfo
	Count() int
}

// HandlerContext HTTP处理器上下文
// 包含处理器需要的所有依赖，通过依赖注入提供
type HandlerContext struct {
	Devices    DeviceDirectory
	Forwarders ForwarderDirectory
	startedAt  time.Time
}

// NewHandlerContext 创建处理器上下文，forwarders 可为 nil
func NewHandlerContext(devices DeviceDirectory, forwarders ForwarderDirectory) *HandlerContext {
	return &HandlerContext{
		Devices:    devices,
		Forwarders: forwarders,
		startedAt:  time.Now(),
	}
}
