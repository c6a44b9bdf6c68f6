package http

import (
	"time"

	"github.com/bujia-iot/jt808-gateway/pkg/forward"
	"github.com/bujia-iot/jt808-gateway/pkg/session"
)

// 指令下发接口的返回值，只有一个ASCII数字
const (
	ControlResultOK   = "1"
	ControlResultFail = "0"
)

// APIResponse API统一响应结构
type APIResponse struct {
	Code    int         `json:"code"`           // 响应码，0表示成功
	Message string      `json:"message"`        // 响应消息
	Data    interface{} `json:"data,omitempty"` // 响应数据
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
	Uptime     string    `json:"uptime"`
	Devices    int       `json:"devices"`
	Forwarders int       `json:"forwarders"`
}

// DeviceListResponse 在线终端列表
type DeviceListResponse struct {
	Devices []session.Info `json:"devices"`
	Total   int            `json:"total"`
}

// ForwarderListResponse 转发方列表
type ForwarderListResponse struct {
	Forwarders []forward.SubscriberInfo `json:"forwarders"`
	Total      int                      `json:"total"`
}
