package http

import (
	"net/http"
	"time"

	"github.com/bujia-iot/jt808-gateway/pkg/forward"
	"github.com/gin-gonic/gin"
)

// HandleHealthCheck 健康检查
func (h *HandlerContext) HandleHealthCheck(c *gin.Context) {
	resp := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Uptime:    time.Since(h.startedAt).Truncate(time.Second).String(),
		Devices:   h.Devices.Count(),
	}
	if h.Forwarders != nil {
		resp.Forwarders = h.Forwarders.Count()
	}
	c.JSON(http.StatusOK, APIResponse{Code: 0, Message: "success", Data: resp})
}

// HandleDeviceList 在线终端列表
func (h *HandlerContext) HandleDeviceList(c *gin.Context) {
	devices := h.Devices.Snapshot()
	c.JSON(http.StatusOK, APIResponse{
		Code:    0,
		Message: "success",
		Data:    DeviceListResponse{Devices: devices, Total: len(devices)},
	})
}

// HandleDeviceStatus 单个终端状态
func (h *HandlerContext) HandleDeviceStatus(c *gin.Context) {
	sim := c.Param("sim")
	device, ok := h.Devices.Lookup(sim)
	if !ok {
		c.JSON(http.StatusNotFound, APIResponse{Code: http.StatusNotFound, Message: "终端不在线"})
		return
	}
	c.JSON(http.StatusOK, APIResponse{Code: 0, Message: "success", Data: device.Info()})
}

// HandleForwarderList 转发方列表
func (h *HandlerContext) HandleForwarderList(c *gin.Context) {
	var list []forward.SubscriberInfo
	if h.Forwarders != nil {
		list = h.Forwarders.Subscribers()
	}
	if list == nil {
		list = []forward.SubscriberInfo{}
	}
	c.JSON(http.StatusOK, APIResponse{
		Code:    0,
		Message: "success",
		Data:    ForwarderListResponse{Forwarders: list, Total: len(list)},
	})
}

// RegisterRoutes 注册全部HTTP路由
func RegisterRoutes(r gin.IRouter, h *HandlerContext) {
	r.GET("/health", h.HandleHealthCheck)
	r.GET("/api/VideoControl", h.HandleVideoControl)

	api := r.Group("/api/v1")
	{
		api.GET("/devices", h.HandleDeviceList)
		api.GET("/devices/:sim", h.HandleDeviceStatus)
		api.GET("/forwarders", h.HandleForwarderList)
	}
}
