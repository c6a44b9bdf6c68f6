package http

import (
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/bujia-iot/jt808-gateway/internal/infrastructure/logger"
	"github.com/bujia-iot/jt808-gateway/pkg/constants"
	"github.com/bujia-iot/jt808-gateway/pkg/protocol"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// 允许通过HTTP下发的指令
var controlCommands = map[uint16]bool{
	constants.MsgIDRealtimeAVRequest: true,
	constants.MsgIDRealtimeAVControl: true,
	constants.MsgIDPlaybackRequest:   true,
	constants.MsgIDPlaybackControl:   true,
	constants.MsgIDQueryResourceList: true,
}

// decodeControlContent 解析 Content 参数
// 以7E开头按完整转义帧解析，否则按消息头+消息体解析，末尾可带校验码
func decodeControlContent(content string) (*protocol.Message, error) {
	content = strings.ReplaceAll(strings.TrimSpace(content), " ", "")
	raw, err := hex.DecodeString(content)
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 && raw[0] == constants.FrameMarker {
		return protocol.DecodeFrame(raw)
	}
	msg, err := protocol.ParseContent(raw)
	if err != nil {
		if withChecksum, err2 := protocol.ParseMessage(raw); err2 == nil {
			return withChecksum, nil
		}
		return nil, err
	}
	return msg, nil
}

// HandleVideoControl 音视频指令下发
// GET /api/VideoControl?Content=<hex>
// 终端应答成功返回"1"，其余情况（参数错误、终端不在线、超时、终端返回失败）返回"0"
func (h *HandlerContext) HandleVideoControl(c *gin.Context) {
	content := c.Query("Content")
	fields := logrus.Fields{"remoteAddr": c.ClientIP(), "content": content}
	if content == "" {
		logger.WithFields(fields).Warn("指令下发缺少Content参数")
		c.String(http.StatusOK, ControlResultFail)
		return
	}

	msg, err := decodeControlContent(content)
	if err != nil {
		fields["error"] = err.Error()
		logger.WithFields(fields).Warn("指令内容解析失败")
		c.String(http.StatusOK, ControlResultFail)
		return
	}
	fields["sim"] = msg.Header.SIM
	fields["msgID"] = logger.FormatMsgID(msg.Header.MsgID)

	if !controlCommands[msg.Header.MsgID] {
		logger.WithFields(fields).Warn("不支持通过HTTP下发的指令")
		c.String(http.StatusOK, ControlResultFail)
		return
	}

	device, ok := h.Devices.Lookup(msg.Header.SIM)
	if !ok {
		logger.WithFields(fields).Warn("终端不在线，指令未下发")
		c.String(http.StatusOK, ControlResultFail)
		return
	}

	result, err := device.SendCommand(c.Request.Context(), msg.Header.MsgID, protocol.RawBody(msg.Body))
	if err != nil {
		fields["error"] = err.Error()
		logger.WithFields(fields).Warn("指令下发失败")
		c.String(http.StatusOK, ControlResultFail)
		return
	}
	fields["result"] = result
	if result != constants.AckResultSuccess {
		logger.WithFields(fields).Warn("终端应答失败")
		c.String(http.StatusOK, ControlResultFail)
		return
	}

	logger.WithFields(fields).Info("指令下发成功")
	c.String(http.StatusOK, ControlResultOK)
}
