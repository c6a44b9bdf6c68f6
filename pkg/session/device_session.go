package session

import (
	"github.com/bujia-iot/jt808-gateway/internal/infrastructure/logger"
	"github.com/bujia-iot/jt808-gateway/pkg/constants"
	"github.com/bujia-iot/jt808-gateway/pkg/protocol"
	"github.com/sirupsen/logrus"
)

// DeviceSession 单个终端的消息处理状态机
// 由所属连接串行调用，不需要加锁
type DeviceSession struct {
	handle    *Handle
	forwarder Forwarder
	authCode  string
}

// NewDeviceSession 创建终端会话
func NewDeviceSession(h *Handle, fw Forwarder, authCode string) *DeviceSession {
	if fw == nil {
		fw = noopForwarder{}
	}
	if authCode == "" {
		authCode = constants.DefaultRegisterAuthCode
	}
	return &DeviceSession{handle: h, forwarder: fw, authCode: authCode}
}

// Shared 会话的共享句柄
func (s *DeviceSession) Shared() *Handle {
	return s.handle
}

// HandleMessage 处理一条完整消息
// 通用应答、注册、鉴权在这里终结，其余消息全部转发
func (s *DeviceSession) HandleMessage(msg *protocol.MergedMessage) error {
	h := &msg.Header
	fields := logrus.Fields{
		"sim":        h.SIM,
		"remoteAddr": s.handle.RemoteAddr(),
		"msgID":      logger.FormatMsgID(h.MsgID),
		"msgName":    constants.MsgIDName(h.MsgID),
		"sn":         h.SN,
	}

	switch h.MsgID {
	case constants.MsgIDTerminalGeneralAck:
		ack, err := protocol.ParseGeneralAck(msg.Body)
		if err != nil {
			fields["error"] = err.Error()
			logger.WithFields(fields).Warn("终端通用应答格式错误")
			return nil
		}
		route := s.handle.ResolveAck(ack, msg)
		if !route.Matched {
			fields["answerSN"] = ack.AnswerSN
			logger.WithFields(fields).Debug("终端通用应答无匹配请求，丢弃")
		}
		return nil

	case constants.MsgIDHeartbeat:
		s.handle.Touch()

	case constants.MsgIDRegister:
		if req, err := protocol.ParseRegisterRequest(msg.Body, h.Is2019()); err == nil {
			fields["plate"] = req.Plate
			fields["terminalID"] = req.TerminalID
		}
		logger.WithFields(fields).Info("终端注册")
		return s.handle.Reply(constants.MsgIDRegisterAck, &protocol.RegisterAck{
			AnswerSN: h.SN,
			Result:   constants.AckResultSuccess,
			AuthCode: s.authCode,
		})

	case constants.MsgIDAuthenticate:
		if req, err := protocol.ParseAuthRequest(msg.Body, h.Is2019()); err == nil {
			fields["authCode"] = req.AuthCode
		}
		logger.WithFields(fields).Info("终端鉴权")
		return s.handle.Reply(constants.MsgIDPlatformGeneralAck, &protocol.GeneralAck{
			AnswerSN: h.SN,
			AnswerID: h.MsgID,
			Result:   constants.AckResultSuccess,
		})

	case constants.MsgIDDeregister, constants.MsgIDQueryParamsAck, constants.MsgIDLocationReport:
		logger.WithFields(fields).Debug("终端上行消息")
	}

	s.forwarder.Forward(msg.Frames()...)
	return nil
}
