package main

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/bujia-iot/jt808-gateway/internal/infrastructure/logger"
	"github.com/bujia-iot/jt808-gateway/pkg/constants"
	"github.com/bujia-iot/jt808-gateway/pkg/errors"
	"github.com/bujia-iot/jt808-gateway/pkg/protocol"
	"github.com/sirupsen/logrus"
)

// simDevice 模拟一台终端：注册、鉴权、心跳、位置汇报，并应答平台指令
type simDevice struct {
	conn     net.Conn
	packager *protocol.Packager
	writeMu  sync.Mutex
	authed   chan string
}

func runDevice(addr, sim string, stop <-chan struct{}) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("连接失败: %w", err)
	}
	defer conn.Close()

	packager, err := protocol.NewPackagerForSIM(sim, *is2019, 0)
	if err != nil {
		return err
	}
	d := &simDevice{conn: conn, packager: packager, authed: make(chan string, 1)}
	logger.WithFields(logrus.Fields{"sim": sim, "remoteAddr": conn.RemoteAddr().String()}).Info("已连接到网关")

	go d.readLoop()

	if err := d.send(constants.MsgIDRegister, &protocol.RegisterRequest{
		Is2019:       *is2019,
		ProvinceID:   44,
		CityID:       300,
		Manufacturer: "SIM01",
		Model:        "JT808-SIM",
		TerminalID:   "T000001",
		PlateColor:   1,
		Plate:        "粤B12345",
	}); err != nil {
		return err
	}

	select {
	case code := <-d.authed:
		if err := d.send(constants.MsgIDAuthenticate, &protocol.AuthRequest{Is2019: *is2019, AuthCode: code}); err != nil {
			return err
		}
	case <-time.After(10 * time.Second):
		return fmt.Errorf("等待注册应答超时")
	case <-stop:
		return nil
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for i := 0; *count <= 0 || i < *count; i++ {
		select {
		case <-stop:
			return nil
		case <-ticker.C:
		}
		if err := d.send(constants.MsgIDHeartbeat, protocol.RawBody(nil)); err != nil {
			return err
		}
		if err := d.send(constants.MsgIDLocationReport, locationBody(i)); err != nil {
			return err
		}
	}
	logger.Info("模拟终端发送完成")
	return nil
}

func (d *simDevice) send(id uint16, body protocol.BodyEncoder) error {
	msgs, err := d.packager.Serialize(id, body)
	if err != nil {
		return err
	}
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	for _, m := range msgs {
		frame := m.Frame()
		logger.HexDump("终端发送 "+constants.MsgIDName(id), d.conn.RemoteAddr().String(), frame)
		if _, err := d.conn.Write(frame); err != nil {
			return fmt.Errorf("发送失败: %w", err)
		}
	}
	return nil
}

func (d *simDevice) readLoop() {
	parser := protocol.NewStreamParser(constants.DefaultMaxFrameLength)
	buf := make([]byte, 2048)
	for {
		n, err := d.conn.Read(buf)
		if err != nil {
			logger.WithField("error", err.Error()).Info("网关连接已关闭")
			return
		}
		parser.Feed(buf[:n])
		for {
			msg, err := parser.Next()
			if err != nil {
				logger.WithField("error", err.Error()).Warn("收到无效帧")
				if errors.IsConnectionFatal(err) {
					return
				}
				continue
			}
			if msg == nil {
				break
			}
			d.handle(msg)
		}
	}
}

func (d *simDevice) handle(msg *protocol.MergedMessage) {
	h := &msg.Header
	fields := logrus.Fields{"msgID": logger.FormatMsgID(h.MsgID), "sn": h.SN}

	switch h.MsgID {
	case constants.MsgIDRegisterAck:
		ack, err := protocol.ParseRegisterAck(msg.Body)
		if err != nil {
			fields["error"] = err.Error()
			logger.WithFields(fields).Warn("注册应答格式错误")
			return
		}
		fields["result"] = ack.Result
		fields["authCode"] = ack.AuthCode
		logger.WithFields(fields).Info("收到注册应答")
		select {
		case d.authed <- ack.AuthCode:
		default:
		}
	case constants.MsgIDPlatformGeneralAck:
		if ack, err := protocol.ParseGeneralAck(msg.Body); err == nil {
			fields["answerSN"] = ack.AnswerSN
			fields["result"] = ack.Result
		}
		logger.WithFields(fields).Info("收到平台通用应答")
	default:
		// 其余平台指令一律应答成功
		fields["bodyLen"] = len(msg.Body)
		logger.WithFields(fields).Info("收到平台指令")
		ack := &protocol.GeneralAck{AnswerSN: msg.Fragments[len(msg.Fragments)-1].Header.SN, AnswerID: h.MsgID, Result: constants.AckResultSuccess}
		if err := d.send(constants.MsgIDTerminalGeneralAck, ack); err != nil {
			logger.WithField("error", err.Error()).Warn("应答平台指令失败")
		}
	}
}

// locationBody 构造位置信息汇报的基本信息部分
func locationBody(i int) protocol.RawBody {
	body := make([]byte, 0, 28)
	body = binary.BigEndian.AppendUint32(body, 0)                       // 报警标志
	body = binary.BigEndian.AppendUint32(body, 0x03)                    // 状态：ACC开、已定位
	body = binary.BigEndian.AppendUint32(body, uint32(22543000+i*100))  // 纬度，百万分之一度
	body = binary.BigEndian.AppendUint32(body, uint32(113958000+i*100)) // 经度
	body = binary.BigEndian.AppendUint16(body, 20)                      // 高程
	body = binary.BigEndian.AppendUint16(body, 600)                     // 速度，1/10 km/h
	body = binary.BigEndian.AppendUint16(body, uint16((i*15)%360))      // 方向
	ts, _ := protocol.EncodeBCD(time.Now().Format("060102150405"), 6)   // 时间 YYMMDDhhmmss
	return append(body, ts...)
}
