package main

import (
	"fmt"
	"net"

	"github.com/bujia-iot/jt808-gateway/internal/infrastructure/logger"
	"github.com/bujia-iot/jt808-gateway/pkg/constants"
	"github.com/bujia-iot/jt808-gateway/pkg/protocol"
	"github.com/sirupsen/logrus"
)

// runForwarder 以转发方身份订阅终端并打印收到的消息
func runForwarder(addr string, sims []string, stop <-chan struct{}) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("连接失败: %w", err)
	}
	defer conn.Close()

	ctrl, err := protocol.EncodeForwardControl(constants.ForwardOpReset, sims)
	if err != nil {
		return err
	}
	if _, err := conn.Write(ctrl); err != nil {
		return fmt.Errorf("发送订阅失败: %w", err)
	}
	logger.WithFields(logrus.Fields{"remoteAddr": addr, "sims": sims}).Info("已订阅终端")

	go func() {
		<-stop
		_ = conn.Close()
	}()

	decoder := protocol.NewForwardDecoder()
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			select {
			case <-stop:
				return nil
			default:
				return fmt.Errorf("转发连接断开: %w", err)
			}
		}
		decoder.Feed(buf[:n])
		for {
			pkt, err := decoder.Next()
			if err != nil {
				return err
			}
			if pkt == nil {
				break
			}
			if pkt.Message == nil {
				continue
			}
			h := pkt.Message.Header
			logger.WithFields(logrus.Fields{
				"sim":     h.SIM,
				"msgID":   logger.FormatMsgID(h.MsgID),
				"msgName": constants.MsgIDName(h.MsgID),
				"sn":      h.SN,
				"bodyLen": len(pkt.Message.Body),
			}).Info("收到终端消息")
		}
	}
}
