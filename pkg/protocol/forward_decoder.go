package protocol

import (
	"encoding/binary"

	"github.com/bujia-iot/jt808-gateway/pkg/constants"
	"github.com/bujia-iot/jt808-gateway/pkg/errors"
)

// ForwardControl 转发通道的订阅控制帧
type ForwardControl struct {
	Op   byte
	SIMs []string // 已去掉前导0
}

// ForwardPacket 转发通道解出的一个包，Control 和 Message 二选一
type ForwardPacket struct {
	Control *ForwardControl
	Message *MergedMessage
}

// ForwardDecoder 解析转发通道：<length:u16><payload>
// payload 以 FF FF FF 开头为控制帧，否则为一个完整的 JT808 转义帧
type ForwardDecoder struct {
	buf         []byte
	reassembler *Reassembler
}

// NewForwardDecoder 创建转发通道解码器
func NewForwardDecoder() *ForwardDecoder {
	return &ForwardDecoder{reassembler: NewReassembler()}
}

// Feed 追加数据
func (d *ForwardDecoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Next 返回下一个控制帧或完整消息，nil, nil 表示需要更多数据
// 任何错误都意味着转发连接应当关闭
func (d *ForwardDecoder) Next() (*ForwardPacket, error) {
	for {
		if len(d.buf) < constants.ForwardLengthSize {
			return nil, nil
		}
		size := int(binary.BigEndian.Uint16(d.buf[:constants.ForwardLengthSize]))
		if len(d.buf) < constants.ForwardLengthSize+size {
			return nil, nil
		}
		payload := append([]byte(nil), d.buf[constants.ForwardLengthSize:constants.ForwardLengthSize+size]...)
		d.buf = append(d.buf[:0], d.buf[constants.ForwardLengthSize+size:]...)

		if size == 0 {
			return nil, errors.New(errors.ErrCodeForwardProtocol, "empty forward payload")
		}
		if isControlPayload(payload) {
			ctrl, err := parseForwardControl(payload)
			if err != nil {
				return nil, err
			}
			return &ForwardPacket{Control: ctrl}, nil
		}

		msg, err := DecodeFrame(payload)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeForwardProtocol, "invalid data frame", err)
		}
		if merged := d.reassembler.Add(msg); merged != nil {
			return &ForwardPacket{Message: merged}, nil
		}
	}
}

func isControlPayload(p []byte) bool {
	if len(p) < constants.ForwardControlPrefix {
		return false
	}
	for i := 0; i < constants.ForwardControlPrefix; i++ {
		if p[i] != constants.ForwardControlByte {
			return false
		}
	}
	return true
}

func parseForwardControl(p []byte) (*ForwardControl, error) {
	if len(p) < constants.ForwardControlPrefix+1 {
		return nil, errors.New(errors.ErrCodeForwardProtocol, "control frame without opcode")
	}
	ctrl := &ForwardControl{Op: p[constants.ForwardControlPrefix]}
	rest := p[constants.ForwardControlPrefix+1:]
	for len(rest) > 0 {
		if len(rest) < 2 {
			return nil, errors.New(errors.ErrCodeForwardProtocol, "truncated sim length")
		}
		n := int(binary.BigEndian.Uint16(rest[:2]))
		if n == 0 || len(rest) < 2+n {
			return nil, errors.Newf(errors.ErrCodeForwardProtocol, "sim entry length %d, %d bytes left", n, len(rest)-2)
		}
		digits, err := DecodeBCD(rest[2 : 2+n])
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeForwardProtocol, "invalid sim", err)
		}
		ctrl.SIMs = append(ctrl.SIMs, NormalizeSIM(digits))
		rest = rest[2+n:]
	}
	// 至少携带一个手机号
	if len(ctrl.SIMs) == 0 {
		return nil, errors.Newf(errors.ErrCodeForwardProtocol, "control op %d without sim", ctrl.Op)
	}
	return ctrl, nil
}

// EncodeForward 加上两字节长度前缀
func EncodeForward(payload []byte) ([]byte, error) {
	if len(payload) > constants.ForwardMaxPayload {
		return nil, errors.Newf(errors.ErrCodeForwardProtocol, "forward payload %d bytes", len(payload))
	}
	out := make([]byte, 0, constants.ForwardLengthSize+len(payload))
	out = binary.BigEndian.AppendUint16(out, uint16(len(payload)))
	return append(out, payload...), nil
}

// EncodeForwardControl 编码订阅控制帧（含长度前缀），SIM按10字节BCD编码
func EncodeForwardControl(op byte, sims []string) ([]byte, error) {
	if len(sims) == 0 {
		return nil, errors.New(errors.ErrCodeForwardProtocol, "control frame needs at least one sim")
	}
	payload := []byte{constants.ForwardControlByte, constants.ForwardControlByte, constants.ForwardControlByte, op}
	for _, sim := range sims {
		bcd, err := EncodeBCD(sim, constants.SIMSize2019)
		if err != nil {
			return nil, err
		}
		payload = binary.BigEndian.AppendUint16(payload, uint16(len(bcd)))
		payload = append(payload, bcd...)
	}
	return EncodeForward(payload)
}
