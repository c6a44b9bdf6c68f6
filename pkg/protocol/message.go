package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/bujia-iot/jt808-gateway/pkg/constants"
	"github.com/bujia-iot/jt808-gateway/pkg/errors"
)

// Header JT808 消息头
type Header struct {
	MsgID     uint16
	Props     uint16
	Version   byte   // 协议版本号，仅2019版消息头存在
	SIMRaw    []byte // 原始BCD终端手机号，回复时原样带回
	SIM       string // 去掉前导0后的终端手机号，作为路由键
	SN        uint16
	FragTotal uint16 // 消息总包数，未分包时为0
	FragIndex uint16 // 包序号，从1开始
}

// IsFragmented 消息体属性中是否带分包标志
func (h *Header) IsFragmented() bool {
	return h.Props&constants.FragmentFlag != 0
}

// Is2019 是否为2019版消息头
func (h *Header) Is2019() bool {
	return h.Props&constants.VersionFlag != 0
}

// BodyLength 消息体属性中声明的消息体长度
func (h *Header) BodyLength() int {
	return int(h.Props & constants.BodyLengthMask)
}

// Size 消息头编码后的长度
func (h *Header) Size() int {
	n := constants.HeaderSize2013
	if h.Is2019() {
		n = constants.HeaderSize2019
	}
	if h.IsFragmented() {
		n += constants.FragmentFieldsSize
	}
	return n
}

// FirstSN 分包消息第一包的流水号，与到达顺序无关
func (h *Header) FirstSN() uint16 {
	return h.SN - h.FragIndex + 1
}

func (h *Header) String() string {
	if h.IsFragmented() {
		return fmt.Sprintf("id=0x%04X sim=%s sn=%d pkg=%d/%d", h.MsgID, h.SIM, h.SN, h.FragIndex, h.FragTotal)
	}
	return fmt.Sprintf("id=0x%04X sim=%s sn=%d", h.MsgID, h.SIM, h.SN)
}

// Message 一个物理帧：消息头+消息体
type Message struct {
	Header Header
	Body   []byte
}

// ParseMessage 解析反转义后的帧内容（消息头+消息体+校验码）
func ParseMessage(raw []byte) (*Message, error) {
	if len(raw) < constants.ChecksumSize+2 {
		return nil, errors.Newf(errors.ErrCodeHeader, "frame too short: %d bytes", len(raw))
	}
	content, cs := raw[:len(raw)-1], raw[len(raw)-1]
	if got := Checksum(content); got != cs {
		return nil, errors.Newf(errors.ErrCodeBadChecksum, "checksum want %02X got %02X", cs, got)
	}
	return ParseContent(content)
}

// ParseContent 解析不带校验码的消息头+消息体
func ParseContent(content []byte) (*Message, error) {
	if len(content) < 4 {
		return nil, errors.Newf(errors.ErrCodeHeader, "header truncated: %d bytes", len(content))
	}
	h := Header{
		MsgID: binary.BigEndian.Uint16(content[0:2]),
		Props: binary.BigEndian.Uint16(content[2:4]),
	}
	if len(content) < h.Size() {
		return nil, errors.Newf(errors.ErrCodeHeader, "header truncated: want %d got %d", h.Size(), len(content))
	}

	pos := 4
	simSize := constants.SIMSize2013
	if h.Is2019() {
		h.Version = content[pos]
		pos++
		simSize = constants.SIMSize2019
	}
	h.SIMRaw = append([]byte(nil), content[pos:pos+simSize]...)
	digits, err := DecodeBCD(h.SIMRaw)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeHeader, "invalid sim", err)
	}
	h.SIM = NormalizeSIM(digits)
	pos += simSize
	h.SN = binary.BigEndian.Uint16(content[pos : pos+2])
	pos += 2
	if h.IsFragmented() {
		h.FragTotal = binary.BigEndian.Uint16(content[pos : pos+2])
		h.FragIndex = binary.BigEndian.Uint16(content[pos+2 : pos+4])
		pos += 4
		if h.FragTotal == 0 || h.FragIndex == 0 || h.FragIndex > h.FragTotal {
			return nil, errors.Newf(errors.ErrCodeHeader, "invalid fragment %d/%d", h.FragIndex, h.FragTotal)
		}
	}

	body := content[pos:]
	if len(body) != h.BodyLength() {
		return nil, errors.Newf(errors.ErrCodeHeader, "body length want %d got %d", h.BodyLength(), len(body))
	}
	return &Message{Header: h, Body: append([]byte(nil), body...)}, nil
}

// DecodeFrame 解析一个完整的带标识位的转义帧
func DecodeFrame(frame []byte) (*Message, error) {
	if len(frame) < 2 || frame[0] != constants.FrameMarker || frame[len(frame)-1] != constants.FrameMarker {
		return nil, errors.New(errors.ErrCodeHeader, "frame not enclosed in 7E markers")
	}
	raw, err := Unescape(frame[1 : len(frame)-1])
	if err != nil {
		return nil, err
	}
	return ParseMessage(raw)
}

// Content 编码消息头+消息体（不含校验码），消息体属性按实际内容计算
func (m *Message) Content() []byte {
	h := &m.Header
	props := m.props()
	out := make([]byte, 0, h.Size()+len(m.Body)+constants.FragmentFieldsSize)
	out = binary.BigEndian.AppendUint16(out, h.MsgID)
	out = binary.BigEndian.AppendUint16(out, props)
	if props&constants.VersionFlag != 0 {
		out = append(out, h.Version)
	}
	out = append(out, h.SIMRaw...)
	out = binary.BigEndian.AppendUint16(out, h.SN)
	if h.FragTotal > 0 {
		out = binary.BigEndian.AppendUint16(out, h.FragTotal)
		out = binary.BigEndian.AppendUint16(out, h.FragIndex)
	}
	return append(out, m.Body...)
}

// props 按消息体长度和分包字段计算消息体属性，不修改消息本身
func (m *Message) props() uint16 {
	h := &m.Header
	props := h.Props &^ (constants.BodyLengthMask | constants.FragmentFlag)
	props |= uint16(len(m.Body)) & constants.BodyLengthMask
	if h.FragTotal > 0 {
		props |= constants.FragmentFlag
	}
	return props
}

// Frame 编码为可直接写入连接的转义帧
func (m *Message) Frame() []byte {
	content := m.Content()
	return Escape(append(content, Checksum(content)))
}

// WithSN 复制消息并替换流水号，原消息不变
func (m *Message) WithSN(sn uint16) *Message {
	c := &Message{Header: m.Header, Body: m.Body}
	c.Header.SN = sn
	return c
}
