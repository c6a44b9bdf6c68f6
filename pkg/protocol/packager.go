package protocol

import (
	"sync/atomic"

	"github.com/bujia-iot/jt808-gateway/pkg/constants"
	"github.com/bujia-iot/jt808-gateway/pkg/errors"
)

// Packager 为一个终端生成下行消息：分配流水号、填充消息头、超长消息体分包
// 流水号计数器可被多个 goroutine 并发使用
type Packager struct {
	template Header
	maxBody  int
	sn       atomic.Uint32
}

// NewPackager 以终端上行消息的消息头为模板创建，回复沿用终端的SIM和消息头版本
func NewPackager(h Header, maxBody int) *Packager {
	if maxBody <= 0 || maxBody > constants.DefaultMaxBodyLength {
		maxBody = constants.DefaultMaxBodyLength
	}
	t := Header{
		Props:   h.Props & constants.VersionFlag,
		Version: h.Version,
		SIMRaw:  append([]byte(nil), h.SIMRaw...),
		SIM:     h.SIM,
	}
	return &Packager{template: t, maxBody: maxBody}
}

// NewPackagerForSIM 按手机号创建，is2019 决定消息头版本
func NewPackagerForSIM(sim string, is2019 bool, maxBody int) (*Packager, error) {
	h := Header{SIM: NormalizeSIM(sim)}
	size := constants.SIMSize2013
	if is2019 {
		h.Props = constants.VersionFlag
		h.Version = constants.DefaultProtocolVersion
		size = constants.SIMSize2019
	}
	raw, err := EncodeBCD(sim, size)
	if err != nil {
		return nil, err
	}
	h.SIMRaw = raw
	return NewPackager(h, maxBody), nil
}

// SIM 终端手机号
func (p *Packager) SIM() string {
	return p.template.SIM
}

// NextSN 分配一个流水号
func (p *Packager) NextSN() uint16 {
	return p.DistributeSN(1)
}

// DistributeSN 预留 n 个连续流水号，返回第一个
func (p *Packager) DistributeSN(n int) uint16 {
	if n <= 0 {
		n = 1
	}
	end := p.sn.Add(uint32(n))
	return uint16(end - uint32(n))
}

// FragmentCount 消息体需要拆成的包数
func (p *Packager) FragmentCount(bodyLen int) int {
	if bodyLen <= p.maxBody {
		return 1
	}
	return (bodyLen + p.maxBody - 1) / p.maxBody
}

// Serialize 编码消息体，分配流水号并按需分包
func (p *Packager) Serialize(id uint16, body BodyEncoder) ([]*Message, error) {
	payload, err := body.EncodeBody()
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalidParameter, "encode body", err)
	}
	n := p.FragmentCount(len(payload))
	if n > 0xFFFF {
		return nil, errors.Newf(errors.ErrInvalidParameter, "body too large: %d bytes", len(payload))
	}
	return p.Build(id, p.DistributeSN(n), payload), nil
}

// Build 用给定的起始流水号构建消息，不占用计数器
func (p *Packager) Build(id uint16, firstSN uint16, payload []byte) []*Message {
	n := p.FragmentCount(len(payload))
	msgs := make([]*Message, 0, n)
	for i := 0; i < n; i++ {
		start := i * p.maxBody
		end := start + p.maxBody
		if end > len(payload) {
			end = len(payload)
		}
		h := p.template
		h.MsgID = id
		h.SN = firstSN + uint16(i)
		if n > 1 {
			h.FragTotal = uint16(n)
			h.FragIndex = uint16(i + 1)
		}
		msg := &Message{Header: h, Body: payload[start:end]}
		msg.Header.Props = msg.props()
		msgs = append(msgs, msg)
	}
	return msgs
}
