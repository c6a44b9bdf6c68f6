package protocol

import (
	"encoding/binary"

	"github.com/bujia-iot/jt808-gateway/pkg/constants"
	"github.com/bujia-iot/jt808-gateway/pkg/errors"
)

// BodyEncoder 消息体编码能力
// 网关只负责消息头和分包，具体业务消息体由调用方提供
type BodyEncoder interface {
	EncodeBody() ([]byte, error)
}

// RawBody 不透明的消息体，原样发送
type RawBody []byte

// EncodeBody 实现 BodyEncoder
func (b RawBody) EncodeBody() ([]byte, error) {
	return []byte(b), nil
}

// GeneralAck 通用应答，终端(0x0001)和平台(0x8001)格式相同
type GeneralAck struct {
	AnswerSN uint16
	AnswerID uint16
	Result   byte
}

// ParseGeneralAck 解析通用应答消息体
func ParseGeneralAck(body []byte) (*GeneralAck, error) {
	if len(body) < constants.GeneralAckBodySize {
		return nil, errors.Newf(errors.ErrInvalidParameter, "general ack body %d bytes", len(body))
	}
	return &GeneralAck{
		AnswerSN: binary.BigEndian.Uint16(body[0:2]),
		AnswerID: binary.BigEndian.Uint16(body[2:4]),
		Result:   body[4],
	}, nil
}

// EncodeBody 实现 BodyEncoder
func (a *GeneralAck) EncodeBody() ([]byte, error) {
	out := make([]byte, 0, constants.GeneralAckBodySize)
	out = binary.BigEndian.AppendUint16(out, a.AnswerSN)
	out = binary.BigEndian.AppendUint16(out, a.AnswerID)
	return append(out, a.Result), nil
}

// RegisterAck 终端注册应答 0x8100
type RegisterAck struct {
	AnswerSN uint16
	Result   byte
	AuthCode string // 仅成功时携带
}

// ParseRegisterAck 解析注册应答消息体
func ParseRegisterAck(body []byte) (*RegisterAck, error) {
	if len(body) < 3 {
		return nil, errors.Newf(errors.ErrInvalidParameter, "register ack body %d bytes", len(body))
	}
	ack := &RegisterAck{
		AnswerSN: binary.BigEndian.Uint16(body[0:2]),
		Result:   body[2],
	}
	if ack.Result == constants.AckResultSuccess && len(body) > 3 {
		code, err := DecodeGBK(body[3:])
		if err != nil {
			return nil, err
		}
		ack.AuthCode = code
	}
	return ack, nil
}

// EncodeBody 实现 BodyEncoder
func (a *RegisterAck) EncodeBody() ([]byte, error) {
	out := make([]byte, 0, 3+len(a.AuthCode))
	out = binary.BigEndian.AppendUint16(out, a.AnswerSN)
	out = append(out, a.Result)
	if a.Result != constants.AckResultSuccess {
		return out, nil
	}
	code, err := EncodeGBK(a.AuthCode)
	if err != nil {
		return nil, err
	}
	return append(out, code...), nil
}

// 注册消息体定长字段长度，依次为2013版和2019版
var (
	registerManufacturerSize = [2]int{5, 11}
	registerModelSize        = [2]int{20, 30}
	registerTerminalIDSize   = [2]int{7, 30}
)

// RegisterRequest 终端注册 0x0100
type RegisterRequest struct {
	Is2019       bool
	ProvinceID   uint16
	CityID       uint16
	Manufacturer string
	Model        string
	TerminalID   string
	PlateColor   byte
	Plate        string // 车牌或VIN，GBK编码
}

func versionIndex(is2019 bool) int {
	if is2019 {
		return 1
	}
	return 0
}

// ParseRegisterRequest 解析终端注册消息体
func ParseRegisterRequest(body []byte, is2019 bool) (*RegisterRequest, error) {
	v := versionIndex(is2019)
	fixed := 4 + registerManufacturerSize[v] + registerModelSize[v] + registerTerminalIDSize[v] + 1
	if len(body) < fixed {
		return nil, errors.Newf(errors.ErrInvalidParameter, "register body %d bytes, want at least %d", len(body), fixed)
	}
	req := &RegisterRequest{
		Is2019:     is2019,
		ProvinceID: binary.BigEndian.Uint16(body[0:2]),
		CityID:     binary.BigEndian.Uint16(body[2:4]),
	}
	pos := 4
	next := func(n int) []byte {
		b := body[pos : pos+n]
		pos += n
		return b
	}
	req.Manufacturer, _ = DecodeGBK(next(registerManufacturerSize[v]))
	req.Model, _ = DecodeGBK(next(registerModelSize[v]))
	req.TerminalID, _ = DecodeGBK(next(registerTerminalIDSize[v]))
	req.PlateColor = body[pos]
	pos++
	plate, err := DecodeGBK(body[pos:])
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalidParameter, "invalid plate", err)
	}
	req.Plate = plate
	return req, nil
}

// EncodeBody 实现 BodyEncoder
func (r *RegisterRequest) EncodeBody() ([]byte, error) {
	v := versionIndex(r.Is2019)
	out := make([]byte, 0, 64)
	out = binary.BigEndian.AppendUint16(out, r.ProvinceID)
	out = binary.BigEndian.AppendUint16(out, r.CityID)
	out = append(out, padRightGBK(r.Manufacturer, registerManufacturerSize[v])...)
	out = append(out, padRightGBK(r.Model, registerModelSize[v])...)
	out = append(out, padRightGBK(r.TerminalID, registerTerminalIDSize[v])...)
	out = append(out, r.PlateColor)
	plate, err := EncodeGBK(r.Plate)
	if err != nil {
		return nil, err
	}
	return append(out, plate...), nil
}

// AuthRequest 终端鉴权 0x0102
type AuthRequest struct {
	Is2019          bool
	AuthCode        string
	IMEI            string // 2019版
	SoftwareVersion string // 2019版
}

// ParseAuthRequest 解析终端鉴权消息体
func ParseAuthRequest(body []byte, is2019 bool) (*AuthRequest, error) {
	req := &AuthRequest{Is2019: is2019}
	if !is2019 {
		code, err := DecodeGBK(body)
		if err != nil {
			return nil, errors.Wrap(errors.ErrInvalidParameter, "invalid auth code", err)
		}
		req.AuthCode = code
		return req, nil
	}

	if len(body) < 1 || len(body) < 1+int(body[0])+15+20 {
		return nil, errors.Newf(errors.ErrInvalidParameter, "auth body %d bytes", len(body))
	}
	n := int(body[0])
	req.AuthCode, _ = DecodeGBK(body[1 : 1+n])
	req.IMEI, _ = DecodeGBK(body[1+n : 1+n+15])
	req.SoftwareVersion, _ = DecodeGBK(body[1+n+15 : 1+n+35])
	return req, nil
}

// EncodeBody 实现 BodyEncoder
func (r *AuthRequest) EncodeBody() ([]byte, error) {
	code, err := EncodeGBK(r.AuthCode)
	if err != nil {
		return nil, err
	}
	if !r.Is2019 {
		return code, nil
	}
	out := make([]byte, 0, 1+len(code)+35)
	out = append(out, byte(len(code)))
	out = append(out, code...)
	out = append(out, padRightGBK(r.IMEI, 15)...)
	return append(out, padRightGBK(r.SoftwareVersion, 20)...), nil
}
