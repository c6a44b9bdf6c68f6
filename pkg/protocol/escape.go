package protocol

import (
	"github.com/bujia-iot/jt808-gateway/pkg/constants"
	"github.com/bujia-iot/jt808-gateway/pkg/errors"
)

// Escape 对消息头+消息体+校验码做转义，并加上首尾标识位
// 0x7E -> 0x7D 0x02, 0x7D -> 0x7D 0x01
func Escape(raw []byte) []byte {
	out := make([]byte, 0, len(raw)+len(raw)/8+2)
	out = append(out, constants.FrameMarker)
	for _, b := range raw {
		switch b {
		case constants.FrameMarker:
			out = append(out, constants.EscapeLead, constants.EscapeOf7E)
		case constants.EscapeLead:
			out = append(out, constants.EscapeLead, constants.EscapeOf7D)
		default:
			out = append(out, b)
		}
	}
	return append(out, constants.FrameMarker)
}

// Unescape 还原两个标识位之间的内容（不含标识位）
func Unescape(span []byte) ([]byte, error) {
	out := make([]byte, 0, len(span))
	for i := 0; i < len(span); i++ {
		b := span[i]
		if b != constants.EscapeLead {
			out = append(out, b)
			continue
		}
		if i+1 >= len(span) {
			return nil, errors.Wrap(errors.ErrCodeMalformedEscape, "escape lead at end of frame", nil)
		}
		i++
		switch span[i] {
		case constants.EscapeOf7D:
			out = append(out, constants.EscapeLead)
		case constants.EscapeOf7E:
			out = append(out, constants.FrameMarker)
		default:
			return nil, errors.Newf(errors.ErrCodeMalformedEscape, "invalid escape 7D %02X at offset %d", span[i], i)
		}
	}
	return out, nil
}

// unescapeAt 按扫描时记录的转义引导位置还原，positions 为相对 span 的偏移
func unescapeAt(span []byte, positions []int) ([]byte, error) {
	if len(positions) == 0 {
		out := make([]byte, len(span))
		copy(out, span)
		return out, nil
	}
	out := make([]byte, 0, len(span)-len(positions))
	last := 0
	for _, pos := range positions {
		if pos+1 >= len(span) {
			return nil, errors.Wrap(errors.ErrCodeMalformedEscape, "escape lead at end of frame", nil)
		}
		out = append(out, span[last:pos]...)
		switch span[pos+1] {
		case constants.EscapeOf7D:
			out = append(out, constants.EscapeLead)
		case constants.EscapeOf7E:
			out = append(out, constants.FrameMarker)
		default:
			return nil, errors.Newf(errors.ErrCodeMalformedEscape, "invalid escape 7D %02X at offset %d", span[pos+1], pos)
		}
		last = pos + 2
	}
	return append(out, span[last:]...), nil
}

// Checksum 计算校验码：从消息头开始逐字节异或
func Checksum(data []byte) byte {
	var cs byte
	for _, b := range data {
		cs ^= b
	}
	return cs
}
