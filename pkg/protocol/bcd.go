package protocol

import (
	"strings"

	"github.com/bujia-iot/jt808-gateway/pkg/errors"
)

// DecodeBCD 将 8421 BCD 码转换为数字字符串
func DecodeBCD(b []byte) (string, error) {
	var sb strings.Builder
	sb.Grow(len(b) * 2)
	for _, v := range b {
		hi, lo := v>>4, v&0x0F
		if hi > 9 || lo > 9 {
			return "", errors.Newf(errors.ErrInvalidParameter, "invalid bcd byte %02X", v)
		}
		sb.WriteByte('0' + hi)
		sb.WriteByte('0' + lo)
	}
	return sb.String(), nil
}

// EncodeBCD 将数字字符串编码为 size 字节的 BCD 码，不足左补0
// size<=0 时按字符串长度编码
func EncodeBCD(digits string, size int) ([]byte, error) {
	if size <= 0 {
		size = (len(digits) + 1) / 2
	}
	if len(digits) > size*2 {
		return nil, errors.Newf(errors.ErrInvalidParameter, "bcd value %q longer than %d bytes", digits, size)
	}
	padded := strings.Repeat("0", size*2-len(digits)) + digits
	out := make([]byte, size)
	for i := 0; i < size; i++ {
		hi, lo := padded[2*i], padded[2*i+1]
		if hi < '0' || hi > '9' || lo < '0' || lo > '9' {
			return nil, errors.Newf(errors.ErrInvalidParameter, "non-digit in bcd value %q", digits)
		}
		out[i] = (hi-'0')<<4 | (lo - '0')
	}
	return out, nil
}

// NormalizeSIM 去掉前导0，6字节和10字节编码的同一号码得到相同的键
func NormalizeSIM(digits string) string {
	s := strings.TrimLeft(digits, "0")
	if s == "" {
		return "0"
	}
	return s
}
