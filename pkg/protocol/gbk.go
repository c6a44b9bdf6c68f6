package protocol

import (
	"strings"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// EncodeGBK 将 UTF-8 字符串转换为 GBK 字节
func EncodeGBK(s string) ([]byte, error) {
	out, _, err := transform.Bytes(simplifiedchinese.GBK.NewEncoder(), []byte(s))
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeGBK 将 GBK 字节转换为 UTF-8 字符串，去掉尾部补位的 \x00 和空格
func DecodeGBK(src []byte) (string, error) {
	s, _, err := transform.String(simplifiedchinese.GBK.NewDecoder(), string(src))
	if err != nil {
		return strings.TrimRight(string(src), "\x00 "), err
	}
	return strings.TrimRight(s, "\x00 "), nil
}

// padRightGBK 转为 GBK 后右侧补0到定长，超长截断
func padRightGBK(s string, length int) []byte {
	b, _ := EncodeGBK(s)
	if len(b) >= length {
		return b[:length]
	}
	return append(b, make([]byte, length-len(b))...)
}
