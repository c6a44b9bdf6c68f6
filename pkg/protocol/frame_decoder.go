package protocol

import (
	"bytes"

	"github.com/bujia-iot/jt808-gateway/pkg/constants"
	"github.com/bujia-iot/jt808-gateway/pkg/errors"
)

// FrameDecoder 从字节流中切分 0x7E 标识位之间的帧并完成反转义
//
// 解码器只追加数据，已扫描过的字节不会重复扫描：
//   - 找到起始标识位之前的字节视为噪声直接丢弃
//   - 起始标识位之后 maxLength 字节内找不到结束标识位时返回 ErrFrameTooLong 并进入丢弃状态
//   - 丢弃状态下只查找下一个标识位，找到后以它作为新的起始标识位
//   - 两个标识位之间为空（7E 7E）时第二个标识位直接作为新的起始标识位
//   - 两个标识位之间不足最小长度时返回 ErrShortFrame，第二个标识位同样作为新的起始
//
// FrameDecoder 不是并发安全的，每个连接持有一个
type FrameDecoder struct {
	buf        []byte
	maxLength  int
	next       int   // 下一个待扫描的位置
	started    bool  // buf[0] 是否为起始标识位
	escapes    []int // 本帧内转义引导字节的位置
	discarding bool
}

// NewFrameDecoder 创建帧解码器，maxLength<=0 时使用默认值1024
func NewFrameDecoder(maxLength int) *FrameDecoder {
	if maxLength <= 0 {
		maxLength = constants.DefaultMaxFrameLength
	}
	return &FrameDecoder{maxLength: maxLength}
}

// Feed 追加从连接读到的数据
func (d *FrameDecoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Buffered 返回尚未消费的字节数
func (d *FrameDecoder) Buffered() int {
	return len(d.buf)
}

// Discarding 是否处于丢弃状态
func (d *FrameDecoder) Discarding() bool {
	return d.discarding
}

// Next 返回下一个完整帧（已反转义，不含标识位）
// 返回 nil, nil 表示需要更多数据
func (d *FrameDecoder) Next() ([]byte, error) {
	for {
		if d.discarding {
			idx := bytes.IndexByte(d.buf[d.next:], constants.FrameMarker)
			if idx < 0 {
				d.consume(len(d.buf))
				return nil, nil
			}
			d.discarding = false
			d.consume(d.next + idx)
			d.started = true
			d.next = 1
			continue
		}

		if !d.started {
			idx := bytes.IndexByte(d.buf, constants.FrameMarker)
			if idx < 0 {
				d.consume(len(d.buf))
				return nil, nil
			}
			d.consume(idx)
			d.started = true
			d.next = 1
			continue
		}

		limit := len(d.buf)
		if limit > d.maxLength+1 {
			limit = d.maxLength + 1
		}
		end := -1
		for i := d.next; i < limit; i++ {
			switch d.buf[i] {
			case constants.EscapeLead:
				d.escapes = append(d.escapes, i)
			case constants.FrameMarker:
				end = i
			}
			if end >= 0 {
				break
			}
		}

		if end < 0 {
			d.next = limit
			if limit > d.maxLength {
				// 超长：丢掉已扫描的窗口，之后只找下一个标识位
				d.consume(limit)
				d.discarding = true
				return nil, errors.Newf(errors.ErrCodeFrameTooLong, "no end marker within %d bytes", d.maxLength)
			}
			return nil, nil
		}

		spanLen := end - 1
		if spanLen == 0 {
			// 7E 7E，第二个作为新的起始标识位
			d.restartAt(end)
			continue
		}
		if spanLen < constants.MinFrameSpan {
			d.restartAt(end)
			return nil, errors.Newf(errors.ErrCodeShortFrame, "frame span %d bytes", spanLen)
		}

		positions := make([]int, len(d.escapes))
		for i, pos := range d.escapes {
			positions[i] = pos - 1
		}
		raw, err := unescapeAt(d.buf[1:end], positions)
		d.consume(end + 1)
		if err != nil {
			return nil, err
		}
		return raw, nil
	}
}

// restartAt 以 pos 处的标识位作为新的起始标识位
func (d *FrameDecoder) restartAt(pos int) {
	d.consume(pos)
	d.started = true
	d.next = 1
}

// consume 丢弃前 n 个字节并重置帧内状态
func (d *FrameDecoder) consume(n int) {
	d.buf = append(d.buf[:0], d.buf[n:]...)
	d.next = 0
	d.started = false
	d.escapes = d.escapes[:0]
}

// Reset 清空全部状态
func (d *FrameDecoder) Reset() {
	d.consume(len(d.buf))
	d.discarding = false
}
