package protocol

// StreamParser 设备连接上的完整解析流程：切帧、解析消息头、合包
type StreamParser struct {
	frames      *FrameDecoder
	reassembler *Reassembler
}

// NewStreamParser 创建解析器
func NewStreamParser(maxFrameLength int) *StreamParser {
	return &StreamParser{
		frames:      NewFrameDecoder(maxFrameLength),
		reassembler: NewReassembler(),
	}
}

// Feed 追加数据
func (p *StreamParser) Feed(data []byte) {
	p.frames.Feed(data)
}

// Next 返回下一条完整消息，nil, nil 表示需要更多数据
// 返回错误后仍可继续调用 Next，是否断开连接由调用方按错误类型决定
func (p *StreamParser) Next() (*MergedMessage, error) {
	for {
		raw, err := p.frames.Next()
		if err != nil {
			return nil, err
		}
		if raw == nil {
			return nil, nil
		}
		msg, err := ParseMessage(raw)
		if err != nil {
			return nil, err
		}
		if merged := p.reassembler.Add(msg); merged != nil {
			return merged, nil
		}
	}
}

// PendingFragments 未完成的分包组数量
func (p *StreamParser) PendingFragments() int {
	return p.reassembler.Pending()
}
