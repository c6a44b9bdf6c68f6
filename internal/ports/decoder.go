package ports

import (
	"github.com/aceld/zinx/ziface"
)

// RawDecoder 不做长度切包的解码器
// JT808 以 0x7E 定界，没有长度字段，切帧在会话层完成；这里只保证数据原样按到达顺序交给路由
type RawDecoder struct{}

// NewRawDecoder 创建原始数据解码器
func NewRawDecoder() ziface.IDecoder {
	return &RawDecoder{}
}

// GetLengthField 返回 nil，zinx 不启用长度字段切包
func (d *RawDecoder) GetLengthField() *ziface.LengthField {
	return nil
}

// Intercept 所有数据都走 RawRouteID 路由
// zinx 读协程会复用读缓冲，交给 worker 之前必须复制一份
func (d *RawDecoder) Intercept(chain ziface.IChain) ziface.IcResp {
	request := chain.Request()
	if iRequest, ok := request.(ziface.IRequest); ok {
		msg := iRequest.GetMessage()
		msg.SetData(append([]byte(nil), msg.GetData()...))
		msg.SetMsgID(RawRouteID)
	}
	return chain.Proceed(request)
}
