package ports

// RawRouteID 原始数据不经 zinx 切包，每次读到的数据都以消息ID 0 路由
const RawRouteID uint32 = 0

// 连接属性键
const (
	// PropKeyStopReason 主动断开连接时记录的原因，连接关闭钩子里读取
	PropKeyStopReason = "stopReason"
)
