package constants

import "time"

// JT/T 808 协议常量定义
// 按照 JT/T 808-2013 道路运输车辆卫星定位系统终端通讯协议定义，兼容2019版消息头

// ============================================================================
// 帧结构常量
// ============================================================================

const (
	FrameMarker byte = 0x7E // 标识位
	EscapeLead  byte = 0x7D // 转义引导字节
	EscapeOf7D  byte = 0x01 // 7D 01 -> 7D
	EscapeOf7E  byte = 0x02 // 7D 02 -> 7E
)

const (
	ChecksumSize = 1

	// 两个标识位之间的最小长度，不足即认为失步
	MinFrameSpan = 10
	// 查找结束标识位的最大扫描长度
	DefaultMaxFrameLength = 1024

	// 消息头长度
	HeaderSize2013         = 12 // id(2)+props(2)+sim(6)+sn(2)
	HeaderSize2019         = 17 // id(2)+props(2)+ver(1)+sim(10)+sn(2)
	FragmentFieldsSize     = 4  // 总包数(2)+包序号(2)
	SIMSize2013            = 6
	SIMSize2019            = 10
	DefaultMaxBodyLength   = 1023 // 消息体属性中长度字段只有10位
	BodyLengthMask         = 0x03FF
	EncryptMask            = 0x1C00
	FragmentFlag           = 0x2000
	VersionFlag            = 0x4000
	DefaultProtocolVersion = 1
)

// ============================================================================
// 消息ID
// ============================================================================

const (
	MsgIDTerminalGeneralAck uint16 = 0x0001 // 终端通用应答
	MsgIDHeartbeat          uint16 = 0x0002 // 终端心跳
	MsgIDDeregister         uint16 = 0x0003 // 终端注销
	MsgIDRegister           uint16 = 0x0100 // 终端注册
	MsgIDAuthenticate       uint16 = 0x0102 // 终端鉴权
	MsgIDQueryParamsAck     uint16 = 0x0104 // 查询终端参数应答
	MsgIDLocationReport     uint16 = 0x0200 // 位置信息汇报
	MsgIDPlatformGeneralAck uint16 = 0x8001 // 平台通用应答
	MsgIDRegisterAck        uint16 = 0x8100 // 终端注册应答
	MsgIDRealtimeAVRequest  uint16 = 0x9101 // 实时音视频传输请求
	MsgIDRealtimeAVControl  uint16 = 0x9102 // 音视频实时传输控制
	MsgIDPlaybackRequest    uint16 = 0x9201 // 平台下发远程录像回放请求
	MsgIDPlaybackControl    uint16 = 0x9202 // 平台下发远程录像回放控制
	MsgIDQueryResourceList  uint16 = 0x9205 // 查询资源列表
)

const (
	AckResultSuccess byte = 0
	AckResultFailure byte = 1
)

const (
	GeneralAckBodySize      = 5 // 应答流水号(2)+应答ID(2)+结果(1)
	DefaultRegisterAuthCode = "9090980"
)

// MsgIDName 返回消息ID的可读名称，用于日志
func MsgIDName(id uint16) string {
	switch id {
	case MsgIDTerminalGeneralAck:
		return "终端通用应答"
	case MsgIDHeartbeat:
		return "终端心跳"
	case MsgIDDeregister:
		return "终端注销"
	case MsgIDRegister:
		return "终端注册"
	case MsgIDAuthenticate:
		return "终端鉴权"
	case MsgIDQueryParamsAck:
		return "查询参数应答"
	case MsgIDLocationReport:
		return "位置信息汇报"
	case MsgIDPlatformGeneralAck:
		return "平台通用应答"
	case MsgIDRegisterAck:
		return "注册应答"
	case MsgIDRealtimeAVRequest, MsgIDRealtimeAVControl, MsgIDPlaybackRequest, MsgIDPlaybackControl, MsgIDQueryResourceList:
		return "音视频指令"
	default:
		return "未知消息"
	}
}

// ============================================================================
// 转发通道常量
// ============================================================================

const (
	ForwardOpReset  byte = 0x01 // 重置订阅
	ForwardOpAdd    byte = 0x02 // 增加订阅
	ForwardOpRemove byte = 0x03 // 取消订阅
)

const (
	ForwardLengthSize    = 2
	ForwardControlPrefix = 3 // FF FF FF
	ForwardControlByte   = 0xFF
	ForwardMaxPayload    = 0xFFFF
)

// ============================================================================
// 超时
// ============================================================================

const (
	DefaultIdleTimeout    = 60 * time.Second
	DefaultCommandTimeout = 5 * time.Second
	DefaultWriteTimeout   = 10 * time.Second
	ForwardEntryMaxAge    = 30 * time.Second // 转发消息等待终端应答的最长时间
	ForwardCleanupPeriod  = 10 * time.Second
	TimeFormatDefault     = "2006-01-02 15:04:05"
)

// ============================================================================
// 连接属性键
// ============================================================================

const (
	PropKeyDeviceConnection  = "jt808.deviceConnection"
	PropKeyForwardConnection = "jt808.forwardConnection"
)
