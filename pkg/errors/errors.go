package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode 表示错误码类型
type ErrorCode int

// 定义网关的错误码
const (
	// 通用错误
	ErrUnknown ErrorCode = iota + 1000
	ErrInvalidParameter

	// 帧解析错误
	ErrCodeFrameTooLong
	ErrCodeShortFrame
	ErrCodeMalformedEscape
	ErrCodeBadChecksum
	ErrCodeHeader

	// 转发通道错误
	ErrCodeForwardProtocol

	// 会话相关错误
	ErrCodeIdleTimeout
	ErrCodeCommandTimeout
	ErrCodeSessionClosed
	ErrCodeDeviceNotFound

	// Redis缓存相关错误
	ErrRedisConnectionFailed
	ErrRedisOperationFailed
)

// 常用错误实例，调用方可以用 errors.Is 判断
var (
	ErrFrameTooLong    = New(ErrCodeFrameTooLong, "frame too long")
	ErrShortFrame      = New(ErrCodeShortFrame, "frame shorter than minimum header")
	ErrMalformedEscape = New(ErrCodeMalformedEscape, "malformed escape sequence")
	ErrBadChecksum     = New(ErrCodeBadChecksum, "checksum mismatch")
	ErrHeader          = New(ErrCodeHeader, "malformed message header")
	ErrForwardProtocol = New(ErrCodeForwardProtocol, "malformed forward frame")
	ErrIdleTimeout     = New(ErrCodeIdleTimeout, "connection idle timeout")
	ErrCommandTimeout  = New(ErrCodeCommandTimeout, "command ack timeout")
	ErrSessionClosed   = New(ErrCodeSessionClosed, "session closed")
	ErrDeviceNotFound  = New(ErrCodeDeviceNotFound, "device not found")
)

// AppError 应用程序自定义错误类型
type AppError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error 实现error接口
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 支持Go 1.13+的错误包装
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is 错误码相同即视为同一类错误，便于 errors.Is(Wrap(...), ErrShortFrame)
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

// New 创建一个新的AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包装一个已有的错误
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Newf 按格式创建带错误码的错误
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// IsErrCode 检查错误链上是否存在指定的错误码
func IsErrCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	var appErr *AppError
	return stderrors.As(err, &appErr) && appErr.Code == code
}

// IsConnectionFatal 判断错误是否需要关闭连接
// 超长帧可以丢弃重新同步，校验失败和消息头错误只丢弃单帧，其余协议错误都意味着流已失步
func IsConnectionFatal(err error) bool {
	if err == nil {
		return false
	}
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return true
	}
	switch appErr.Code {
	case ErrCodeFrameTooLong, ErrCodeBadChecksum, ErrCodeHeader, ErrCodeCommandTimeout:
		return false
	default:
		return true
	}
}
