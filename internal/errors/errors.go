package errors

import (
	"fmt"
	"strings"
)

// ErrorCode 错误码类型
type ErrorCode int

// 错误码定义（按模块分组）
const (
	// 通用错误 (1000-1999)
	ErrUnknown      ErrorCode = 1000
	ErrInvalidParam ErrorCode = 1001
	ErrTimeout      ErrorCode = 1002

	// 配置错误 (2000-2999)
	ErrConfigLoad     ErrorCode = 2000
	ErrConfigParse    ErrorCode = 2001
	ErrConfigMissing  ErrorCode = 2002
	ErrConfigValidate ErrorCode = 2003

	// 传输错误 (3000-3999)
	ErrSerialPortOpen  ErrorCode = 3000
	ErrSerialPortWrite ErrorCode = 3001
	ErrSerialPortRead  ErrorCode = 3002
	ErrLineMalformed   ErrorCode = 3003

	// 协议错误 (4000-4999)
	ErrProtocolViolation ErrorCode = 4000
	ErrUnknownCommand    ErrorCode = 4001
	ErrBadAmount         ErrorCode = 4002

	// 支付网关错误 (5000-5999)
	ErrGatewayRequest ErrorCode = 5000
	ErrPaymentCreate  ErrorCode = 5001
	ErrPaymentQuery   ErrorCode = 5002
	ErrRefund         ErrorCode = 5003

	// 数据库错误 (6000-6999)
	ErrDatabaseConnect ErrorCode = 6000
	ErrDatabaseInsert  ErrorCode = 6001
	ErrDatabaseQuery   ErrorCode = 6002
)

// 错误码消息映射
var errorMessages = map[ErrorCode]string{
	ErrUnknown:      "未知错误",
	ErrInvalidParam: "无效的参数",
	ErrTimeout:      "操作超时",

	ErrConfigLoad:     "配置加载失败",
	ErrConfigParse:    "配置解析失败",
	ErrConfigMissing:  "配置项缺失",
	ErrConfigValidate: "配置验证失败",

	ErrSerialPortOpen:  "串口打开失败",
	ErrSerialPortWrite: "串口写入失败",
	ErrSerialPortRead:  "串口读取失败",
	ErrLineMalformed:   "串口行格式错误",

	ErrProtocolViolation: "意外的设备状态转换",
	ErrUnknownCommand:    "未知的设备命令",
	ErrBadAmount:         "金额格式错误",

	ErrGatewayRequest: "支付网关请求失败",
	ErrPaymentCreate:  "创建支付失败",
	ErrPaymentQuery:   "查询支付失败",
	ErrRefund:         "退款失败",

	ErrDatabaseConnect: "数据库连接失败",
	ErrDatabaseInsert:  "数据库插入失败",
	ErrDatabaseQuery:   "数据库查询失败",
}

// AppError 应用错误结构
type AppError struct {
	Code    ErrorCode `json:"code"`    // 错误码
	Message string    `json:"message"` // 错误消息
	Details string    `json:"details"` // 详细信息
	Cause   error     `json:"-"`       // 原始错误
}

// Error 实现error接口
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%d] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 返回原始错误
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithCause 添加原因错误
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	if cause != nil && e.Details == "" {
		e.Details = cause.Error()
	}
	return e
}

// New 创建新的应用错误
func New(code ErrorCode, details ...string) *AppError {
	message, ok := errorMessages[code]
	if !ok {
		message = errorMessages[ErrUnknown]
	}

	err := &AppError{
		Code:    code,
		Message: message,
	}

	if len(details) > 0 {
		err.Details = strings.Join(details, "; ")
	}

	return err
}

// Newf 创建格式化的应用错误
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap 包装错误
func Wrap(err error, code ErrorCode, details ...string) *AppError {
	if err == nil {
		return nil
	}

	// 已经是AppError时保留原始错误码
	if appErr, ok := err.(*AppError); ok {
		if len(details) > 0 {
			appErr.Details = strings.Join(details, "; ") + "; " + appErr.Details
		}
		return appErr
	}

	appErr := New(code, details...)
	appErr.Cause = err
	if appErr.Details == "" {
		appErr.Details = err.Error()
	}

	return appErr
}

// Wrapf 包装格式化错误
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *AppError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// Is 判断错误是否为指定错误码
func Is(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}

	appErr, ok := err.(*AppError)
	return ok && appErr.Code == code
}

// GetCode 获取错误码
func GetCode(err error) ErrorCode {
	if err == nil {
		return 0
	}

	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}

	return ErrUnknown
}

// IsRetryable 判断错误是否可重试
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	switch GetCode(err) {
	case ErrTimeout,
		ErrSerialPortRead,
		ErrSerialPortWrite,
		ErrGatewayRequest,
		ErrPaymentQuery,
		ErrRefund:
		return true
	default:
		return false
	}
}

// IsCritical 判断是否为严重错误（进程应立即退出）
func IsCritical(err error) bool {
	if err == nil {
		return false
	}

	switch GetCode(err) {
	case ErrConfigLoad,
		ErrConfigMissing,
		ErrConfigValidate,
		ErrSerialPortOpen,
		ErrDatabaseConnect:
		return true
	default:
		return false
	}
}
