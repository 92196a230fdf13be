// Package errors 提供统一错误类型与哨兵错误。
//
// 本包为 chain-engine 精简版:
//   - L1 哨兵错误: ErrNotFound / ErrTransport / ErrParse 等
//   - L2 AppError: 带 Op + Code + Message 的应用级错误
package errors

import (
	"errors"
	"fmt"
)

// ========================================
// L1 哨兵错误 (Sentinel Errors)
// ========================================

var (
	// ErrNotFound 资源不存在
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput 输入参数无效
	ErrInvalidInput = errors.New("invalid input")

	// ErrInternal 内部错误
	ErrInternal = errors.New("internal error")

	// ErrTransport 流式会话传输异常中断 (唯一对用户可见的错误类)
	ErrTransport = errors.New("transport failure")

	// ErrParse 无法识别的图表 JSON 或遗留链形状 (本地跳过, 不上抛)
	ErrParse = errors.New("parse failure")

	// ErrTerminated 链已终态, 续跑无效 (改走重试)
	ErrTerminated = errors.New("already terminated")
)

// ========================================
// L2 AppError (应用级错误)
// ========================================

// AppError 应用级错误，带操作上下文。
type AppError struct {
	Op      string // 操作名，如 "ChainStore.Load"
	Code    string // 错误码，如 "FETCH_ERROR"、"VALIDATION"
	Message string // 人类可读消息
	Err     error  // 原始错误
}

// Error 实现 error 接口。
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Unwrap 支持 errors.Is / errors.As 链式查找。
func (e *AppError) Unwrap() error {
	return e.Err
}

// ========================================
// 工厂函数
// ========================================

// New 创建无原因链的应用错误。
func New(op, message string) error {
	return &AppError{Op: op, Message: message}
}

// Newf 创建带格式化消息的应用错误。
func Newf(op, format string, args ...any) error {
	return &AppError{Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap 包装错误并附加操作上下文。
func Wrap(err error, op string, message string) error {
	return &AppError{Op: op, Message: message, Err: err}
}

// Wrapf 用格式化消息包装错误。
func Wrapf(err error, op, format string, args ...any) error {
	return &AppError{Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithCode 创建带错误码的应用错误 (供 API 层映射响应)。
func WithCode(err error, op, code, message string) error {
	return &AppError{Op: op, Code: code, Message: message, Err: err}
}

// ========================================
// 标准库透传 (调用方免双导入)
// ========================================

// Is 透传 errors.Is。
func Is(err, target error) bool { return errors.Is(err, target) }

// As 透传 errors.As。
func As(err error, target any) bool { return errors.As(err, target) }
