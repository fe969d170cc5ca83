package errors

import (
	"errors"
	"fmt"
)

// AppError 自定义应用错误
// 设计说明：
// 1. Code用于调用方判断错误类型并选择处理策略（重试/放弃/提示用户）
// 2. Message是面向操作者/用户的提示信息
// 3. Err是内部错误，仅记录到日志，不对外暴露
type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 支持errors.Is和errors.As
func (e *AppError) Unwrap() error {
	return e.Err
}

// New 创建新的AppError
func New(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包装系统错误（数据库错误、网络错误等）
func Wrap(err error, message string) *AppError {
	return &AppError{
		Code:    ErrCodeInternal,
		Message: message,
		Err:     err,
	}
}

// Wrapf 格式化包装错误
func Wrapf(err error, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    ErrCodeInternal,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// WithCode 指定错误码包装错误
func WithCode(err error, code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// AsAppError 提取AppError（非AppError返回nil）
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// =========================================
// 错误码定义
// =========================================
//
// 分类规范：
// - 40000-40099：参数错误
// - 40100-40199：库存业务错误
// - 40900-40999：瞬时竞争错误（可重试）
// - 50000-50099：系统/配置错误

const (
	// 参数错误
	ErrCodeInvalidParam = 40001

	// 库存业务错误（不自动重试，面向用户提示）
	ErrCodeInsufficientStock = 40101
	ErrCodeOutOfStock        = 40102
	ErrCodeInventoryNotFound = 40103

	// 瞬时竞争错误（调用方可退避重试）
	ErrCodeLockTimeout = 40901

	// 系统/配置错误
	ErrCodeInternal             = 50000
	ErrCodeUnknownTopic         = 50010
	ErrCodeHandlerNotIdempotent = 50011
)
