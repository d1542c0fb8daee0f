package errors

import (
	"fmt"
	"strconv"

	kerrors "github.com/go-kratos/kratos/v2/errors"
)

// 错误 reason 定义 (HTTP 层通过 reason 区分错误类别)
const (
	ReasonValidation   = "VALIDATION_ERROR"
	ReasonNotFound     = "NOT_FOUND"
	ReasonInvalidState = "INVALID_STATE"
	ReasonConflict     = "CONCURRENCY_CONFLICT"
)

// Validation 构造参数校验错误
func Validation(code int, format string, args ...interface{}) error {
	return withBizCode(kerrors.New(400, ReasonValidation, fmt.Sprintf(format, args...)), code)
}

// NotFound 构造资源不存在错误
func NotFound(code int, format string, args ...interface{}) error {
	return withBizCode(kerrors.New(404, ReasonNotFound, fmt.Sprintf(format, args...)), code)
}

// InvalidState 构造非法状态迁移错误
func InvalidState(code int, format string, args ...interface{}) error {
	return withBizCode(kerrors.New(409, ReasonInvalidState, fmt.Sprintf(format, args...)), code)
}

// Conflict 构造并发冲突错误 (调用方应重新拉取后整体重试)
func Conflict(code int, format string, args ...interface{}) error {
	return withBizCode(kerrors.New(409, ReasonConflict, fmt.Sprintf(format, args...)), code)
}

func withBizCode(e *kerrors.Error, code int) *kerrors.Error {
	return e.WithMetadata(map[string]string{"biz_code": strconv.Itoa(code)})
}

// IsValidation 判断是否为参数校验错误
func IsValidation(err error) bool { return kerrors.Reason(err) == ReasonValidation }

// IsNotFound 判断是否为资源不存在错误
func IsNotFound(err error) bool { return kerrors.Reason(err) == ReasonNotFound }

// IsInvalidState 判断是否为非法状态迁移错误
func IsInvalidState(err error) bool { return kerrors.Reason(err) == ReasonInvalidState }

// IsConflict 判断是否为并发冲突错误
func IsConflict(err error) bool { return kerrors.Reason(err) == ReasonConflict }
