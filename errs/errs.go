package errs

import (
	"github.com/pkg/errors"
)

// 引擎对外暴露的错误类别，传输层据此映射协议状态码
var (
	ErrInvalidFilter    = errors.New("invalid filter")
	ErrInvalidQuery     = errors.New("invalid query")
	ErrPermissionDenied = errors.New("permission denied")
	ErrConflict         = errors.New("conflict")
	ErrNotFound         = errors.New("not found")
)

// Kind 错误类别标识
type Kind string

const (
	KindInvalidFilter    Kind = "invalid_filter"
	KindInvalidQuery     Kind = "invalid_query"
	KindPermissionDenied Kind = "permission_denied"
	KindConflict         Kind = "conflict"
	KindNotFound         Kind = "not_found"
	KindInternal         Kind = "internal"
)

// InvalidFilterf 构造带详情的过滤条件错误
func InvalidFilterf(format string, args ...interface{}) error {
	return errors.WithMessagef(ErrInvalidFilter, format, args...)
}

// InvalidQueryf 构造带详情的查询结构错误
func InvalidQueryf(format string, args ...interface{}) error {
	return errors.WithMessagef(ErrInvalidQuery, format, args...)
}

// PermissionDeniedf 构造带详情的权限错误
func PermissionDeniedf(format string, args ...interface{}) error {
	return errors.WithMessagef(ErrPermissionDenied, format, args...)
}

// Conflictf 构造带详情的冲突错误
func Conflictf(format string, args ...interface{}) error {
	return errors.WithMessagef(ErrConflict, format, args...)
}

// NotFoundf 构造带详情的未找到错误
func NotFoundf(format string, args ...interface{}) error {
	return errors.WithMessagef(ErrNotFound, format, args...)
}

// KindOf 返回错误所属类别，未知错误归为 internal
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrInvalidFilter):
		return KindInvalidFilter
	case errors.Is(err, ErrInvalidQuery):
		return KindInvalidQuery
	case errors.Is(err, ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	default:
		return KindInternal
	}
}
