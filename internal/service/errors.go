package service

import (
	"errors"
	"fmt"
)

// 错误类别，handler 据此映射 HTTP 状态码
var (
	ErrNotFound     = errors.New("资源不存在")
	ErrConflict     = errors.New("资源冲突")
	ErrForbidden    = errors.New("没有权限")
	ErrUnauthorized = errors.New("未登录")
)

// Error 带类别的业务错误
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() error { return e.Kind }

var (
	ErrMovieNotFound  = &Error{Kind: ErrNotFound, Msg: "电影不存在"}
	ErrReviewNotFound = &Error{Kind: ErrNotFound, Msg: "评论不存在"}
	ErrUserNotFound   = &Error{Kind: ErrNotFound, Msg: "用户不存在"}
	ErrEventNotFound  = &Error{Kind: ErrNotFound, Msg: "事件不存在"}

	ErrDuplicateReview = &Error{Kind: ErrConflict, Msg: "你已经评论过这部电影"}
	ErrDuplicateMovie  = &Error{Kind: ErrConflict, Msg: "相同标题、导演和年份的电影已存在"}
	ErrDuplicateUser   = &Error{Kind: ErrConflict, Msg: "用户名或邮箱已被使用"}

	ErrNotReviewOwner  = &Error{Kind: ErrForbidden, Msg: "只能修改自己的评论"}
	ErrEventNotVisible = &Error{Kind: ErrForbidden, Msg: "无权操作该事件"}
	ErrAdminOnly       = &Error{Kind: ErrForbidden, Msg: "需要管理员权限"}

	ErrInvalidCredentials = &Error{Kind: ErrUnauthorized, Msg: "邮箱或密码错误"}
	ErrAccountDeactivated = &Error{Kind: ErrUnauthorized, Msg: "账号已被停用"}
)

// ValidationError 输入校验失败
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}
