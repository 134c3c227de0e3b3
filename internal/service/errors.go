package service

import "errors"

// 业务层通用错误，handler 可根据错误类型映射到合适的 HTTP 状态码。
var (
	ErrUsernameTaken      = errors.New("username taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrMessageNotFound    = errors.New("message not found")
	ErrProfileNotFound    = errors.New("profile not found")
	ErrForbidden          = errors.New("only the author can modify this message")
	ErrEmptyContent       = errors.New("content is required")
	ErrInvalidOutputMode  = errors.New("invalid output mode")
)
