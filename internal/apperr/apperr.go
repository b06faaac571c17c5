// Package apperr 定义会议网关统一的错误分类。
//
// 每个错误携带一个 Kind，处理器据此决定对外暴露的状态码与文案：
// 校验类错误原样返回，内部错误只记录日志、对外返回通用文案。
package apperr

import (
	"errors"
	"net/http"
)

// Kind 错误类别
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation 用户输入缺失或非法
	KindValidation
	// KindConfiguration 缺少必需的环境配置
	KindConfiguration
	// KindTransientFeature 辅助功能不可用（如字幕），会话继续
	KindTransientFeature
	// KindInternal 令牌签发或客户端初始化中的意外失败
	KindInternal
	// KindNetwork 与外部平台或智能体后端通信失败
	KindNetwork
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConfiguration:
		return "configuration"
	case KindTransientFeature:
		return "transient_feature"
	case KindInternal:
		return "internal"
	case KindNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// Error is a classified error. Message is safe to show to callers; Err is
// the underlying cause and is only logged.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New 构造一个分类错误
func New(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Validation(message string) *Error { return New(KindValidation, message, nil) }

func Configuration(message string) *Error { return New(KindConfiguration, message, nil) }

func Internal(message string, err error) *Error { return New(KindInternal, message, err) }

func Network(message string, err error) *Error { return New(KindNetwork, message, err) }

func TransientFeature(message string, err error) *Error {
	return New(KindTransientFeature, message, err)
}

// KindOf returns the Kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// PublicMessage returns the caller-facing message of err, or fallback when
// err is unclassified.
func PublicMessage(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return fallback
}

// HTTPStatus maps a Kind to the status code used by the HTTP handlers.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
