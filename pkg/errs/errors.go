// Package errs 定义流水线使用的错误分类
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind 错误类别
type Kind string

const (
	KindTransient     Kind = "transient"
	KindConfiguration Kind = "configuration"
	KindValidation    Kind = "validation"
	KindContent       Kind = "content"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("记录不存在")

// ConfigurationError 外部服务配置错误（API key无效、额度耗尽），重试无意义
type ConfigurationError struct {
	Service string
	Err     error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s 配置错误: %v", e.Service, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// TransientError 网络或服务端的临时错误
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s 临时失败: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// ValidationError Filing属性缺失或格式错误
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "校验失败: " + e.Reason
	}
	return fmt.Sprintf("校验失败 %s: %s", e.Field, e.Reason)
}

// ContentError 内容或结构错误，例如下载到iXBRL viewer或费用表
type ContentError struct {
	Reason string
	Err    error
}

func (e *ContentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("内容错误 %s: %v", e.Reason, e.Err)
	}
	return "内容错误: " + e.Reason
}

func (e *ContentError) Unwrap() error { return e.Err }

// Configuration 构造ConfigurationError
func Configuration(service string, err error) error {
	return &ConfigurationError{Service: service, Err: err}
}

// Transient 构造TransientError
func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// Validation 构造ValidationError
func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Content 构造ContentError
func Content(reason string, err error) error {
	return &ContentError{Reason: reason, Err: err}
}

// KindOf 返回错误类别。未标注类型的错误先按消息文本兜底，否则视为临时错误
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var cfgErr *ConfigurationError
	var valErr *ValidationError
	var contentErr *ContentError
	var transientErr *TransientError

	switch {
	case errors.As(err, &cfgErr):
		return KindConfiguration
	case errors.As(err, &valErr):
		return KindValidation
	case errors.As(err, &contentErr):
		return KindContent
	case errors.As(err, &transientErr):
		return KindTransient
	}

	return ClassifyMessage(err.Error())
}

// Retryable 只有临时错误可以自动重试
func Retryable(err error) bool {
	return KindOf(err) == KindTransient
}

// ClassifyMessage 对第三方SDK返回的无类型错误做文本分类
func ClassifyMessage(msg string) Kind {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "quota"):
		return KindConfiguration
	case strings.Contains(m, "api key"), strings.Contains(m, "api_key"), strings.Contains(m, "apikey"):
		return KindConfiguration
	case strings.Contains(m, "invalid") && (strings.Contains(m, "key") || strings.Contains(m, "auth")):
		return KindConfiguration
	case strings.Contains(m, "unauthorized"):
		return KindConfiguration
	}
	return KindTransient
}
