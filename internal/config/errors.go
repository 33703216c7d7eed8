package config

import (
	"errors"
	"fmt"
	"strings"
)

// FieldError 提供字段路径与错误原因，便于 CLI 向用户反馈。
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Section 返回字段所属的配置段：Global、Platform 或 S3。
func (e FieldError) Section() string {
	if idx := strings.IndexByte(e.Field, '.'); idx > 0 {
		return e.Field[:idx]
	}
	return "Global"
}

// AsFieldError 从错误链中取出 FieldError。
func AsFieldError(err error) (FieldError, bool) {
	var fe FieldError
	if errors.As(err, &fe) {
		return fe, true
	}
	return FieldError{}, false
}

func newFieldError(field, reason string) error {
	return FieldError{Field: field, Reason: reason}
}
