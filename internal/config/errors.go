package config

import (
	"errors"
	"fmt"
)

// FieldError 标记配置中出错的字段路径；CLI 的 --check-config 直接打印它。
type FieldError struct {
	Field  string
	Reason string
	Err    error
}

func (e FieldError) Error() string {
	switch {
	case e.Err == nil:
		return e.Field + ": " + e.Reason
	case e.Reason == "":
		return e.Field + ": " + e.Err.Error()
	default:
		return fmt.Sprintf("%s: %s: %v", e.Field, e.Reason, e.Err)
	}
}

func (e FieldError) Unwrap() error { return e.Err }

func newFieldError(field, reason string) error {
	return FieldError{Field: field, Reason: reason}
}

// wrapFieldError 把底层解析错误挂到字段上，nil 原样返回。
func wrapFieldError(field string, err error) error {
	if err == nil {
		return nil
	}
	var existing FieldError
	if errors.As(err, &existing) {
		return err
	}
	return FieldError{Field: field, Err: err}
}

// countryField 输出 Country[JP].Field 形式的路径，缺少代码时为 Country[].Field。
func countryField(code, field string) string {
	return "Country[" + code + "]." + field
}
