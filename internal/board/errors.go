package board

import (
	"errors"
	"sort"
	"strings"
)

var (
	// ErrNotFound 表示引用的分类、广告或用户不存在。
	ErrNotFound = errors.New("not found")
	// ErrProtected 表示仍有依赖记录，拒绝删除。
	ErrProtected = errors.New("protected: dependent records exist")
)

// ValidationError 收集表单级字段错误，调用方应原样回显表单而不修改任何状态。
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = map[string]string{}
	}
	if _, exists := e.Fields[field]; !exists {
		e.Fields[field] = msg
	}
}

// orNil 没有字段错误时返回 nil，避免把空的 *ValidationError 当成 error 返回。
func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// AsValidation 是 errors.As 的便捷包装。
func AsValidation(err error) (*ValidationError, bool) {
	var v *ValidationError
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}
