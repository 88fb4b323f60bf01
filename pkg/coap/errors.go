package coap

import "fmt"

// EncodingError 表示消息结构体无法编码为合法的数据报（字段位宽越界、令牌过长、选项超出范围等）
type EncodingError struct {
	Field  string // 出错的字段名
	Reason string // 出错原因
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("coap编码失败: %s: %s", e.Field, e.Reason)
}

// DecodingError 表示接收到的数据报无法解析（截断、版本错误、选项号递减、长度越界等）
type DecodingError struct {
	Offset int    // 出错位置（字节偏移）
	Reason string // 出错原因
}

func (e *DecodingError) Error() string {
	return fmt.Sprintf("coap解码失败: 偏移%d: %s", e.Offset, e.Reason)
}

func encodingErrorf(field, format string, args ...interface{}) error {
	return &EncodingError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func decodingErrorf(offset int, format string, args ...interface{}) error {
	return &DecodingError{Offset: offset, Reason: fmt.Sprintf(format, args...)}
}
