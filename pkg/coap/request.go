package coap

import (
	"fmt"
	"strings"

	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
)

// IsRequest 消息码是否为请求方法（0.01-0.31）
func IsRequest(code codes.Code) bool {
	return code >= 1 && code < 32
}

// IsResponse 消息码是否为响应（2.xx-5.xx）
func IsResponse(code codes.Code) bool {
	return code >= 64 && code < 192
}

// IsSuccess 消息码是否为成功响应（2.xx）
func IsSuccess(code codes.Code) bool {
	return code >= 64 && code < 96
}

// CodeString 以"c.dd Name"的形式返回消息码，例如"2.05 Content"、"0.01 GET"
func CodeString(code codes.Code) string {
	dotted := fmt.Sprintf("%d.%02d", code>>5, code&0x1F)
	if code == codes.Empty {
		return dotted + " Empty"
	}
	return dotted + " " + code.String()
}

// ParseMethod 解析请求方法名（GET/POST/PUT/DELETE，不区分大小写）
func ParseMethod(s string) (codes.Code, error) {
	switch strings.ToUpper(s) {
	case "GET":
		return codes.GET, nil
	case "POST":
		return codes.POST, nil
	case "PUT":
		return codes.PUT, nil
	case "DELETE":
		return codes.DELETE, nil
	}
	return 0, fmt.Errorf("不支持的请求方法: %q", s)
}

// Request 描述一个待发送的请求
type Request struct {
	Type          Type
	Method        codes.Code
	MessageID     uint16
	Token         []byte
	Path          string   // 资源路径，如"/1a/temperature"，按'/'拆成Uri-Path
	Query         []string // Uri-Query（字符串形式）
	QueryRaw      [][]byte // Uri-Query（原始字节，如二进制CIK）
	ContentFormat *message.MediaType
	Accept        *message.MediaType
	Block2        *BlockValue
	Payload       []byte
}

// Message 把请求描述转换为消息结构体
func (r *Request) Message() (*Message, error) {
	if !IsRequest(r.Method) {
		return nil, encodingErrorf("code", "%s不是请求方法", CodeString(r.Method))
	}
	if len(r.Token) > MaxTokenLength {
		return nil, encodingErrorf("token", "令牌长度过长: %d（最大支持%d字节）", len(r.Token), MaxTokenLength)
	}

	m := NewMessage(r.Type, r.Method, r.MessageID)
	m.Token = cloneBytes(r.Token)
	m.SetPath(r.Path)
	for _, q := range r.Query {
		m.AddOption(OptionUriQuery, []byte(q))
	}
	for _, q := range r.QueryRaw {
		m.AddOption(OptionUriQuery, q)
	}
	if r.ContentFormat != nil {
		m.SetOption(OptionContentFormat, EncodeUint(uint32(*r.ContentFormat)))
	}
	if r.Accept != nil {
		m.SetOption(OptionAccept, EncodeUint(uint32(*r.Accept)))
	}
	if r.Block2 != nil {
		if err := m.SetBlock2(*r.Block2); err != nil {
			return nil, err
		}
	}
	m.Payload = cloneBytes(r.Payload)
	return m, nil
}

// AddOption 追加一个选项（同号选项可重复，如Uri-Path）
func (m *Message) AddOption(number uint16, value []byte) {
	m.Options = append(m.Options, Option{Number: number, Value: value})
}

// SetOption 替换指定选项号的所有值为单个值
func (m *Message) SetOption(number uint16, value []byte) {
	m.RemoveOption(number)
	m.AddOption(number, value)
}

// RemoveOption 删除指定选项号的所有值
func (m *Message) RemoveOption(number uint16) {
	var kept []Option
	for _, opt := range m.Options {
		if opt.Number != number {
			kept = append(kept, opt)
		}
	}
	m.Options = kept
}

// Option 获取第一个指定选项号的值
func (m *Message) Option(number uint16) ([]byte, bool) {
	for _, opt := range m.Options {
		if opt.Number == number {
			return opt.Value, true
		}
	}
	return nil, false
}

// OptionValues 获取所有指定选项号的值（适用于多值选项，如Uri-Query）
func (m *Message) OptionValues(number uint16) [][]byte {
	var values [][]byte
	for _, opt := range m.Options {
		if opt.Number == number {
			values = append(values, opt.Value)
		}
	}
	return values
}

// SetPath 按'/'拆分路径并设置Uri-Path，空段被忽略
func (m *Message) SetPath(path string) {
	m.RemoveOption(OptionUriPath)
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			m.AddOption(OptionUriPath, []byte(seg))
		}
	}
}

// Path 返回由Uri-Path拼接的路径，以'/'开头
func (m *Message) Path() string {
	var segs []string
	for _, v := range m.OptionValues(OptionUriPath) {
		segs = append(segs, string(v))
	}
	return "/" + strings.Join(segs, "/")
}

// Queries 返回所有Uri-Query
func (m *Message) Queries() []string {
	var qs []string
	for _, v := range m.OptionValues(OptionUriQuery) {
		qs = append(qs, string(v))
	}
	return qs
}

// ContentFormat 返回Content-Format选项
func (m *Message) ContentFormat() (message.MediaType, bool) {
	v, ok := m.Option(OptionContentFormat)
	if !ok {
		return 0, false
	}
	n, err := DecodeUint(v)
	if err != nil {
		return 0, false
	}
	return message.MediaType(n), true
}

// Block2 返回Block2选项；选项不存在或格式错误时ok为false
func (m *Message) Block2() (BlockValue, bool) {
	v, ok := m.Option(OptionBlock2)
	if !ok {
		return BlockValue{}, false
	}
	b, err := DecodeBlock(v)
	if err != nil {
		return BlockValue{}, false
	}
	return b, true
}

// SetBlock2 设置Block2选项
func (m *Message) SetBlock2(b BlockValue) error {
	v, err := b.Encode()
	if err != nil {
		return err
	}
	m.SetOption(OptionBlock2, v)
	return nil
}

// Clone 深拷贝消息（不含原始数据报）
func (m *Message) Clone() *Message {
	c := &Message{
		Version:   m.Version,
		Type:      m.Type,
		Code:      m.Code,
		MessageID: m.MessageID,
		Token:     cloneBytes(m.Token),
		Payload:   cloneBytes(m.Payload),
	}
	for _, opt := range m.Options {
		c.Options = append(c.Options, Option{Number: opt.Number, Value: cloneBytes(opt.Value)})
	}
	return c
}
