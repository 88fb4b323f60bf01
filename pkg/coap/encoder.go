// 提供简化版CoAP消息的编码与解码功能（不保证与标准CoAP完全兼容）
package coap

import (
	"bytes"
	"encoding/binary"
	"sort"
	"strconv"

	"github.com/plgd-dev/go-coap/v3/message/codes"
)

// CoAP消息格式相关常量
const (
	// Version1 协议版本（仅支持v1）
	Version1 = 1

	// HeaderSize 固定头部长度：版本/类型/令牌长度(1) + 消息码(1) + 消息ID(2)
	HeaderSize = 4

	// MaxTokenLength 令牌最大长度
	MaxTokenLength = 8

	// PayloadMarker 负载分隔符：用于区分选项与负载的边界
	PayloadMarker = 0xFF
)

// Type CoAP消息类型（4种）
type Type uint8

const (
	Confirmable     Type = 0 // 确认型消息（CON）：需接收方回复ACK
	NonConfirmable  Type = 1 // 非确认型消息（NON）
	Acknowledgement Type = 2 // 确认消息（ACK）
	Reset           Type = 3 // 重置消息（RST）
)

var typeNames = map[Type]string{
	Confirmable:     "CON",
	NonConfirmable:  "NON",
	Acknowledgement: "ACK",
	Reset:           "RST",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return "Type(" + strconv.Itoa(int(t)) + ")"
}

// ParseType 解析"CON"/"NON"/"ACK"/"RST"
func ParseType(s string) (Type, bool) {
	for t, name := range typeNames {
		if name == s {
			return t, true
		}
	}
	return 0, false
}

// Message 表示一条CoAP消息
// 每次交互临时构造；编码后不再修改；不同交互之间不保留任何状态
type Message struct {
	Version   uint8      // 协议版本（必须为1）
	Type      Type       // 消息类型
	Code      codes.Code // 消息码（class.detail，线上占8位）
	MessageID uint16     // 消息ID（此处仅原样回显，不做去重匹配）
	Token     []byte     // 令牌（0-8字节）
	Options   []Option   // 选项列表（按选项号非递减排列）
	Payload   []byte     // 负载

	raw []byte // 解码时的原始数据报，仅由Decode设置
}

// NewMessage 创建一个v1消息（无令牌、无选项、无负载）
func NewMessage(typ Type, code codes.Code, messageID uint16) *Message {
	return &Message{
		Version:   Version1,
		Type:      typ,
		Code:      code,
		MessageID: messageID,
	}
}

// Raw 返回消息被解码时的原始数据报；非解码得到的消息返回nil
func (m *Message) Raw() []byte {
	return m.raw
}

// Encoder 处理CoAP消息的编码（结构体→字节流）与解码（字节流→结构体）
type Encoder struct{}

// NewEncoder 创建一个新的CoAP编解码器实例
func NewEncoder() *Encoder {
	return &Encoder{}
}

var defaultEncoder = NewEncoder()

// Encode 使用默认编解码器编码消息
func Encode(msg *Message) ([]byte, error) {
	return defaultEncoder.Encode(msg)
}

// Decode 使用默认编解码器解码数据报
func Decode(data []byte) (*Message, error) {
	return defaultEncoder.Decode(data)
}

// Encode 将消息结构体编码为网络传输用的字节流
func (e *Encoder) Encode(msg *Message) ([]byte, error) {
	if msg == nil {
		return nil, encodingErrorf("message", "消息不能为空")
	}
	if err := e.validateMessage(msg); err != nil {
		return nil, err
	}

	buf := new(bytes.Buffer)

	// 1. 固定头部
	buf.WriteByte(msg.Version<<6 | byte(msg.Type)<<4 | byte(len(msg.Token)))
	buf.WriteByte(byte(msg.Code))
	var mid [2]byte
	binary.BigEndian.PutUint16(mid[:], msg.MessageID)
	buf.Write(mid[:])

	// 2. 令牌
	buf.Write(msg.Token)

	// 3. 选项
	if err := e.encodeOptions(buf, msg.Options); err != nil {
		return nil, err
	}

	// 4. 负载（为空时省略分隔符）
	if len(msg.Payload) > 0 {
		buf.WriteByte(PayloadMarker)
		buf.Write(msg.Payload)
	}

	return buf.Bytes(), nil
}

// encodeOptions 按选项号升序写入选项，delta相对前一个选项号计算（第一个相对0）
// 同号选项保持调用方给出的相对顺序，调用方的切片不会被重排
func (e *Encoder) encodeOptions(buf *bytes.Buffer, options []Option) error {
	if len(options) == 0 {
		return nil
	}
	sorted := make([]Option, len(options))
	copy(sorted, options)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Number < sorted[j].Number
	})

	prev := 0
	for _, opt := range sorted {
		header, err := EncodeOptionHeader(int(opt.Number)-prev, len(opt.Value))
		if err != nil {
			return err
		}
		buf.Write(header)
		buf.Write(opt.Value)
		prev = int(opt.Number)
	}
	return nil
}

// Decode 将接收到的数据报解码为消息结构体
// 遇到第一个错误即返回，不返回部分解析的消息
func (e *Encoder) Decode(data []byte) (*Message, error) {
	if len(data) < HeaderSize {
		return nil, decodingErrorf(len(data), "消息过短: 仅%d字节（至少需%d字节头部）", len(data), HeaderSize)
	}

	msg := &Message{
		Version:   data[0] >> 6,
		Type:      Type((data[0] >> 4) & 0x03),
		Code:      codes.Code(data[1]),
		MessageID: binary.BigEndian.Uint16(data[2:4]),
	}
	if msg.Version != Version1 {
		return nil, decodingErrorf(0, "不支持的协议版本: %d（仅支持v1）", msg.Version)
	}

	tkl := int(data[0] & 0x0F)
	if tkl > MaxTokenLength {
		return nil, decodingErrorf(0, "令牌长度%d为保留值（最大%d）", tkl, MaxTokenLength)
	}
	if len(data) < HeaderSize+tkl {
		return nil, decodingErrorf(len(data), "令牌被截断: 声明%d字节，实际%d字节", tkl, len(data)-HeaderSize)
	}
	msg.Token = cloneBytes(data[HeaderSize : HeaderSize+tkl])

	pos := HeaderSize + tkl
	number := 0
	for pos < len(data) {
		if data[pos] == PayloadMarker {
			msg.Payload = cloneBytes(data[pos+1:])
			break
		}

		delta, length, n, err := DecodeOptionHeader(data, pos)
		if err != nil {
			return nil, err
		}
		// 选项号超过16位会回绕变小，视为递减
		if number+delta > 0xFFFF {
			return nil, decodingErrorf(pos, "选项号递减: %d + %d 超出16位", number, delta)
		}
		number += delta
		pos += n

		if pos+length > len(data) {
			return nil, decodingErrorf(pos, "选项%d的值越界: 声明%d字节，剩余%d字节", number, length, len(data)-pos)
		}
		msg.Options = append(msg.Options, Option{
			Number: uint16(number),
			Value:  cloneBytes(data[pos : pos+length]),
		})
		pos += length
	}

	msg.raw = cloneBytes(data)
	return msg, nil
}

// validateMessage 验证消息结构体各字段是否符合位宽要求
func (e *Encoder) validateMessage(msg *Message) error {
	if msg.Version > 0x03 {
		return encodingErrorf("version", "%d超出2位", msg.Version)
	}
	if msg.Version != Version1 {
		return encodingErrorf("version", "无效的协议版本%d（仅支持v1）", msg.Version)
	}
	if msg.Type > Reset {
		return encodingErrorf("type", "无效的消息类型%d（仅支持0-3）", msg.Type)
	}
	if msg.Code > 0xFF {
		return encodingErrorf("code", "%d超出8位", msg.Code)
	}
	if len(msg.Token) > MaxTokenLength {
		return encodingErrorf("token", "令牌长度过长: %d（最大支持%d字节）", len(msg.Token), MaxTokenLength)
	}
	return nil
}

// cloneBytes 复制字节切片，空切片返回nil
func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}
