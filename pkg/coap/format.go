package coap

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/plgd-dev/go-coap/v3/message"
)

// Direction 消息方向
type Direction uint8

const (
	Outgoing Direction = iota // 即将发送的消息
	Incoming                  // 接收并解码的消息
)

func (d Direction) String() string {
	switch d {
	case Outgoing:
		return "Outgoing"
	case Incoming:
		return "Incoming"
	}
	return "Direction(" + strconv.Itoa(int(d)) + ")"
}

// 校验结论
const (
	VerdictWellFormed = "well-formed"
	VerdictMalformed  = "malformed"
)

// Format 把消息渲染为多行可读文本，最后一行为校验结论
func Format(m *Message, dir Direction) string {
	var sb strings.Builder
	line := func(label, format string, args ...interface{}) {
		fmt.Fprintf(&sb, "%-17s%s\n", label+":", fmt.Sprintf(format, args...))
	}

	line("Direction", "%s", dir)
	if m == nil {
		line("Verdict", "%s", VerdictMalformed)
		return sb.String()
	}
	line("Message Version", "%d", m.Version)
	line("Message Type", "%s", m.Type)
	line("Message Code", "%s", CodeString(m.Code))
	line("Message Id", "0x%04x", m.MessageID)
	line("Message Token", "0x%s", hex.EncodeToString(m.Token))
	if len(m.Options) == 0 {
		line("Message Options", "(none)")
	}
	for _, opt := range m.Options {
		line("Message Option", "%s(%d) %s", OptionName(opt.Number), opt.Number, FormatOptionValue(opt))
	}
	line("Message Payload", "%s", formatPayload(m.Payload))

	var ok bool
	switch dir {
	case Incoming:
		raw := m.Raw()
		if raw == nil {
			// 内存中构造的消息：检查其编码结果
			raw, _ = Encode(m)
		}
		ok = wellFormed(raw)
	case Outgoing:
		// BUG(format): 出站消息还未编码，这里把结构体本身（没有线上字节）交给
		// 面向接收缓冲区的检查，结论总是malformed。已知问题，外部调用方依赖该表现，暂不修正。
		ok = wellFormed(nil)
	}
	if ok {
		line("Verdict", "%s", VerdictWellFormed)
	} else {
		line("Verdict", "%s", VerdictMalformed)
	}
	return sb.String()
}

// wellFormed 检查接收到的字节缓冲区能否被完整解码
func wellFormed(raw []byte) bool {
	if len(raw) == 0 {
		return false
	}
	_, err := Decode(raw)
	return err == nil
}

// FormatOptionValue 按选项格式渲染选项值
func FormatOptionValue(opt Option) string {
	switch FormatOf(opt.Number) {
	case FormatString:
		return strconv.Quote(string(opt.Value))
	case FormatUint:
		v, err := DecodeUint(opt.Value)
		if err != nil {
			return "0x" + hex.EncodeToString(opt.Value)
		}
		if opt.Number == OptionContentFormat || opt.Number == OptionAccept {
			return fmt.Sprintf("%d (%s)", v, message.MediaType(v))
		}
		return strconv.FormatUint(uint64(v), 10)
	case FormatBlock:
		b, err := DecodeBlock(opt.Value)
		if err != nil {
			return "0x" + hex.EncodeToString(opt.Value)
		}
		return b.String()
	case FormatEmpty:
		if len(opt.Value) == 0 {
			return "(empty)"
		}
	}
	return "0x" + hex.EncodeToString(opt.Value)
}

// formatPayload 可打印的UTF-8负载原样引用，否则按十六进制展示
func formatPayload(p []byte) string {
	if len(p) == 0 {
		return "(empty)"
	}
	if utf8.Valid(p) && isPrintable(string(p)) {
		return strconv.Quote(string(p))
	}
	return "0x" + hex.EncodeToString(p)
}

func isPrintable(s string) bool {
	for _, r := range s {
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

// FormatHex 以十六进制渲染原始数据报
func FormatHex(data []byte) string {
	return hex.EncodeToString(data)
}
