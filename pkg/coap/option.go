package coap

import (
	"encoding/binary"
	"fmt"
)

// Option numbers CoAP选项号（仅列出本客户端会用到或需要展示的部分）
const (
	OptionIfMatch       = 1  // If-Match：条件请求（匹配资源ETag）
	OptionUriHost       = 3  // Uri-Host：资源主机地址
	OptionETag          = 4  // ETag：资源实体标签
	OptionIfNoneMatch   = 5  // If-None-Match：仅当资源不存在时处理
	OptionObserve       = 6  // Observe：订阅（本客户端不支持订阅语义，仅能展示）
	OptionUriPort       = 7  // Uri-Port：资源端口号
	OptionLocationPath  = 8  // Location-Path：资源创建后的位置路径
	OptionUriPath       = 11 // Uri-Path：资源路径段
	OptionContentFormat = 12 // Content-Format：负载数据格式
	OptionMaxAge        = 14 // Max-Age：缓存最大有效时间（秒）
	OptionUriQuery      = 15 // Uri-Query：请求参数
	OptionAccept        = 17 // Accept：期望的负载格式
	OptionLocationQuery = 20 // Location-Query：资源创建后的位置参数
	OptionBlock2        = 23 // Block2：响应分块
	OptionBlock1        = 27 // Block1：请求分块
	OptionSize2         = 28 // Size2：响应负载预估大小
	OptionProxyUri      = 35 // Proxy-Uri：代理目标URI
	OptionProxyScheme   = 39 // Proxy-Scheme：代理协议方案
	OptionSize1         = 60 // Size1：请求负载预估大小
)

// 选项头部中delta/长度半字节的取值边界
const (
	nibbleMax      = 12    // 可直接存放在半字节中的最大值
	extByteBase    = 13    // 半字节13：扩展1字节，实际值 = 扩展值 + 13
	extWordBase    = 269   // 半字节14：扩展2字节，实际值 = 扩展值 + 269
	nibbleReserved = 15    // 半字节15：保留值（整字节0xFF为负载分隔符）
	MaxOptionField = 65804 // delta/长度可表示的最大值（0xFFFF + 269）
)

// Option 表示一个CoAP选项（选项号+选项值的组合）
type Option struct {
	Number uint16 // 选项号（对应上方OptionXXX常量）
	Value  []byte // 选项值原始字节
}

// OptionFormat 选项值的展示格式
type OptionFormat uint8

const (
	FormatOpaque OptionFormat = iota // 不透明字节，按十六进制展示
	FormatString                     // UTF-8字符串
	FormatUint                       // 无符号整数（大端序，去掉前导0）
	FormatEmpty                      // 空值
	FormatBlock                      // Block1/Block2
)

type optionDef struct {
	name   string
	format OptionFormat
}

var optionDefs = map[uint16]optionDef{
	OptionIfMatch:       {"If-Match", FormatOpaque},
	OptionUriHost:       {"Uri-Host", FormatString},
	OptionETag:          {"ETag", FormatOpaque},
	OptionIfNoneMatch:   {"If-None-Match", FormatEmpty},
	OptionObserve:       {"Observe", FormatUint},
	OptionUriPort:       {"Uri-Port", FormatUint},
	OptionLocationPath:  {"Location-Path", FormatString},
	OptionUriPath:       {"Uri-Path", FormatString},
	OptionContentFormat: {"Content-Format", FormatUint},
	OptionMaxAge:        {"Max-Age", FormatUint},
	OptionUriQuery:      {"Uri-Query", FormatString},
	OptionAccept:        {"Accept", FormatUint},
	OptionLocationQuery: {"Location-Query", FormatString},
	OptionBlock2:        {"Block2", FormatBlock},
	OptionBlock1:        {"Block1", FormatBlock},
	OptionSize2:         {"Size2", FormatUint},
	OptionProxyUri:      {"Proxy-Uri", FormatString},
	OptionProxyScheme:   {"Proxy-Scheme", FormatString},
	OptionSize1:         {"Size1", FormatUint},
}

// OptionName 返回选项号对应的名称，未知选项返回"Option(N)"
func OptionName(number uint16) string {
	if def, ok := optionDefs[number]; ok {
		return def.name
	}
	return fmt.Sprintf("Option(%d)", number)
}

// OptionNumber 按名称查找选项号
func OptionNumber(name string) (uint16, bool) {
	for number, def := range optionDefs {
		if def.name == name {
			return number, true
		}
	}
	return 0, false
}

// FormatOf 返回选项值的格式，未知选项视为不透明字节
func FormatOf(number uint16) OptionFormat {
	if def, ok := optionDefs[number]; ok {
		return def.format
	}
	return FormatOpaque
}

// EncodeOptionHeader 编码选项头部（delta+长度）
// 规则：
// - 值 ≤12：直接存放在半字节中
// - 13 ≤ 值 ≤268：半字节存13，扩展1字节存（值-13）
// - 269 ≤ 值 ≤65804：半字节存14，扩展2字节存（值-269）（大端序）
// delta的扩展字节在长度的扩展字节之前
func EncodeOptionHeader(delta, length int) ([]byte, error) {
	dn, dext, err := splitField(delta)
	if err != nil {
		return nil, encodingErrorf("option delta", "%v", err)
	}
	ln, lext, err := splitField(length)
	if err != nil {
		return nil, encodingErrorf("option length", "%v", err)
	}

	out := make([]byte, 0, 1+len(dext)+len(lext))
	out = append(out, dn<<4|ln)
	out = append(out, dext...)
	out = append(out, lext...)
	return out, nil
}

// splitField 把delta或长度拆成半字节和扩展字节
func splitField(v int) (byte, []byte, error) {
	switch {
	case v < 0:
		return 0, nil, fmt.Errorf("负值%d", v)
	case v <= nibbleMax:
		return byte(v), nil, nil
	case v < extWordBase:
		return extByteBase, []byte{byte(v - extByteBase)}, nil
	case v <= MaxOptionField:
		ext := make([]byte, 2)
		binary.BigEndian.PutUint16(ext, uint16(v-extWordBase))
		return 14, ext, nil
	default:
		return 0, nil, fmt.Errorf("%d超出可编码范围（最大%d）", v, MaxOptionField)
	}
}

// DecodeOptionHeader 从data[offset:]解析选项头部
// 返回：delta、长度、头部占用的字节数
func DecodeOptionHeader(data []byte, offset int) (delta, length, n int, err error) {
	if offset < 0 || offset >= len(data) {
		return 0, 0, 0, decodingErrorf(offset, "选项头部被截断")
	}
	b := data[offset]
	pos := offset + 1

	delta, pos, err = joinField(data, pos, int(b>>4), "delta")
	if err != nil {
		return 0, 0, 0, err
	}
	length, pos, err = joinField(data, pos, int(b&0x0F), "长度")
	if err != nil {
		return 0, 0, 0, err
	}
	return delta, length, pos - offset, nil
}

// joinField 读取扩展字节并还原delta或长度
func joinField(data []byte, pos, nibble int, what string) (int, int, error) {
	switch nibble {
	case extByteBase:
		if pos+1 > len(data) {
			return 0, pos, decodingErrorf(pos, "扩展%s被截断", what)
		}
		return int(data[pos]) + extByteBase, pos + 1, nil
	case 14:
		if pos+2 > len(data) {
			return 0, pos, decodingErrorf(pos, "扩展%s被截断", what)
		}
		return int(binary.BigEndian.Uint16(data[pos:])) + extWordBase, pos + 2, nil
	case nibbleReserved:
		return 0, pos, decodingErrorf(pos-1, "%s使用了保留值15", what)
	default:
		return nibble, pos, nil
	}
}

// EncodeUint 把无符号整数编码为最短的大端字节序列，0编码为空
func EncodeUint(v uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	i := 0
	for i < len(buf) && buf[i] == 0 {
		i++
	}
	if i == len(buf) {
		return nil
	}
	return append([]byte(nil), buf[i:]...)
}

// DecodeUint 解析大端序无符号整数选项值（最多4字节）
func DecodeUint(b []byte) (uint32, error) {
	if len(b) > 4 {
		return 0, fmt.Errorf("整数选项长度%d超过4字节", len(b))
	}
	var v uint32
	for _, c := range b {
		v = v<<8 | uint32(c)
	}
	return v, nil
}

// BlockValue Block1/Block2选项的值：块号、是否还有后续块、块大小指数
type BlockValue struct {
	Num  uint32
	More bool
	SZX  uint8 // 块大小 = 2^(SZX+4)
}

// Size 返回块的字节数
func (b BlockValue) Size() int {
	return 1 << (uint(b.SZX) + 4)
}

func (b BlockValue) String() string {
	return fmt.Sprintf("%d/%t/%d", b.Num, b.More, b.Size())
}

// Encode 编码为选项值（num<<4 | more<<3 | szx）
func (b BlockValue) Encode() ([]byte, error) {
	if b.SZX > 6 {
		return nil, encodingErrorf("block szx", "%d超出范围（0-6）", b.SZX)
	}
	if b.Num >= 1<<20 {
		return nil, encodingErrorf("block num", "%d超出范围", b.Num)
	}
	v := b.Num<<4 | uint32(b.SZX)
	if b.More {
		v |= 0x08
	}
	return EncodeUint(v), nil
}

// DecodeBlock 解析Block1/Block2选项值
func DecodeBlock(raw []byte) (BlockValue, error) {
	if len(raw) > 3 {
		return BlockValue{}, fmt.Errorf("block选项长度%d超过3字节", len(raw))
	}
	v, err := DecodeUint(raw)
	if err != nil {
		return BlockValue{}, err
	}
	return BlockValue{
		Num:  v >> 4,
		More: v&0x08 != 0,
		SZX:  uint8(v & 0x07),
	}, nil
}
