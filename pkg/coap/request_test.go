package coap

import (
	"testing"

	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRequest_Message 测试请求描述转换为消息（写数据点场景：POST /1a/<alias>?<cik>）
func TestRequest_Message(t *testing.T) {
	cf := message.AppCBOR
	req := &Request{
		Type:          Confirmable,
		Method:        codes.POST,
		MessageID:     0x37,
		Token:         []byte{0x01},
		Path:          "/1a/temperature/",
		Query:         []string{"alias r1"},
		QueryRaw:      [][]byte{{0xDE, 0xAD, 0xBE, 0xEF}},
		ContentFormat: &cf,
		Payload:       []byte("37"),
	}
	msg, err := req.Message()
	require.NoError(t, err)

	assert.Equal(t, "/1a/temperature", msg.Path())
	assert.Equal(t, []string{"alias r1", "\xde\xad\xbe\xef"}, msg.Queries())
	got, ok := msg.ContentFormat()
	assert.True(t, ok)
	assert.Equal(t, message.AppCBOR, got)
	assert.Equal(t, []byte("37"), msg.Payload)

	data, err := Encode(msg)
	require.NoError(t, err)
	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, msg.Path(), decoded.Path())
	assert.Equal(t, msg.Queries(), decoded.Queries())
}

// TestRequest_Errors 测试非请求方法与过长令牌
func TestRequest_Errors(t *testing.T) {
	_, err := (&Request{Method: codes.Content}).Message()
	assert.Error(t, err)

	_, err = (&Request{Method: codes.GET, Token: make([]byte, 9)}).Message()
	assert.Error(t, err)

	_, err = (&Request{Method: codes.GET, Block2: &BlockValue{SZX: 7}}).Message()
	assert.Error(t, err)
}

// TestMessage_Block2 测试Block2选项的设置与读取
func TestMessage_Block2(t *testing.T) {
	msg := NewMessage(Confirmable, codes.POST, 1)
	_, ok := msg.Block2()
	assert.False(t, ok)

	require.NoError(t, msg.SetBlock2(BlockValue{Num: 3, SZX: 2}))
	require.NoError(t, msg.SetBlock2(BlockValue{Num: 4, SZX: 2}))
	assert.Len(t, msg.OptionValues(OptionBlock2), 1, "SetBlock2应替换旧值")

	b, ok := msg.Block2()
	assert.True(t, ok)
	assert.Equal(t, BlockValue{Num: 4, SZX: 2}, b)
}

// TestMessage_Options 测试选项增删查
func TestMessage_Options(t *testing.T) {
	msg := NewMessage(Confirmable, codes.GET, 1)
	msg.SetPath("a/b")
	msg.AddOption(OptionUriQuery, []byte("x=1"))
	msg.SetOption(OptionUriHost, []byte("example.com"))

	host, ok := msg.Option(OptionUriHost)
	assert.True(t, ok)
	assert.Equal(t, "example.com", string(host))
	assert.Equal(t, "/a/b", msg.Path())

	msg.RemoveOption(OptionUriPath)
	assert.Equal(t, "/", msg.Path())
	assert.Equal(t, []string{"x=1"}, msg.Queries())
}

// TestCodeHelpers 测试消息码分类与展示
func TestCodeHelpers(t *testing.T) {
	assert.True(t, IsRequest(codes.GET))
	assert.False(t, IsRequest(codes.Content))
	assert.True(t, IsResponse(codes.NotFound))
	assert.True(t, IsSuccess(codes.Changed))
	assert.False(t, IsSuccess(codes.BadRequest))

	assert.Equal(t, "0.01 GET", CodeString(codes.GET))
	assert.Equal(t, "2.05 Content", CodeString(codes.Content))
	assert.Equal(t, "4.04 NotFound", CodeString(codes.NotFound))
	assert.Equal(t, "0.00 Empty", CodeString(codes.Empty))

	m, err := ParseMethod("delete")
	require.NoError(t, err)
	assert.Equal(t, codes.DELETE, m)
	_, err = ParseMethod("PATCH")
	assert.Error(t, err)

	typ, ok := ParseType("NON")
	assert.True(t, ok)
	assert.Equal(t, NonConfirmable, typ)
}
