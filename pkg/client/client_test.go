package client

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junbin-yang/coapdemo/api"
	"github.com/junbin-yang/coapdemo/pkg/coap"
	"github.com/junbin-yang/coapdemo/pkg/transport/udp"
)

// fakeTransport 内存中的对端：每次Send后由respond生成下一次Receive的数据
type fakeTransport struct {
	sent    [][]byte
	pending []byte
	respond func(req []byte) []byte
	sendErr error
}

func (f *fakeTransport) Send(_ context.Context, data []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, data)
	f.pending = f.respond(data)
	return nil
}

func (f *fakeTransport) Receive(ctx context.Context) ([]byte, error) {
	if f.pending == nil {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	data := f.pending
	f.pending = nil
	return data, nil
}

// ack 构造对请求的ACK响应（回显消息ID与令牌）
func ack(t *testing.T, req []byte, code codes.Code, payload []byte, opts ...coap.Option) []byte {
	m, err := coap.Decode(req)
	require.NoError(t, err)
	resp := coap.NewMessage(coap.Acknowledgement, code, m.MessageID)
	resp.Token = m.Token
	resp.Options = opts
	resp.Payload = payload
	data, err := coap.Encode(resp)
	require.NoError(t, err)
	return data
}

// TestClient_Do 测试一次完整交互及格式化输出
func TestClient_Do(t *testing.T) {
	ft := &fakeTransport{respond: func(req []byte) []byte {
		return ack(t, req, codes.Content, []byte("22.5"))
	}}
	var out bytes.Buffer
	var received int
	c := New(ft, WithOutput(&out), WithCallbacks(api.Callbacks{
		OnMessageReceived: func([]byte) { received++ },
	}))

	req := coap.NewMessage(coap.Confirmable, codes.GET, 0x1234)
	req.Token = []byte{0x01}
	req.SetPath("/1a/temperature")

	resp, err := c.Do(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, codes.Content, resp.Code)
	assert.Equal(t, uint16(0x1234), resp.MessageID)
	assert.Equal(t, []byte("22.5"), resp.Payload)

	require.Len(t, ft.sent, 1)
	want, err := coap.Encode(req)
	require.NoError(t, err)
	assert.Equal(t, want, ft.sent[0])

	text := out.String()
	assert.Contains(t, text, "Direction:       Outgoing")
	assert.Contains(t, text, "Direction:       Incoming")
	assert.Equal(t, 1, strings.Count(text, "Verdict:         malformed"), "出站消息按已知缺陷报告malformed")
	assert.Equal(t, 1, strings.Count(text, "Verdict:         well-formed"))

	stats := c.Statistics()
	assert.Equal(t, uint64(1), stats.MessagesSent)
	assert.Equal(t, uint64(1), stats.MessagesReceived)
	assert.Equal(t, uint64(1), stats.Exchanges)
	assert.Equal(t, 1, received)
}

// TestClient_DecodeFailure 测试响应解码失败时返回DecodingError，不重试
func TestClient_DecodeFailure(t *testing.T) {
	ft := &fakeTransport{respond: func([]byte) []byte {
		return []byte{0x80, 0x45, 0x00, 0x01} // 版本2
	}}
	var errs int
	c := New(ft, WithOutput(&bytes.Buffer{}), WithCallbacks(api.Callbacks{
		OnError: func(error) { errs++ },
	}))

	_, err := c.Do(context.Background(), coap.NewMessage(coap.Confirmable, codes.GET, 1))
	var decErr *coap.DecodingError
	require.True(t, errors.As(err, &decErr), "实际错误: %v", err)
	assert.Len(t, ft.sent, 1, "不应重发")
	assert.Equal(t, uint64(1), c.Statistics().Errors)
	assert.Equal(t, 1, errs)
}

// TestClient_EncodeFailure 测试请求编码失败时不发送
func TestClient_EncodeFailure(t *testing.T) {
	ft := &fakeTransport{respond: func([]byte) []byte { return nil }}
	c := New(ft, WithOutput(&bytes.Buffer{}))

	req := coap.NewMessage(coap.Confirmable, codes.GET, 1)
	req.Token = make([]byte, 9)
	_, err := c.Do(context.Background(), req)
	var encErr *coap.EncodingError
	require.True(t, errors.As(err, &encErr))
	assert.Empty(t, ft.sent)
}

// TestClient_SendFailure 测试发送失败
func TestClient_SendFailure(t *testing.T) {
	ft := &fakeTransport{sendErr: errors.New("network down")}
	c := New(ft, WithOutput(&bytes.Buffer{}))
	_, err := c.Do(context.Background(), coap.NewMessage(coap.Confirmable, codes.GET, 1))
	assert.ErrorContains(t, err, "network down")
}

// TestClient_Timeout 测试无响应时在超时后返回
func TestClient_Timeout(t *testing.T) {
	ft := &fakeTransport{respond: func([]byte) []byte { return nil }}
	c := New(ft, WithOutput(&bytes.Buffer{}), WithTimeout(50*time.Millisecond))

	_, err := c.Do(context.Background(), coap.NewMessage(coap.Confirmable, codes.GET, 1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

// TestClient_Fetch 测试Block2分块拉取：拼接负载、递增消息ID、保留请求负载
func TestClient_Fetch(t *testing.T) {
	body := bytes.Repeat([]byte("0123456789abcdef"), 10) // 160字节
	const szx = 2                                        // 64字节一块

	ft := &fakeTransport{}
	ft.respond = func(req []byte) []byte {
		m, err := coap.Decode(req)
		require.NoError(t, err)
		num := uint32(0)
		if b, ok := m.Block2(); ok {
			num = b.Num
		}
		size := 1 << (szx + 4)
		start := int(num) * size
		end := start + size
		more := end < len(body)
		if !more {
			end = len(body)
		}
		raw, err := coap.BlockValue{Num: num, More: more, SZX: szx}.Encode()
		require.NoError(t, err)
		return ack(t, req, codes.Content, body[start:end], coap.Option{Number: coap.OptionBlock2, Value: raw})
	}

	c := New(ft, WithOutput(&bytes.Buffer{}))
	req := coap.NewMessage(coap.Confirmable, codes.POST, 0x37)
	req.SetPath("/rpc")
	req.Payload = []byte{0xA1}

	resp, got, err := c.Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, body, got)
	require.Len(t, ft.sent, 3)

	b, ok := resp.Block2()
	require.True(t, ok)
	assert.Equal(t, uint32(2), b.Num)
	assert.False(t, b.More)

	for i, data := range ft.sent {
		m, err := coap.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, uint16(0x37+i), m.MessageID)
		assert.Equal(t, []byte{0xA1}, m.Payload)
		assert.Equal(t, "/rpc", m.Path())
	}
	_, hasBlock := req.Block2()
	assert.False(t, hasBlock, "原请求不应被修改")
}

// TestClient_FetchMaxBlocks 测试分块数上限
func TestClient_FetchMaxBlocks(t *testing.T) {
	ft := &fakeTransport{}
	ft.respond = func(req []byte) []byte {
		m, err := coap.Decode(req)
		require.NoError(t, err)
		b, _ := m.Block2()
		raw, err := coap.BlockValue{Num: b.Num, More: true}.Encode()
		require.NoError(t, err)
		return ack(t, req, codes.Content, []byte("x"), coap.Option{Number: coap.OptionBlock2, Value: raw})
	}
	c := New(ft, WithOutput(&bytes.Buffer{}), WithMaxBlocks(3))
	_, _, err := c.Fetch(context.Background(), coap.NewMessage(coap.Confirmable, codes.GET, 1))
	assert.Error(t, err)
	assert.Len(t, ft.sent, 3)
}

// TestClient_OverUDP 通过真实的UDP通道与回环对端交互
func TestClient_OverUDP(t *testing.T) {
	peer := startCoapPeer(t)

	tr, err := udp.Dial("127.0.0.1", peer.Port)
	require.NoError(t, err)
	defer tr.Close()

	var out bytes.Buffer
	c := New(tr, WithOutput(&out), WithTimeout(2*time.Second))
	req := coap.NewMessage(coap.Confirmable, codes.GET, 0x1234)
	resp, err := c.Do(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, codes.Content, resp.Code)
	assert.Equal(t, []byte("pong"), resp.Payload)
}
