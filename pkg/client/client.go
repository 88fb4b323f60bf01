// CoAP演示客户端：编码→发送→阻塞接收→解码→格式化，一次只进行一个交互
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/junbin-yang/coapdemo/api"
	"github.com/junbin-yang/coapdemo/pkg/coap"
	"github.com/junbin-yang/coapdemo/pkg/utils/logger"
)

const DefaultMaxBlocks = 1024 // Block2拉取的默认最大块数

// Transport 数据报通道（发送原始字节、接收原始字节）
type Transport interface {
	Send(ctx context.Context, data []byte) error
	Receive(ctx context.Context) ([]byte, error)
}

// Client 表示一个CoAP演示客户端实例
type Client struct {
	transport Transport
	encoder   *coap.Encoder
	out       io.Writer      // 格式化文本输出
	log       *logger.Logger // 日志实例
	timeout   time.Duration  // 单次交互超时，0表示一直等待
	maxBlocks int
	callbacks api.Callbacks
	stats     api.Statistics
}

// Option 配置Client的可选参数
type Option func(*Client)

// WithOutput 设置格式化文本的输出位置
func WithOutput(w io.Writer) Option {
	return func(c *Client) { c.out = w }
}

// WithLogger 设置日志实例
func WithLogger(l *logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithTimeout 设置单次交互的超时时间
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithMaxBlocks 设置Block2拉取的最大块数
func WithMaxBlocks(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBlocks = n
		}
	}
}

// WithCallbacks 注册交互回调
func WithCallbacks(cb api.Callbacks) Option {
	return func(c *Client) { c.callbacks = cb }
}

// New 创建客户端
func New(t Transport, opts ...Option) *Client {
	c := &Client{
		transport: t,
		encoder:   coap.NewEncoder(),
		out:       os.Stdout,
		log:       logger.Default(),
		maxBlocks: DefaultMaxBlocks,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do 完成一次请求/响应交互
// 解码失败直接返回给调用方，不重试
func (c *Client) Do(ctx context.Context, req *coap.Message) (*coap.Message, error) {
	data, err := c.encoder.Encode(req)
	if err != nil {
		return nil, c.fail(errors.Wrap(err, "编码请求失败"))
	}

	c.log.Debug("发送消息",
		logger.Uint16("mid", req.MessageID),
		logger.String("hex", coap.FormatHex(data)))
	fmt.Fprint(c.out, coap.Format(req, coap.Outgoing))

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	if err := c.transport.Send(ctx, data); err != nil {
		return nil, c.fail(errors.Wrap(err, "发送请求失败"))
	}
	c.stats.MessagesSent++
	if c.callbacks.OnMessageSent != nil {
		c.callbacks.OnMessageSent(data)
	}

	raw, err := c.transport.Receive(ctx)
	if err != nil {
		return nil, c.fail(errors.Wrap(err, "接收响应失败"))
	}
	elapsed := time.Since(start)
	c.stats.MessagesReceived++
	if c.callbacks.OnMessageReceived != nil {
		c.callbacks.OnMessageReceived(raw)
	}

	c.log.Debug("收到消息",
		logger.String("hex", coap.FormatHex(raw)),
		logger.Duration("rtt", elapsed))

	resp, err := c.encoder.Decode(raw)
	if err != nil {
		return nil, c.fail(errors.Wrap(err, "解码响应失败"))
	}
	fmt.Fprint(c.out, coap.Format(resp, coap.Incoming))

	if !bytes.Equal(resp.Token, req.Token) {
		c.log.Warn("响应令牌与请求不一致",
			logger.String("request", coap.FormatHex(req.Token)),
			logger.String("response", coap.FormatHex(resp.Token)))
	}
	c.record(elapsed)
	return resp, nil
}

// Fetch 发送请求，若响应带有more=1的Block2则依次请求后续块，返回最后一个响应与拼接后的负载
// 后续请求沿用原请求的选项与负载，仅替换Block2并递增消息ID
func (c *Client) Fetch(ctx context.Context, req *coap.Message) (*coap.Message, []byte, error) {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	body := append([]byte(nil), resp.Payload...)

	next := req
	for blocks := 1; ; blocks++ {
		b, ok := resp.Block2()
		if !ok || !b.More {
			return resp, body, nil
		}
		if blocks >= c.maxBlocks {
			return nil, nil, c.fail(errors.Errorf("分块数超过上限%d", c.maxBlocks))
		}

		want := coap.BlockValue{Num: b.Num + 1, SZX: b.SZX}
		next = next.Clone()
		next.MessageID++
		if err := next.SetBlock2(want); err != nil {
			return nil, nil, c.fail(errors.Wrap(err, "设置Block2失败"))
		}
		c.log.Debug("请求下一个分块", logger.Stringer("block2", want))

		resp, err = c.Do(ctx, next)
		if err != nil {
			return nil, nil, err
		}
		if got, ok := resp.Block2(); ok && got.Num != want.Num {
			return nil, nil, c.fail(errors.Errorf("分块号不匹配: 请求%d，收到%d", want.Num, got.Num))
		}
		body = append(body, resp.Payload...)
	}
}

// Statistics 返回统计信息
func (c *Client) Statistics() api.Statistics {
	return c.stats
}

func (c *Client) record(elapsed time.Duration) {
	n := c.stats.Exchanges
	c.stats.AverageResponseTime = (c.stats.AverageResponseTime*time.Duration(n) + elapsed) / time.Duration(n+1)
	c.stats.Exchanges++
	c.stats.LastExchangeTime = time.Now()
}

func (c *Client) fail(err error) error {
	c.stats.Errors++
	c.log.Error("交互失败", logger.Err(err))
	if c.callbacks.OnError != nil {
		c.callbacks.OnError(err)
	}
	return err
}
