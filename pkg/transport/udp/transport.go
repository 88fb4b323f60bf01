// 提供单个UDP套接字上的数据报收发（不做重传、去重与拥塞控制）
package udp

import (
	"context"
	"net"
	"strconv"
	"time"

	coapNet "github.com/plgd-dev/go-coap/v3/net"
	"github.com/pkg/errors"

	"github.com/junbin-yang/coapdemo/pkg/utils/logger"
)

const (
	DefaultPort       = 5683 // CoAP默认端口
	DefaultBufferSize = 2048 // 单个数据报的接收缓冲区大小
)

// Transport 绑定到一个远端地址的数据报通道
type Transport struct {
	conn    *coapNet.UDPConn // go-coap封装的UDP连接
	raw     *net.UDPConn     // 底层套接字（用于设置读超时）
	remote  *net.UDPAddr     // 远端地址
	bufSize int              // 接收缓冲区大小
	log     *logger.Logger   // 日志实例
}

// Option 配置Transport的可选参数
type Option func(*Transport)

// WithBufferSize 设置接收缓冲区大小，超出部分的数据报内容会被截断
func WithBufferSize(n int) Option {
	return func(t *Transport) {
		if n > 0 {
			t.bufSize = n
		}
	}
}

// WithLogger 设置日志实例
func WithLogger(l *logger.Logger) Option {
	return func(t *Transport) {
		if l != nil {
			t.log = l
		}
	}
}

// Dial 解析远端地址并打开一个未连接的本地UDP套接字
func Dial(host string, port int, opts ...Option) (*Transport, error) {
	if port <= 0 || port > 0xFFFF {
		return nil, errors.Errorf("无效的端口: %d", port)
	}
	remote, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, errors.Wrapf(err, "解析远端地址%s失败", host)
	}

	network := "udp6"
	if remote.IP.To4() != nil {
		network = "udp4"
	}
	raw, err := net.ListenUDP(network, nil)
	if err != nil {
		return nil, errors.Wrap(err, "打开UDP套接字失败")
	}

	t := &Transport{
		conn:    coapNet.NewUDPConn(network, raw),
		raw:     raw,
		remote:  remote,
		bufSize: DefaultBufferSize,
		log:     logger.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}

	t.log.Debug("UDP通道已打开",
		logger.Stringer("local", raw.LocalAddr()),
		logger.Stringer("remote", remote))
	return t, nil
}

// RemoteAddr 返回远端地址
func (t *Transport) RemoteAddr() *net.UDPAddr {
	return t.remote
}

// LocalAddr 返回本地套接字地址
func (t *Transport) LocalAddr() net.Addr {
	return t.raw.LocalAddr()
}

// Send 向远端发送一个数据报
func (t *Transport) Send(ctx context.Context, data []byte) error {
	if err := t.conn.WriteWithContext(ctx, t.remote, data); err != nil {
		return errors.Wrapf(err, "发送数据报到%s失败", t.remote)
	}
	t.log.Debug("已发送数据报", logger.Stringer("to", t.remote), logger.Int("size", len(data)))
	return nil
}

// Receive 阻塞等待远端的下一个数据报
// ctx带截止时间时作为读超时，否则一直等待；来自其他地址的数据报被丢弃
func (t *Transport) Receive(ctx context.Context) ([]byte, error) {
	deadline, _ := ctx.Deadline()
	if err := t.raw.SetReadDeadline(deadline); err != nil {
		return nil, errors.Wrap(err, "设置读超时失败")
	}
	defer t.raw.SetReadDeadline(time.Time{})

	buf := make([]byte, t.bufSize)
	for {
		n, from, err := t.conn.ReadWithContext(ctx, buf)
		if err != nil {
			return nil, errors.Wrapf(err, "从%s接收数据报失败", t.remote)
		}
		if from != nil && !(from.IP.Equal(t.remote.IP) && from.Port == t.remote.Port) {
			t.log.Warn("丢弃来自未知地址的数据报", logger.Stringer("from", from), logger.Int("size", n))
			continue
		}
		t.log.Debug("已接收数据报", logger.Stringer("from", t.remote), logger.Int("size", n))
		return append([]byte(nil), buf[:n]...), nil
	}
}

// Close 关闭套接字
func (t *Transport) Close() error {
	return t.conn.Close()
}
