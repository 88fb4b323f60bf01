// 公共API类型
package api

import (
	"time"
)

// 远端服务地址
type RemoteConfig struct {
	Host string
	Port int
}

// coapdemo的主要配置
type Config struct {
	Remote     RemoteConfig
	Timeout    time.Duration // 等待响应的超时时间，0表示一直等待
	BufferSize int           // 接收缓冲区大小
	MaxBlocks  int           // Block2分块拉取的最大块数
	LogLevel   string
	LogFile    string
}

// 交互回调
type Callbacks struct {
	OnMessageSent     func(data []byte)
	OnMessageReceived func(data []byte)
	OnError           func(err error)
}

// 运行时统计
type Statistics struct {
	MessagesSent        uint64
	MessagesReceived    uint64
	Exchanges           uint64
	Errors              uint64
	LastExchangeTime    time.Time
	AverageResponseTime time.Duration
}
