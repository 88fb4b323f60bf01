package client

import (
	"net"
	"testing"

	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/stretchr/testify/require"

	"github.com/junbin-yang/coapdemo/pkg/coap"
)

// startCoapPeer 在回环地址上启动一个简单对端：对每个请求回复ACK 2.05 "pong"
func startCoapPeer(t *testing.T) *net.UDPAddr {
	t.Helper()
	pc, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { pc.Close() })

	go func() {
		buf := make([]byte, 2048)
		for {
			n, from, err := pc.ReadFromUDP(buf)
			if err != nil {
				return
			}
			req, err := coap.Decode(buf[:n])
			if err != nil {
				continue
			}
			resp := coap.NewMessage(coap.Acknowledgement, codes.Content, req.MessageID)
			resp.Token = req.Token
			resp.Payload = []byte("pong")
			data, err := coap.Encode(resp)
			if err != nil {
				continue
			}
			pc.WriteToUDP(data, from)
		}
	}()
	return pc.LocalAddr().(*net.UDPAddr)
}
