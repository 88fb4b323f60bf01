// 负载编解码：CBOR二进制负载，以及YAML/JSON文档的读取与展示
package payload

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/yaml.v3"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	// 相同数据总是得到相同字节（键排序、最短整数编码）
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("初始化CBOR编码模式失败: %v", err))
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("初始化CBOR解码模式失败: %v", err))
	}
}

// EncodeCBOR 把任意值编码为CBOR
func EncodeCBOR(v interface{}) ([]byte, error) {
	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("CBOR编码失败: %w", err)
	}
	return data, nil
}

// DecodeCBOR 把CBOR负载解码为通用值（map/slice/标量）
func DecodeCBOR(data []byte) (interface{}, error) {
	var v interface{}
	if err := decMode.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("CBOR解码失败: %w", err)
	}
	return v, nil
}

// LoadDocument 读取YAML（或JSON）文档
func LoadDocument(r io.Reader) (interface{}, error) {
	var v interface{}
	if err := yaml.NewDecoder(r).Decode(&v); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("文档为空")
		}
		return nil, fmt.Errorf("解析文档失败: %w", err)
	}
	return v, nil
}

// Render 把解码后的负载渲染为YAML文本
func Render(v interface{}) (string, error) {
	out, err := yaml.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("渲染负载失败: %w", err)
	}
	return string(out), nil
}

// RPCRequest 构造一个读取数据点的RPC请求文档
func RPCRequest(cik, alias string, limit int) map[string]interface{} {
	return map[string]interface{}{
		"auth": map[string]interface{}{
			"cik": cik,
		},
		"calls": []interface{}{
			map[string]interface{}{
				"procedure": "read",
				"arguments": []interface{}{
					map[string]interface{}{"alias": alias},
					map[string]interface{}{"limit": limit},
				},
				"id": 1,
			},
		},
	}
}
