// coapdemo的命令行接口：构造CoAP请求、编码发送并展示收发的消息
package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/junbin-yang/coapdemo/api"
	"github.com/junbin-yang/coapdemo/pkg/client"
	"github.com/junbin-yang/coapdemo/pkg/coap"
	"github.com/junbin-yang/coapdemo/pkg/payload"
	"github.com/junbin-yang/coapdemo/pkg/transport/udp"
	log "github.com/junbin-yang/coapdemo/pkg/utils/logger"
)

var (
	// 版本信息（编译时可通过参数注入）
	Version   = "dev"     // 版本号
	BuildTime = "unknown" // 构建时间

	// 配置相关
	cfgFile string     // 配置文件路径
	config  api.Config // 运行配置

	// 日志实例
	logger *log.Logger
)

// rootCmd 表示基础命令
var rootCmd = &cobra.Command{
	Use:   "coapdemo",
	Short: "coapdemo: 简化版CoAP请求/响应演示客户端",
	Long: `coapdemo把请求编码为CoAP风格的数据报，通过UDP发送给远端服务，
并把发送与接收的消息以可读文本展示出来。它不是完整的CoAP实现：
没有重传、去重与拥塞控制。`,
	SilenceUsage: true,
}

// versionCmd 打印版本信息
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "打印版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("coapdemo %s\n", Version)
		fmt.Printf("构建时间: %s\n", BuildTime)
	},
}

// sendCmd 发送一个请求并展示响应
var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "发送请求并等待响应",
	RunE:  runSend,
}

// encodeCmd 只编码不发送
var encodeCmd = &cobra.Command{
	Use:   "encode",
	Short: "编码请求并打印数据报（不发送）",
	RunE:  runEncode,
}

// decodeCmd 解码十六进制数据报
var decodeCmd = &cobra.Command{
	Use:   "decode <hex>",
	Short: "解码十六进制数据报并展示",
	Args:  cobra.ExactArgs(1),
	RunE:  runDecode,
}

// rpcCmd 以CBOR负载调用RPC代理（POST /rpc），按Block2拉取完整响应
var rpcCmd = &cobra.Command{
	Use:   "rpc",
	Short: "调用RPC接口（CBOR负载，分块响应）",
	RunE:  runRPC,
}

func init() {
	// 在命令执行前初始化配置
	cobra.OnInitialize(initConfig)

	// 全局标志（所有命令共享）
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件路径（默认是./coapdemo.yaml）")
	rootCmd.PersistentFlags().String("host", "127.0.0.1", "远端主机")
	rootCmd.PersistentFlags().Int("port", udp.DefaultPort, "远端端口")
	rootCmd.PersistentFlags().Duration("timeout", 5*time.Second, "等待响应的超时时间（0表示一直等待）")
	rootCmd.PersistentFlags().Int("buffer-size", udp.DefaultBufferSize, "接收缓冲区大小")
	rootCmd.PersistentFlags().Int("max-blocks", client.DefaultMaxBlocks, "Block2分块拉取的最大块数")
	rootCmd.PersistentFlags().String("log-level", "info", "日志级别（debug, info, warning, error）")
	rootCmd.PersistentFlags().String("log-file", "", "日志文件路径（为空则输出到标准错误）")

	// 将命令行标志绑定到viper
	for _, key := range []string{"host", "port", "timeout", "buffer-size", "max-blocks", "log-level", "log-file"} {
		viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(key))
	}

	// 请求相关标志
	for _, cmd := range []*cobra.Command{sendCmd, encodeCmd} {
		addRequestFlags(cmd)
	}
	sendCmd.Flags().Bool("follow-blocks", true, "响应带Block2时继续拉取后续分块")

	rpcCmd.Flags().String("cik", "", "设备CIK")
	rpcCmd.Flags().String("alias", "", "数据点别名")
	rpcCmd.Flags().Int("limit", 1, "读取条数")
	rpcCmd.Flags().String("file", "", "RPC请求文档（YAML/JSON），指定后忽略--cik/--alias")
	rpcCmd.Flags().Int("mid", -1, "消息ID（-1表示自动生成）")

	// 添加子命令到根命令
	rootCmd.AddCommand(versionCmd, sendCmd, encodeCmd, decodeCmd, rpcCmd)
}

// addRequestFlags 注册构造请求所需的标志
func addRequestFlags(cmd *cobra.Command) {
	cmd.Flags().String("method", "GET", "请求方法（GET, POST, PUT, DELETE）")
	cmd.Flags().String("type", "CON", "消息类型（CON, NON）")
	cmd.Flags().Int("mid", -1, "消息ID（-1表示自动生成）")
	cmd.Flags().String("token", "", "令牌（十六进制，最多8字节）")
	cmd.Flags().String("path", "/", "资源路径，如/1a/temperature")
	cmd.Flags().StringSlice("query", nil, "Uri-Query（可重复）")
	cmd.Flags().StringSlice("query-hex", nil, "Uri-Query原始字节（十六进制，可重复）")
	cmd.Flags().Int("content-format", -1, "Content-Format（-1表示不设置）")
	cmd.Flags().Int("accept", -1, "Accept（-1表示不设置）")
	cmd.Flags().String("payload", "", "文本负载")
	cmd.Flags().String("payload-hex", "", "二进制负载（十六进制）")
	cmd.Flags().String("cbor-file", "", "把YAML/JSON文档编码为CBOR作为负载（Content-Format设为CBOR）")
}

// initConfig 初始化配置：读取配置文件、环境变量，并初始化日志
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("coapdemo")
		viper.SetConfigType("yaml")
	}

	// 环境变量前缀为COAPDEMO（例如COAPDEMO_LOG_LEVEL对应log-level）
	viper.SetEnvPrefix("COAPDEMO")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	configErr := viper.ReadInConfig()
	loadConfig()

	l, err := log.NewWithConfig(log.Config{Level: config.LogLevel, File: config.LogFile}, log.AddCaller())
	if err != nil {
		fmt.Fprintf(os.Stderr, "日志初始化失败，使用默认配置: %v\n", err)
		l = log.Default()
	}
	log.ReplaceDefault(l)
	logger = l

	if configErr == nil {
		logger.Debug("使用配置文件", log.String("path", viper.ConfigFileUsed()))
	}
}

// loadConfig 从viper加载配置到config结构体
func loadConfig() {
	config = api.Config{
		Remote: api.RemoteConfig{
			Host: viper.GetString("host"),
			Port: viper.GetInt("port"),
		},
		Timeout:    viper.GetDuration("timeout"),
		BufferSize: viper.GetInt("buffer-size"),
		MaxBlocks:  viper.GetInt("max-blocks"),
		LogLevel:   viper.GetString("log-level"),
		LogFile:    viper.GetString("log-file"),
	}
}

// buildRequest 根据命令行标志构造请求
func buildRequest(cmd *cobra.Command) (*coap.Message, error) {
	flags := cmd.Flags()
	methodName, _ := flags.GetString("method")
	typeName, _ := flags.GetString("type")
	mid, _ := flags.GetInt("mid")
	tokenHex, _ := flags.GetString("token")
	path, _ := flags.GetString("path")
	queries, _ := flags.GetStringSlice("query")
	queryHex, _ := flags.GetStringSlice("query-hex")
	contentFormat, _ := flags.GetInt("content-format")
	accept, _ := flags.GetInt("accept")
	text, _ := flags.GetString("payload")
	payloadHex, _ := flags.GetString("payload-hex")
	cborFile, _ := flags.GetString("cbor-file")

	method, err := coap.ParseMethod(methodName)
	if err != nil {
		return nil, err
	}
	typ, ok := coap.ParseType(strings.ToUpper(typeName))
	if !ok {
		return nil, errors.Errorf("无效的消息类型: %q", typeName)
	}
	token, err := hex.DecodeString(tokenHex)
	if err != nil {
		return nil, errors.Wrap(err, "无效的令牌")
	}

	req := &coap.Request{
		Type:      typ,
		Method:    method,
		MessageID: messageID(mid),
		Token:     token,
		Path:      path,
		Query:     queries,
	}
	for _, q := range queryHex {
		raw, err := hex.DecodeString(q)
		if err != nil {
			return nil, errors.Wrapf(err, "无效的Uri-Query: %q", q)
		}
		req.QueryRaw = append(req.QueryRaw, raw)
	}

	switch {
	case cborFile != "":
		req.Payload, err = loadCBOR(cborFile)
		if err != nil {
			return nil, err
		}
		cf := message.AppCBOR
		req.ContentFormat = &cf
	case payloadHex != "":
		req.Payload, err = hex.DecodeString(payloadHex)
		if err != nil {
			return nil, errors.Wrap(err, "无效的负载")
		}
	default:
		req.Payload = []byte(text)
	}
	if contentFormat >= 0 {
		cf := message.MediaType(contentFormat)
		req.ContentFormat = &cf
	}
	if accept >= 0 {
		a := message.MediaType(accept)
		req.Accept = &a
	}
	return req.Message()
}

// messageID 未指定时取当前时间的纳秒时间戳低16位
func messageID(mid int) uint16 {
	if mid >= 0 {
		return uint16(mid)
	}
	return uint16(time.Now().UnixNano() % 65536)
}

func loadCBOR(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "打开负载文档失败")
	}
	defer f.Close()
	doc, err := payload.LoadDocument(f)
	if err != nil {
		return nil, err
	}
	return payload.EncodeCBOR(doc)
}

// newClient 建立UDP通道并创建客户端
func newClient() (*client.Client, *udp.Transport, error) {
	tr, err := udp.Dial(config.Remote.Host, config.Remote.Port,
		udp.WithBufferSize(config.BufferSize),
		udp.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	c := client.New(tr,
		client.WithOutput(os.Stdout),
		client.WithLogger(logger),
		client.WithTimeout(config.Timeout),
		client.WithMaxBlocks(config.MaxBlocks))
	return c, tr, nil
}

// runSend 执行send命令
func runSend(cmd *cobra.Command, args []string) error {
	req, err := buildRequest(cmd)
	if err != nil {
		return err
	}
	followBlocks, _ := cmd.Flags().GetBool("follow-blocks")

	c, tr, err := newClient()
	if err != nil {
		return err
	}
	defer tr.Close()

	logger.Info("发送请求",
		log.String("remote", tr.RemoteAddr().String()),
		log.String("code", coap.CodeString(req.Code)),
		log.String("path", req.Path()))

	var resp *coap.Message
	var body []byte
	if followBlocks {
		resp, body, err = c.Fetch(context.Background(), req)
	} else {
		resp, err = c.Do(context.Background(), req)
		if resp != nil {
			body = resp.Payload
		}
	}
	if err != nil {
		return err
	}
	printBody(resp, body)
	return nil
}

// runEncode 执行encode命令
func runEncode(cmd *cobra.Command, args []string) error {
	req, err := buildRequest(cmd)
	if err != nil {
		return err
	}
	data, err := coap.Encode(req)
	if err != nil {
		return err
	}
	fmt.Printf("Sending Message: %s\n", coap.FormatHex(data))
	fmt.Print(coap.Format(req, coap.Outgoing))
	return nil
}

// runDecode 执行decode命令
func runDecode(cmd *cobra.Command, args []string) error {
	data, err := hex.DecodeString(strings.Join(strings.Fields(args[0]), ""))
	if err != nil {
		return errors.Wrap(err, "无效的十六进制数据")
	}
	msg, err := coap.Decode(data)
	if err != nil {
		return err
	}
	fmt.Printf("Received Message: %s\n", coap.FormatHex(data))
	fmt.Print(coap.Format(msg, coap.Incoming))
	printBody(msg, msg.Payload)
	return nil
}

// runRPC 执行rpc命令
func runRPC(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	cik, _ := flags.GetString("cik")
	alias, _ := flags.GetString("alias")
	limit, _ := flags.GetInt("limit")
	file, _ := flags.GetString("file")
	mid, _ := flags.GetInt("mid")

	var body []byte
	var err error
	if file != "" {
		body, err = loadCBOR(file)
	} else {
		if cik == "" || alias == "" {
			return errors.New("需要--cik与--alias，或使用--file")
		}
		body, err = payload.EncodeCBOR(payload.RPCRequest(cik, alias, limit))
	}
	if err != nil {
		return err
	}

	cf := message.AppCBOR
	req, err := (&coap.Request{
		Type:          coap.Confirmable,
		Method:        codes.POST,
		MessageID:     messageID(mid),
		Path:          "/rpc",
		ContentFormat: &cf,
		Payload:       body,
	}).Message()
	if err != nil {
		return err
	}

	c, tr, err := newClient()
	if err != nil {
		return err
	}
	defer tr.Close()

	resp, data, err := c.Fetch(context.Background(), req)
	if err != nil {
		return err
	}
	if !coap.IsSuccess(resp.Code) {
		return errors.Errorf("RPC调用失败: %s", coap.CodeString(resp.Code))
	}
	v, err := payload.DecodeCBOR(data)
	if err != nil {
		return err
	}
	out, err := payload.Render(v)
	if err != nil {
		return err
	}
	fmt.Println("RPC Response:")
	fmt.Print(out)
	return nil
}

// printBody 展示完整负载；CBOR负载解码后以YAML展示
func printBody(msg *coap.Message, body []byte) {
	if len(body) == 0 {
		return
	}
	if cf, ok := msg.ContentFormat(); ok && cf == message.AppCBOR {
		if v, err := payload.DecodeCBOR(body); err == nil {
			if out, err := payload.Render(v); err == nil {
				fmt.Println("Decoded:")
				fmt.Print(out)
				return
			}
		}
		logger.Warn("CBOR负载解码失败，按原样展示")
	}
	if bytes.IndexFunc(body, func(r rune) bool { return r < 0x20 && r != '\n' && r != '\t' }) >= 0 {
		fmt.Printf("Hex: %s\n", hex.EncodeToString(body))
		return
	}
	fmt.Printf("Body: %s\n", body)
}

// main 函数：执行root命令
func main() {
	defer func() {
		if logger != nil {
			logger.Sync()
		}
	}()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

// ./coapdemo send --host coap.example.com --method POST --path /1a/temperature --query-hex 0123abcd --payload 37

// ./coapdemo rpc --host coap.example.com --cik 0123abcd --alias temperature --log-level debug

// ./coapdemo decode "40 01 12 34"
