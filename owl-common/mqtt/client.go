package mqtt

import (
	"net/http"
	"time"

	"wisefido-alarm-stats/owl-common/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MessageHandler 消息处理函数类型
type MessageHandler func(topic string, payload []byte) error

// BuildOptions 根据配置构建 paho 客户端选项
// 自动重连由调用方负责（固定间隔重连），这里显式关闭 paho 自带的重连
func BuildOptions(cfg *config.MQTTConfig) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	switch {
	case cfg.Password != "":
		opts.SetPassword(cfg.Password)
	case cfg.Token != "":
		// 未配置密码时，把 token 当作密码（JWT 认证的 broker 常用做法）
		opts.SetPassword(cfg.Token)
	}
	if cfg.Token != "" {
		opts.SetHTTPHeaders(http.Header{
			"Authorization": []string{"Bearer " + cfg.Token},
		})
	}

	keepAlive := cfg.KeepAlive
	if keepAlive <= 0 {
		keepAlive = 30 * time.Second
	}
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}

	opts.SetKeepAlive(keepAlive)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetCleanSession(cfg.CleanSession)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetOrderMatters(true)

	return opts
}

// Wrap 把 MessageHandler 适配为 paho 回调，错误交给 onError 处理（不中断订阅）
func Wrap(handler MessageHandler, onError func(topic string, err error)) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		if err := handler(msg.Topic(), msg.Payload()); err != nil && onError != nil {
			onError(msg.Topic(), err)
		}
	}
}
