package service

import (
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/require"
)

type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Error() error                   { return nil }

func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type liveMessage struct {
	topic   string
	payload []byte
}

func (m liveMessage) Duplicate() bool   { return false }
func (m liveMessage) Qos() byte         { return 1 }
func (m liveMessage) Retained() bool    { return false }
func (m liveMessage) Topic() string     { return m.topic }
func (m liveMessage) MessageID() uint16 { return 1 }
func (m liveMessage) Payload() []byte   { return m.payload }
func (m liveMessage) Ack()              {}

// liveClient 总是连接成功的 MQTT 客户端
type liveClient struct {
	mu      sync.Mutex
	handler mqtt.MessageHandler
}

func (c *liveClient) Connect() mqtt.Token { return doneToken{} }

func (c *liveClient) Subscribe(_ string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = cb
	return doneToken{}
}

func (c *liveClient) Unsubscribe(...string) mqtt.Token { return doneToken{} }
func (c *liveClient) Disconnect(uint)                  {}
func (c *liveClient) IsConnected() bool                { return true }

func (c *liveClient) deliver(t *testing.T, topic, payload string) {
	t.Helper()
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	require.NotNil(t, handler)
	handler(nil, liveMessage{topic: topic, payload: []byte(payload)})
}
