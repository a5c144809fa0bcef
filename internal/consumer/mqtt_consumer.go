package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"wisefido-alarm-stats/internal/models"
	"wisefido-alarm-stats/internal/normalizer"
	"wisefido-alarm-stats/owl-common/config"
	mqttcommon "wisefido-alarm-stats/owl-common/mqtt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultTopic          = "/topic/alarms"

	disconnectQuiesceMs = 250
	unsubscribeTimeout  = time.Second
)

// State 连接状态
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Client paho 客户端中用到的部分（测试中可替换）
type Client interface {
	Connect() mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
}

// ClientFactory 根据选项创建客户端
type ClientFactory func(opts *mqtt.ClientOptions) Client

// DefaultClientFactory 使用 paho mqtt.NewClient
func DefaultClientFactory(opts *mqtt.ClientOptions) Client {
	return mqtt.NewClient(opts)
}

// EventSink 规范化后的事件去向（服务事件循环）
type EventSink interface {
	Push(event models.AlarmEvent)
}

// Recorder 连接/消息统计钩子
type Recorder interface {
	ConnectionState(state string)
	MessageReceived(topic string)
	MessageDropped(reason string)
}

type noopRecorder struct{}

func (noopRecorder) ConnectionState(string) {}
func (noopRecorder) MessageReceived(string) {}
func (noopRecorder) MessageDropped(string)  {}

// Options 消费者配置
type Options struct {
	MQTT           config.MQTTConfig
	Topic          string
	ReconnectDelay time.Duration
	Factory        ClientFactory
	Normalizer     *normalizer.Normalizer
	Recorder       Recorder
}

// MQTTConsumer 实时报警通道
// 状态机：Disconnected -> Connecting -> Connected -> Disconnected
//   - 同一时刻只有一个连接，重复 Connect 为空操作
//   - 连接失败或断开后按固定间隔重连（不使用 paho 自带重连）
//   - 每次连接成功后重新订阅
type MQTTConsumer struct {
	opts   Options
	sink   EventSink
	logger *zap.Logger

	mu         sync.Mutex
	state      State
	client     Client
	generation uint64
	timer      *time.Timer
	stopped    bool
	// lostGen 连接建立过程中（Connecting）收到断线回调的代次
	lostGen uint64
}

// NewMQTTConsumer 创建 MQTT 消费者
func NewMQTTConsumer(opts Options, sink EventSink, logger *zap.Logger) *MQTTConsumer {
	if opts.Topic == "" {
		opts.Topic = DefaultTopic
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.Factory == nil {
		opts.Factory = DefaultClientFactory
	}
	if opts.Normalizer == nil {
		opts.Normalizer = normalizer.New()
	}
	if opts.Recorder == nil {
		opts.Recorder = noopRecorder{}
	}
	if opts.MQTT.ClientID == "" {
		// 多实例同时连接 broker 时 client id 不能重复
		opts.MQTT.ClientID = "wisefido-alarm-stats-" + uuid.NewString()[:8]
	}
	return &MQTTConsumer{
		opts:   opts,
		sink:   sink,
		logger: logger,
		state:  StateDisconnected,
	}
}

// State 当前连接状态
func (c *MQTTConsumer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect 建立连接并订阅；已连接或连接中时为空操作
// 失败不返回错误，只记录日志并安排重连
func (c *MQTTConsumer) Connect(ctx context.Context) {
	c.mu.Lock()
	c.stopped = false
	gen, ok := c.beginLocked()
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("MQTT connect ignored, connection already active",
			zap.String("state", c.State().String()),
		)
		return
	}
	c.dial(ctx, gen)
}

// Disconnect 取消重连定时器并断开连接；之后的断线回调被忽略
func (c *MQTTConsumer) Disconnect() {
	c.mu.Lock()
	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	client := c.client
	c.client = nil
	c.generation++
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	if client != nil {
		client.Unsubscribe(c.opts.Topic).WaitTimeout(unsubscribeTimeout)
		client.Disconnect(disconnectQuiesceMs)
	}
	c.logger.Info("MQTT consumer stopped", zap.String("topic", c.opts.Topic))
}

func (c *MQTTConsumer) beginLocked() (uint64, bool) {
	if c.state != StateDisconnected {
		return 0, false
	}
	c.generation++
	c.setStateLocked(StateConnecting)
	return c.generation, true
}

func (c *MQTTConsumer) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	c.opts.Recorder.ConnectionState(s.String())
}

func (c *MQTTConsumer) dial(ctx context.Context, gen uint64) {
	options := mqttcommon.BuildOptions(&c.opts.MQTT)
	options.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.handleConnectionLost(gen, err)
	})
	client := c.opts.Factory(options)

	c.logger.Info("Connecting to MQTT broker",
		zap.String("broker", c.opts.MQTT.Broker),
		zap.String("client_id", c.opts.MQTT.ClientID),
	)

	if err := waitToken(ctx, client.Connect(), options.ConnectTimeout); err != nil {
		c.fail(gen, fmt.Errorf("failed to connect: %w", err))
		return
	}

	handler := mqttcommon.Wrap(c.handleMessage, c.handleMessageError)
	if err := waitToken(ctx, client.Subscribe(c.opts.Topic, c.opts.MQTT.QoS, handler), options.ConnectTimeout); err != nil {
		client.Disconnect(disconnectQuiesceMs)
		c.fail(gen, fmt.Errorf("failed to subscribe to %s: %w", c.opts.Topic, err))
		return
	}

	c.mu.Lock()
	if c.stopped || gen != c.generation {
		c.mu.Unlock()
		client.Disconnect(disconnectQuiesceMs)
		return
	}
	if c.lostGen == gen {
		c.mu.Unlock()
		client.Disconnect(disconnectQuiesceMs)
		c.fail(gen, errors.New("connection lost while subscribing"))
		return
	}
	c.client = client
	c.setStateLocked(StateConnected)
	c.mu.Unlock()

	c.logger.Info("MQTT consumer started",
		zap.String("topic", c.opts.Topic),
		zap.Uint8("qos", c.opts.MQTT.QoS),
	)
}

func (c *MQTTConsumer) fail(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || gen != c.generation {
		return
	}
	c.setStateLocked(StateDisconnected)
	c.scheduleReconnectLocked()
	c.logger.Warn("MQTT connection attempt failed",
		zap.String("broker", c.opts.MQTT.Broker),
		zap.Duration("retry_in", c.opts.ReconnectDelay),
		zap.Error(err),
	)
}

func (c *MQTTConsumer) handleConnectionLost(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || gen != c.generation {
		return
	}
	if c.state == StateConnecting {
		// 由 dial 在完成订阅后处理
		c.lostGen = gen
		return
	}
	if c.state != StateConnected {
		return
	}
	c.client = nil
	c.setStateLocked(StateDisconnected)
	c.scheduleReconnectLocked()
	c.logger.Warn("MQTT connection lost",
		zap.String("broker", c.opts.MQTT.Broker),
		zap.Duration("retry_in", c.opts.ReconnectDelay),
		zap.Error(err),
	)
}

func (c *MQTTConsumer) scheduleReconnectLocked() {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.opts.ReconnectDelay, c.reconnect)
}

func (c *MQTTConsumer) reconnect() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	gen, ok := c.beginLocked()
	c.mu.Unlock()

	if ok {
		c.dial(context.Background(), gen)
	}
}

// handleMessage 过滤 -> 规范化 -> 写入事件循环
func (c *MQTTConsumer) handleMessage(topic string, payload []byte) error {
	c.opts.Recorder.MessageReceived(topic)

	raw, err := normalizer.ParseRaw(payload)
	if err != nil {
		c.opts.Recorder.MessageDropped("malformed")
		return fmt.Errorf("failed to unmarshal alarm payload: %w", err)
	}
	if !normalizer.IsAlarmLike(raw, topic) {
		c.opts.Recorder.MessageDropped("not_alarm")
		c.logger.Debug("Ignoring non-alarm message", zap.String("topic", topic))
		return nil
	}

	event := c.opts.Normalizer.NormalizeRaw(raw, topic)
	c.sink.Push(event)
	return nil
}

func (c *MQTTConsumer) handleMessageError(topic string, err error) {
	c.logger.Warn("Dropping malformed MQTT message",
		zap.String("topic", topic),
		zap.Error(err),
	)
}

var errTokenTimeout = errors.New("timed out waiting for broker")

func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errTokenTimeout
	}
}
