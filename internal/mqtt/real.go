package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sweeney/espresso-controller/internal/logic"
)

const (
	defaultClientID       = "espresso-controller"
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second
	defaultBufferSize     = 256
	disconnectQuiesce     = 1000 // milliseconds
)

// Config holds broker connection settings.
type Config struct {
	Broker         string        `yaml:"broker"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	BufferSize     int           `yaml:"buffer_size"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// MessageHandler processes a message received on a subscribed topic.
type MessageHandler func(topic string, payload []byte) error

type subscription struct {
	qos     byte
	handler MessageHandler
}

// RealPublisher publishes to an actual MQTT broker.
//
// While the connection is down, messages are held in a ring buffer and
// replayed in order once the client reconnects.
type RealPublisher struct {
	client paho.Client
	log    Logger

	mu            sync.Mutex
	buf           *ringBuffer
	everConnected bool

	subMu sync.Mutex
	subs  map[string]subscription
}

// NewRealPublisher creates a publisher for the given broker. A broker that is
// unreachable at startup is not fatal: paho keeps retrying in the background
// and publishes are buffered until it succeeds.
func NewRealPublisher(cfg Config, log Logger) (*RealPublisher, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt broker not configured")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = defaultClientID
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if log == nil {
		log = noopLogger{}
	}

	p := &RealPublisher{
		log:  log,
		buf:  newRingBuffer(cfg.BufferSize),
		subs: make(map[string]subscription),
	}

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetMaxReconnectInterval(time.Minute).
		SetBinaryWill(TopicSystem, will, 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn("mqtt connection lost", "error", err)
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		log.Warn("mqtt broker not reachable yet, buffering", "broker", cfg.Broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

func (p *RealPublisher) onConnect(c paho.Client) {
	p.mu.Lock()
	reconnect := p.everConnected
	p.everConnected = true
	pending := p.buf.drainAll()
	p.mu.Unlock()

	p.log.Info("mqtt connected", "reconnect", reconnect, "buffered", len(pending))

	p.restoreSubscriptions(c)

	// Handlers run on paho's goroutine; tokens are not waited on here.
	for _, msg := range pending {
		c.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	}

	if reconnect {
		payload, err := FormatSystemPayload(SystemEvent{
			Timestamp: time.Now(),
			Event:     "RECONNECTED",
		})
		if err == nil {
			c.Publish(TopicSystem, 1, true, payload)
		}
	}
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.len()
}

func (p *RealPublisher) send(topic string, qos byte, retained bool, payload []byte) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		firstDrop := p.buf.push(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		p.mu.Unlock()
		if firstDrop {
			p.log.Warn("mqtt offline buffer full, dropping oldest messages", "topic", topic)
		}
		return nil
	}

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("publish to %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Publish sends a brew event to the MQTT broker.
func (p *RealPublisher) Publish(event logic.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	// QoS 0 (at-most-once), not retained
	return p.send(Topic, 0, false, payload)
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	// QoS 1 (at-least-once) for lifecycle events
	return p.send(TopicSystem, 1, event.Retained, payload)
}

// Subscribe registers handler for topic. The subscription is remembered and
// restored whenever the client reconnects.
func (p *RealPublisher) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if topic == "" {
		return fmt.Errorf("subscribe: empty topic")
	}
	if handler == nil {
		return fmt.Errorf("subscribe %s: nil handler", topic)
	}

	p.subMu.Lock()
	p.subs[topic] = subscription{qos: qos, handler: handler}
	p.subMu.Unlock()

	if !p.client.IsConnectionOpen() {
		// Picked up by onConnect.
		return nil
	}

	token := p.client.Subscribe(topic, qos, p.wrapHandler(handler))
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("subscribe %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

func (p *RealPublisher) restoreSubscriptions(c paho.Client) {
	p.subMu.Lock()
	subs := make(map[string]subscription, len(p.subs))
	for topic, sub := range p.subs {
		subs[topic] = sub
	}
	p.subMu.Unlock()

	for topic, sub := range subs {
		c.Subscribe(topic, sub.qos, p.wrapHandler(sub.handler))
	}
}

// wrapHandler adapts a MessageHandler to paho, logging handler errors and
// recovering from panics so one bad message cannot stop message delivery.
func (p *RealPublisher) wrapHandler(handler MessageHandler) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		defer func() {
			if r := recover(); r != nil {
				p.log.Error("mqtt handler panic", "topic", msg.Topic(), "panic", r)
			}
		}()
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			p.log.Warn("mqtt message rejected", "topic", msg.Topic(), "error", err)
		}
	}
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(disconnectQuiesce)
	return nil
}
