package sink

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"logpull/internal/config"
	"logpull/internal/publish"
)

const mqttConnectTimeout = 10 * time.Second

func init() {
	publish.RegisterSink("mqtt", func(ctx context.Context, cfg config.Sink) (publish.Sink, error) {
		return NewMQTTSink(ctx, cfg)
	})
}

// MQTTSink implements publish.Sink for an MQTT 3.1.1 broker. The message
// key is not transmitted; MQTT has no per-message key.
type MQTTSink struct {
	client mqtt.Client
	qos    byte
}

// NewMQTTSink connects to the configured broker.
func NewMQTTSink(ctx context.Context, cfg config.Sink) (*MQTTSink, error) {
	opts, err := mqttOptions(cfg)
	if err != nil {
		return nil, err
	}
	client := mqtt.NewClient(opts)
	if err := waitToken(ctx, client.Connect(), mqttConnectTimeout); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.MQTTBroker, err)
	}
	return &MQTTSink{client: client, qos: cfg.MQTTQoS}, nil
}

func mqttOptions(cfg config.Sink) (*mqtt.ClientOptions, error) {
	if cfg.MQTTBroker == "" {
		return nil, fmt.Errorf("mqtt sink requires mqtt_broker")
	}
	if cfg.MQTTQoS > 2 {
		return nil, fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", cfg.MQTTQoS)
	}
	clientID := cfg.MQTTClientID
	if clientID == "" {
		clientID = "logpull"
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(clientID).
		SetConnectTimeout(mqttConnectTimeout).
		SetAutoReconnect(true).
		SetCleanSession(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	return opts, nil
}

// Publish sends value to topic and waits for the QoS handshake.
func (m *MQTTSink) Publish(ctx context.Context, topic, _ string, value []byte) error {
	if err := waitToken(ctx, m.client.Publish(topic, m.qos, false, value), 0); err != nil {
		return fmt.Errorf("mqtt publish to %s: %w", topic, err)
	}
	return nil
}

// Close disconnects, allowing a short grace period for in-flight work.
func (m *MQTTSink) Close() error {
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
	}
	return nil
}

func waitToken(ctx context.Context, tok mqtt.Token, timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-expired:
		return fmt.Errorf("timed out after %s", timeout)
	}
}
