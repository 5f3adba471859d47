package sink

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"logpull/internal/config"
	"logpull/internal/publish"
)

func init() {
	publish.RegisterSink("nats", func(_ context.Context, cfg config.Sink) (publish.Sink, error) {
		if cfg.NatsURL == "" {
			return nil, fmt.Errorf("nats sink requires nats_url")
		}
		return NewNatsSink(cfg.NatsURL, cfg.JetStream)
	})
}

// NatsSink implements publish.Sink for NATS. With JetStream enabled every
// publish waits for a stream acknowledgement; otherwise it waits for the
// server to process a flush.
type NatsSink struct {
	nc *nats.Conn
	js jetstream.JetStream

	mu      sync.Mutex
	streams map[string]bool
}

// NewNatsSink connects to url.
func NewNatsSink(url string, useJetStream bool) (*NatsSink, error) {
	nc, err := nats.Connect(url,
		nats.Name("logpull"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	s := &NatsSink{nc: nc, streams: make(map[string]bool)}
	if useJetStream {
		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to create JetStream context: %w", err)
		}
		s.js = js
	}
	return s, nil
}

// Publish sends value to the subject topic with the key as a header.
func (n *NatsSink) Publish(ctx context.Context, topic, key string, value []byte) error {
	msg := &nats.Msg{
		Subject: topic,
		Data:    value,
		Header:  nats.Header{"key": []string{key}},
	}

	if n.js == nil {
		if err := n.nc.PublishMsg(msg); err != nil {
			return fmt.Errorf("failed to publish to %s: %w", topic, err)
		}
		if err := n.nc.FlushWithContext(ctx); err != nil {
			return fmt.Errorf("failed to flush %s: %w", topic, err)
		}
		return nil
	}

	if err := n.ensureStream(ctx, topic); err != nil {
		return err
	}
	if _, err := n.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

func (n *NatsSink) ensureStream(ctx context.Context, topic string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.streams[topic] {
		return nil
	}

	streamName := sanitizeStreamName(topic)
	_, err := n.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{topic},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("failed to ensure stream %s: %w", streamName, err)
	}
	n.streams[topic] = true
	return nil
}

// Close drains nothing; publishes are already acknowledged.
func (n *NatsSink) Close() error {
	if n.nc != nil {
		n.nc.Close()
	}
	return nil
}

// sanitizeStreamName converts a subject to a valid JetStream stream name.
func sanitizeStreamName(topic string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '/', '\\':
			return '_'
		}
		return r
	}, topic)
}
