package sink

import (
	"context"
	"sync"
)

// MockSink is a mock implementation of publish.Sink for testing.
type MockSink struct {
	Messages   []MockMessage
	PublishErr error
	// FailKeys makes Publish fail for specific keys only.
	FailKeys map[string]error
	Closed   bool
	mu       sync.Mutex
}

// MockMessage represents a published message for testing.
type MockMessage struct {
	Topic string
	Key   string
	Value []byte
}

// Publish records a message for later inspection in tests.
func (m *MockSink) Publish(ctx context.Context, topic, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if m.PublishErr != nil {
		return m.PublishErr
	}
	if err, ok := m.FailKeys[key]; ok {
		return err
	}

	m.Messages = append(m.Messages, MockMessage{
		Topic: topic,
		Key:   key,
		Value: append([]byte(nil), value...),
	})
	return nil
}

// Sent returns a copy of the recorded messages.
func (m *MockSink) Sent() []MockMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockMessage(nil), m.Messages...)
}

// Close marks the sink closed.
func (m *MockSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// Reset clears all recorded messages.
func (m *MockSink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = nil
}
