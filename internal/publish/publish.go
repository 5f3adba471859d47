// Package publish delivers envelopes downstream.
//
// Two delivery paths exist: a message broker (Sink) addressed by topic and
// key, and a document store (Store) addressed by object key. Concrete
// implementations live in the sink and store subpackages and register
// themselves by type name; importing those packages for side effects makes
// the types available to Open.
package publish

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"logpull/internal/config"
)

// Sink publishes messages to a broker.
type Sink interface {
	// Publish sends value under key to topic. A nil error means the broker
	// acknowledged the message.
	Publish(ctx context.Context, topic, key string, value []byte) error
	// Close releases any resources held by the sink.
	Close() error
}

// Store inserts documents into a document store.
type Store interface {
	// Insert writes value at key, replacing any existing document.
	Insert(ctx context.Context, key string, value []byte) error
	Close() error
}

// SinkFactory creates a Sink from configuration.
type SinkFactory func(ctx context.Context, cfg config.Sink) (Sink, error)

// StoreFactory creates a Store from configuration.
type StoreFactory func(ctx context.Context, cfg config.Store) (Store, error)

var (
	factoryMu      sync.RWMutex
	sinkFactories  = make(map[string]SinkFactory)
	storeFactories = make(map[string]StoreFactory)
)

// RegisterSink registers a sink factory for a type.
func RegisterSink(sinkType string, factory SinkFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	sinkFactories[sinkType] = factory
}

// RegisterStore registers a store factory for a type.
func RegisterStore(storeType string, factory StoreFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	storeFactories[storeType] = factory
}

// NewSink creates a sink based on the configuration.
func NewSink(ctx context.Context, cfg config.Sink) (Sink, error) {
	factory, err := sinkFactory(cfg.Type)
	if err != nil {
		return nil, err
	}
	return factory(ctx, cfg)
}

// NewStore creates a store based on the configuration.
func NewStore(ctx context.Context, cfg config.Store) (Store, error) {
	factory, err := storeFactory(cfg.Type)
	if err != nil {
		return nil, err
	}
	return factory(ctx, cfg)
}

func sinkFactory(sinkType string) (SinkFactory, error) {
	factoryMu.RLock()
	factory, exists := sinkFactories[sinkType]
	factoryMu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("unknown sink type: %q (known: %v)", sinkType, SinkTypes())
	}
	return factory, nil
}

func storeFactory(storeType string) (StoreFactory, error) {
	factoryMu.RLock()
	factory, exists := storeFactories[storeType]
	factoryMu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("unknown store type: %q (known: %v)", storeType, StoreTypes())
	}
	return factory, nil
}

// SinkTypes lists registered sink types.
func SinkTypes() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	return sortedKeys(sinkFactories)
}

// StoreTypes lists registered store types.
func StoreTypes() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	return sortedKeys(storeFactories)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
