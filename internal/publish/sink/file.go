package sink

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"logpull/internal/config"
	"logpull/internal/publish"
)

func init() {
	publish.RegisterSink("file", func(_ context.Context, cfg config.Sink) (publish.Sink, error) {
		if cfg.Dir == "" {
			return nil, fmt.Errorf("file sink requires dir")
		}
		return NewFileSink(cfg.Dir)
	})
}

// FileSink appends each message as one JSON line to <dir>/<topic>.jsonl.
// It stands in for a broker on hosts without one.
type FileSink struct {
	dir string
	mu  sync.Mutex
}

type fileRecord struct {
	Time  time.Time       `json:"time"`
	Topic string          `json:"topic"`
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value,omitempty"`
	// Binary payloads are stored base64 encoded.
	Base64 string `json:"base64,omitempty"`
}

// NewFileSink creates dir if needed.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create file sink dir: %w", err)
	}
	return &FileSink{dir: dir}, nil
}

// Path returns the file that receives messages for topic.
func (s *FileSink) Path(topic string) string {
	return filepath.Join(s.dir, filepath.Base(filepath.Clean("/"+topic))+".jsonl")
}

// Publish appends the message and syncs it to disk.
func (s *FileSink) Publish(ctx context.Context, topic, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec := fileRecord{Time: time.Now().UTC(), Topic: topic, Key: key}
	if json.Valid(value) {
		rec.Value = value
	} else {
		rec.Base64 = base64.StdEncoding.EncodeToString(value)
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.Path(topic), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("open file sink: %w", err)
	}
	_, werr := f.Write(line)
	serr := f.Sync()
	cerr := f.Close()
	if err := errors.Join(werr, serr, cerr); err != nil {
		return fmt.Errorf("write file sink: %w", err)
	}
	return nil
}

// Close is a no-op.
func (s *FileSink) Close() error { return nil }
