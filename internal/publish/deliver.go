package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"logpull/internal/config"
	"logpull/internal/envelope"
	"logpull/internal/logging"
)

// DefaultTimeout bounds one delivery when none is configured.
const DefaultTimeout = 30 * time.Second

// Deliverer delivers pull envelopes. A nil error means the envelope was
// accepted downstream.
type Deliverer interface {
	Deliver(ctx context.Context, env *envelope.Envelope) error
}

// FlatDeliverer delivers check payloads.
type FlatDeliverer interface {
	DeliverFlat(ctx context.Context, f *envelope.Flat) error
}

// Options configures a Publisher.
type Options struct {
	Topic      string
	CheckTopic string
	Encoding   envelope.Encoding
	// Timeout bounds each delivery. Zero means DefaultTimeout; negative
	// disables the bound.
	Timeout time.Duration
	// Rate limits deliveries per second. Zero disables.
	Rate   float64
	Burst  int
	Logger *slog.Logger
}

// Publisher encodes payloads and hands them to a Sink or a Store.
// It is safe for concurrent use.
type Publisher struct {
	mu    sync.Mutex
	sink  Sink
	store Store
	// dial opens the sink or store on first delivery. Nil when the
	// Publisher was built around an open one.
	dial func(ctx context.Context) error

	opts    Options
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewSinkPublisher publishes through s.
func NewSinkPublisher(s Sink, opts Options) *Publisher {
	return newPublisher(s, nil, opts)
}

// NewStorePublisher inserts into s.
func NewStorePublisher(s Store, opts Options) *Publisher {
	return newPublisher(nil, s, opts)
}

func newPublisher(sink Sink, store Store, opts Options) *Publisher {
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Encoding == "" {
		opts.Encoding = envelope.JSON
	}
	if opts.CheckTopic == "" {
		opts.CheckTopic = opts.Topic
	}
	p := &Publisher{
		sink:   sink,
		store:  store,
		opts:   opts,
		logger: logging.Default(opts.Logger).With("component", "publish"),
	}
	if opts.Rate > 0 {
		burst := max(opts.Burst, 1)
		p.limiter = rate.NewLimiter(rate.Limit(opts.Rate), burst)
	}
	return p
}

// Open builds a Publisher from configuration using the registered sink and
// store types. Unknown types and encodings fail here with config.ErrInvalid;
// the connection itself is made by the first delivery, so an unreachable
// broker fails deliveries rather than the run.
func Open(cfg config.Publish, logger *slog.Logger) (*Publisher, error) {
	enc, err := envelope.ParseEncoding(cfg.Encoding)
	if err != nil {
		return nil, fmt.Errorf("%w: publish.encoding: %w", config.ErrInvalid, err)
	}
	opts := Options{
		Topic:      cfg.Topic,
		CheckTopic: cfg.CheckTopic,
		Encoding:   enc,
		Timeout:    cfg.Timeout,
		Rate:       cfg.Rate,
		Burst:      cfg.Burst,
		Logger:     logger,
	}

	p := newPublisher(nil, nil, opts)
	switch cfg.Target {
	case "store":
		factory, err := storeFactory(cfg.Store.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: publish.store: %w", config.ErrInvalid, err)
		}
		p.dial = func(ctx context.Context) error {
			s, err := factory(ctx, cfg.Store)
			if err != nil {
				return fmt.Errorf("open %s store: %w", cfg.Store.Type, err)
			}
			p.store = s
			return nil
		}
	default:
		factory, err := sinkFactory(cfg.Sink.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: publish.sink: %w", config.ErrInvalid, err)
		}
		p.dial = func(ctx context.Context) error {
			s, err := factory(ctx, cfg.Sink)
			if err != nil {
				return fmt.Errorf("open %s sink: %w", cfg.Sink.Type, err)
			}
			p.sink = s
			return nil
		}
	}
	return p, nil
}

// connect opens the sink or store if that has not happened yet. A failed
// attempt is repeated by the next delivery.
func (p *Publisher) connect(ctx context.Context) (Sink, Store, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sink == nil && p.store == nil && p.dial != nil {
		if err := p.dial(ctx); err != nil {
			return nil, nil, err
		}
		p.logger.Info("publisher connected")
	}
	return p.sink, p.store, nil
}

// Deliver publishes env keyed by its docid.
func (p *Publisher) Deliver(ctx context.Context, env *envelope.Envelope) error {
	data, err := envelope.Encode(p.opts.Encoding, env)
	if err != nil {
		return fmt.Errorf("encode envelope %s: %w", env.DocID, err)
	}
	if err := p.send(ctx, p.opts.Topic, env.DocID, env.DocID, data); err != nil {
		return fmt.Errorf("deliver %s: %w", env.DocID, err)
	}
	p.logger.Debug("delivered envelope", "docid", env.DocID, "entries", env.Total(), "bytes", len(data))
	return nil
}

// DeliverFlat publishes a check payload keyed by the check name. Store
// documents are additionally keyed by the payload timestamp so successive
// runs do not overwrite each other.
func (p *Publisher) DeliverFlat(ctx context.Context, f *envelope.Flat) error {
	data, err := envelope.Encode(p.opts.Encoding, f)
	if err != nil {
		return fmt.Errorf("encode check %s: %w", f.Check, err)
	}
	doc := path.Join("check", f.Check, strconv.FormatInt(f.AsOf.UnixNano(), 10))
	if err := p.send(ctx, p.opts.CheckTopic, f.Check, doc, data); err != nil {
		return fmt.Errorf("deliver check %s: %w", f.Check, err)
	}
	p.logger.Debug("delivered check", "check", f.Check, "entries", f.Total(), "bytes", len(data))
	return nil
}

func (p *Publisher) send(ctx context.Context, topic, key, doc string, data []byte) error {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}
	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}

	sink, store, err := p.connect(ctx)
	switch {
	case err != nil:
	case store != nil:
		err = store.Insert(ctx, doc+"."+string(p.opts.Encoding), data)
	default:
		err = sink.Publish(ctx, topic, key, data)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("timed out after %s: %w", p.opts.Timeout, err)
	}
	return err
}

// Close releases the underlying sink or store, if one was opened.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.store != nil {
		return p.store.Close()
	}
	if p.sink != nil {
		return p.sink.Close()
	}
	return nil
}
