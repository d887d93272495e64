package metrics

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Defaults for New.
const (
	DefaultPrefix        = "classify-client"
	DefaultQueueSize     = 1024
	DefaultFlushInterval = 100 * time.Millisecond
)

// Backend delivers events to a metrics system. Send is never called
// concurrently.
type Backend interface {
	Send(Event) error
	Close() error
}

// Client is a Sink that queues events for a background worker. Emission never
// blocks: when the queue is full the event is dropped and counted.
type Client struct {
	backends []Backend
	onError  func(error)

	events  chan Event
	quit    chan struct{}
	done    chan struct{}
	closeMu sync.Once
	closed  atomic.Bool
	dropped atomic.Int64
	nop     bool

	// Counter events that did not fit in the queue are folded here and
	// delivered as one event per series once the queue has drained, so
	// increments and decrements always reach the backends in equal totals.
	pendingMu sync.Mutex
	pending   map[string]*Event
	kick      chan struct{}
}

type clientConfig struct {
	prefix        string
	queueSize     int
	flushInterval time.Duration
	logger        *slog.Logger
	onError       func(error)
	extra         []Backend
}

// Option configures a Client.
type Option func(*clientConfig)

// WithPrefix sets the statsd metric prefix.
func WithPrefix(prefix string) Option {
	return func(c *clientConfig) { c.prefix = prefix }
}

// WithQueueSize sets the capacity of the emission queue.
func WithQueueSize(n int) Option {
	return func(c *clientConfig) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// WithFlushInterval sets how often buffered statsd packets are flushed.
func WithFlushInterval(d time.Duration) Option {
	return func(c *clientConfig) {
		if d > 0 {
			c.flushInterval = d
		}
	}
}

// WithLogger sets the logger for transport failures.
func WithLogger(logger *slog.Logger) Option {
	return func(c *clientConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithErrorHandler registers the callback receiving send failures. The
// default logs them.
func WithErrorHandler(fn func(error)) Option {
	return func(c *clientConfig) { c.onError = fn }
}

// WithBackend adds a backend that receives every event alongside statsd.
func WithBackend(b Backend) Option {
	return func(c *clientConfig) {
		if b != nil {
			c.extra = append(c.extra, b)
		}
	}
}

// New creates a Client sending to the statsd server at target. If the target
// cannot be resolved the failure is logged and statsd emission becomes a
// no-op; New itself never fails.
func New(target string, opts ...Option) *Client {
	cfg := newClientConfig(opts)

	var backends []Backend
	statsd, err := newStatsdBackend(target, cfg.prefix, cfg.flushInterval)
	if err != nil {
		cfg.logger.Error("Could not connect to metrics host", "target", target, "error", err)
	} else {
		backends = append(backends, statsd)
	}
	backends = append(backends, cfg.extra...)

	return start(cfg, backends)
}

// NewWithBackends creates a Client forwarding to the given backends only.
func NewWithBackends(backends []Backend, opts ...Option) *Client {
	cfg := newClientConfig(opts)
	all := append(append([]Backend(nil), backends...), cfg.extra...)
	return start(cfg, all)
}

func newClientConfig(opts []Option) *clientConfig {
	cfg := &clientConfig{
		prefix:        DefaultPrefix,
		queueSize:     DefaultQueueSize,
		flushInterval: DefaultFlushInterval,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.onError == nil {
		logger := cfg.logger
		cfg.onError = func(err error) {
			logger.Error("Could not send metric", "error", err)
		}
	}
	return cfg
}

func start(cfg *clientConfig, backends []Backend) *Client {
	c := &Client{
		backends: backends,
		onError:  cfg.onError,
		events:   make(chan Event, cfg.queueSize),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		nop:      len(backends) == 0,
		pending:  make(map[string]*Event),
		kick:     make(chan struct{}, 1),
	}
	go c.run()
	return c
}

// Incr emits a counter increment of one.
func (c *Client) Incr(name string, tags ...Tag) {
	c.enqueue(Event{Name: name, Kind: KindCounter, Value: 1, Tags: tags})
}

// Decr emits a counter decrement of one.
func (c *Client) Decr(name string, tags ...Tag) {
	c.enqueue(Event{Name: name, Kind: KindCounter, Value: -1, Tags: tags})
}

// Timing emits a timer.
func (c *Client) Timing(name string, d time.Duration, tags ...Tag) {
	c.enqueue(Event{Name: name, Kind: KindTimer, Duration: d, Tags: tags})
}

// IsNop reports whether the client has no backend to deliver to.
func (c *Client) IsNop() bool {
	return c.nop
}

// Dropped returns the number of events discarded because the queue was full
// or the client was closed. Counter events hitting a full queue are folded
// into a pending total instead and are not counted here.
func (c *Client) Dropped() int64 {
	return c.dropped.Load()
}

// Close stops accepting events, delivers what is queued and closes the
// backends.
func (c *Client) Close() error {
	var errs []error
	c.closeMu.Do(func() {
		c.closed.Store(true)
		close(c.quit)
		<-c.done
		c.flushPending()
		for _, b := range c.backends {
			if err := b.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	if len(errs) > 0 {
		return fmt.Errorf("close metrics backends: %w", errors.Join(errs...))
	}
	return nil
}

func (c *Client) enqueue(e Event) {
	if c.nop {
		return
	}
	if c.closed.Load() {
		c.dropped.Add(1)
		return
	}
	select {
	case c.events <- e:
	default:
		if e.Kind == KindCounter {
			c.fold(e)
			return
		}
		c.dropped.Add(1)
	}
}

func (c *Client) run() {
	defer close(c.done)
	for {
		select {
		case e := <-c.events:
			c.deliver(e)
			if len(c.events) == 0 {
				c.flushPending()
			}
		case <-c.kick:
			if len(c.events) == 0 {
				c.flushPending()
			}
		case <-c.quit:
			for {
				select {
				case e := <-c.events:
					c.deliver(e)
				default:
					c.flushPending()
					return
				}
			}
		}
	}
}

// fold adds a counter event to the pending total of its series.
func (c *Client) fold(e Event) {
	key := seriesKey(e)
	c.pendingMu.Lock()
	if p, ok := c.pending[key]; ok {
		p.Value += e.Value
	} else {
		folded := e
		c.pending[key] = &folded
	}
	c.pendingMu.Unlock()

	select {
	case c.kick <- struct{}{}:
	default:
	}
}

func (c *Client) flushPending() {
	c.pendingMu.Lock()
	if len(c.pending) == 0 {
		c.pendingMu.Unlock()
		return
	}
	batch := c.pending
	c.pending = make(map[string]*Event)
	c.pendingMu.Unlock()

	for _, e := range batch {
		if e.Value != 0 {
			c.deliver(*e)
		}
	}
}

func seriesKey(e Event) string {
	var b strings.Builder
	b.WriteString(e.Name)
	for _, t := range e.Tags {
		b.WriteByte('|')
		b.WriteString(t.Key)
		b.WriteByte('=')
		b.WriteString(t.Value)
	}
	return b.String()
}

func (c *Client) deliver(e Event) {
	for _, b := range c.backends {
		if err := b.Send(e); err != nil {
			c.onError(fmt.Errorf("%s %s: %w", e.Kind, e.Name, err))
		}
	}
}
