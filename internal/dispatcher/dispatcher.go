// Package dispatcher routes game events (agent registration, keyframe
// inserts, portal creation, metric points) to per-kind handlers, optionally
// through a bounded queue drained by one worker per kind so slow consumers
// never stall the simulation and events of one kind stay in order.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/chronoportal/server/internal/dispatcher"

var (
	// ErrClosed is returned when dispatching to a queued kind after Close.
	ErrClosed = errors.New("dispatcher closed")
	// ErrQueueFull is returned when a non-blocking queue has no room.
	ErrQueueFull = errors.New("queue full")
	// ErrUnknownKind is returned for a kind with no handler.
	ErrUnknownKind = errors.New("unknown event kind")
)

// Event is one notification from the game.
type Event struct {
	Kind      string
	Payload   any
	Timestamp time.Time
}

// HandlerFunc processes one event.
type HandlerFunc func(Event) error

// Logger is the subset of *slog.Logger the dispatcher needs.
type Logger interface {
	Debug(msg string, args ...any)
	Error(msg string, args ...any)
}

// Option configures handler registration.
type Option func(*options)

type options struct {
	queueSize int
	blocking  bool
	logged    bool
}

// Buffered queues events of the kind and handles them on a dedicated worker.
func Buffered(size int) Option {
	return func(o *options) { o.queueSize = size }
}

// Blocking makes Dispatch wait for room in a full queue instead of dropping.
func Blocking() Option {
	return func(o *options) { o.blocking = true }
}

// Logged logs every handled event at debug level and failures at error level.
func Logged() Option {
	return func(o *options) { o.logged = true }
}

// Dispatcher routes events to registered handlers.
type Dispatcher struct {
	log Logger

	processed metric.Int64Counter
	dropped   metric.Int64Counter
	failed    metric.Int64Counter

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	queues   map[string]chan Event
	closed   bool
	workers  sync.WaitGroup
}

// New creates a Dispatcher. Metrics go to the global OTel meter provider.
func New(log Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		log:      log,
		handlers: make(map[string]HandlerFunc),
		queues:   make(map[string]chan Event),
	}

	m := otel.Meter(instrumentationName)

	depth, err := m.Int64ObservableGauge(
		"dispatcher.queue.size",
		metric.WithDescription("Events waiting in each queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}
	_, err = m.RegisterCallback(
		func(_ context.Context, o metric.Observer) error {
			d.mu.RLock()
			defer d.mu.RUnlock()
			for kind, q := range d.queues {
				o.ObserveInt64(depth, int64(len(q)), metric.WithAttributes(attribute.String("kind", kind)))
			}
			return nil
		},
		depth,
	)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}

	if d.processed, err = m.Int64Counter("dispatcher.events.processed",
		metric.WithDescription("Queued events handled")); err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}
	if d.dropped, err = m.Int64Counter("dispatcher.events.dropped",
		metric.WithDescription("Events dropped because their queue was full")); err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}
	if d.failed, err = m.Int64Counter("dispatcher.events.failed",
		metric.WithDescription("Queued events whose handler returned an error")); err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}

	return d, nil
}

// Register installs the handler for kind, replacing any previous one.
func (d *Dispatcher) Register(kind string, h HandlerFunc, opts ...Option) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if o.logged {
		h = d.withLogging(kind, h)
	}
	if o.queueSize > 0 {
		h = d.withQueue(kind, o.queueSize, o.blocking, h)
	}

	d.mu.Lock()
	d.handlers[kind] = h
	d.mu.Unlock()
}

// Dispatch hands e to its kind's handler. For queued kinds a nil error means
// the event was accepted, not that it has been handled.
func (d *Dispatcher) Dispatch(e Event) error {
	d.mu.RLock()
	h, ok := d.handlers[e.Kind]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s: %w", e.Kind, ErrUnknownKind)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	return h(e)
}

// HasHandler reports whether kind has a handler.
func (d *Dispatcher) HasHandler(kind string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[kind]
	return ok
}

// Pending returns how many events of kind are waiting in its queue.
func (d *Dispatcher) Pending(kind string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.queues[kind])
}

// Close stops accepting queued events and waits until every queued event has
// been handled. Unqueued handlers keep working.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, q := range d.queues {
		close(q)
	}
	d.mu.Unlock()

	d.workers.Wait()
}

func (d *Dispatcher) withQueue(kind string, size int, blocking bool, h HandlerFunc) HandlerFunc {
	q := make(chan Event, size)
	d.mu.Lock()
	d.queues[kind] = q
	d.mu.Unlock()

	kindAttr := metric.WithAttributes(attribute.String("kind", kind))

	d.workers.Add(1)
	go func() {
		defer d.workers.Done()
		for e := range q {
			if err := h(e); err != nil {
				d.failed.Add(context.Background(), 1, kindAttr)
			}
			d.processed.Add(context.Background(), 1, kindAttr)
		}
	}()

	return func(e Event) error {
		// the read lock keeps Close from closing q under a pending send
		d.mu.RLock()
		defer d.mu.RUnlock()
		if d.closed {
			return fmt.Errorf("%s: %w", kind, ErrClosed)
		}
		if blocking {
			q <- e
			return nil
		}
		select {
		case q <- e:
			return nil
		default:
			d.dropped.Add(context.Background(), 1, kindAttr)
			return fmt.Errorf("%s: %w", kind, ErrQueueFull)
		}
	}
}

func (d *Dispatcher) withLogging(kind string, h HandlerFunc) HandlerFunc {
	return func(e Event) error {
		start := time.Now()
		err := h(e)
		if err != nil {
			d.log.Error("event failed", "kind", kind, "payload", fmt.Sprintf("%T", e.Payload),
				"duration", time.Since(start), "error", err)
			return err
		}
		d.log.Debug("event handled", "kind", kind, "payload", fmt.Sprintf("%T", e.Payload),
			"duration", time.Since(start))
		return nil
	}
}
