package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/minerctl/internal/tuning"
)

// Logger defines the logging interface for the bus.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Bus fans events out to callbacks and channel subscribers.
//
// Callbacks run synchronously on the publishing goroutine, in registration
// order; a panicking callback is recovered and logged. Channel subscribers
// never block the publisher: when a subscriber's buffer is full the event is
// dropped for that subscriber and counted.
type Bus struct {
	logger Logger

	mu       sync.RWMutex
	handlers []handler
	subs     map[*Subscription]struct{}
	nextID   uint64
	closed   bool

	dropped atomic.Uint64
}

type handler struct {
	id uint64
	fn func(Event)
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		logger: noopLogger{},
		subs:   make(map[*Subscription]struct{}),
	}
}

// SetLogger sets the logger for the bus.
func (b *Bus) SetLogger(logger Logger) {
	b.logger = logger
}

// OnEvent registers fn for every event. The returned function unregisters it.
func (b *Bus) OnEvent(fn func(Event)) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers = append(b.handlers, handler{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, h := range b.handlers {
			if h.id == id {
				b.handlers = append(b.handlers[:i:i], b.handlers[i+1:]...)
				return
			}
		}
	}
}

// Subscribe returns a buffered subscription to the given kinds, or to every
// kind when none are given. Subscribing to a closed bus returns an already
// closed subscription.
func (b *Bus) Subscribe(buffer int, kinds ...Kind) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	s := &Subscription{bus: b, ch: make(chan Event, buffer)}
	if len(kinds) > 0 {
		s.kinds = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.closed = true
		close(s.ch)
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Publish delivers e to every subscriber and callback.
// Publishing on a closed bus is a no-op.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	for s := range b.subs {
		if !s.wants(e.Kind()) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			s.dropped.Add(1)
			b.dropped.Add(1)
		}
	}
	handlers := make([]handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		b.call(h, e)
	}
}

func (b *Bus) call(h handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("panic in event handler recovered",
				"kind", e.Kind(),
				"panic", r,
			)
		}
	}()
	h.fn(e)
}

// Dropped returns the total number of events dropped across all subscribers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes every subscription and stops delivery. It is idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		s.closed = true
		close(s.ch)
	}
	b.subs = nil
	b.handlers = nil
}

// Subscription is a buffered stream of events from a Bus.
type Subscription struct {
	bus     *Bus
	ch      chan Event
	kinds   map[Kind]bool
	closed  bool // guarded by bus.mu
	dropped atomic.Uint64
}

func (s *Subscription) wants(k Kind) bool {
	return s.kinds == nil || s.kinds[k]
}

// C returns the event channel. It is closed when the subscription or the
// bus is closed.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Dropped returns how many events this subscriber missed because its
// buffer was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unsubscribes. It is idempotent.
func (s *Subscription) Close() {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	delete(b.subs, s)
	close(s.ch)
}

// NewTuningResult converts a tuning result into an event for phase.
func NewTuningResult(phase string, r tuning.Result) TuningResult {
	e := TuningResult{
		Timestamp: time.Now(),
		Phase:     phase,
		Outcome:   r.Outcome.String(),
		Profile:   r.Profile,
		GPUIndex:  r.GPUIndex,
		Message:   r.Message,
	}
	if r.Err != nil {
		e.Err = r.Err.Error()
	}
	return e
}

// NewWarning stamps a warning with the current time.
func NewWarning(code, message string) Warning {
	return Warning{Timestamp: time.Now(), Code: code, Message: message}
}
