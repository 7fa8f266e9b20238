// Package memory is an in-process core.Bus. Each subscription gets its own
// buffered queue and delivery goroutine, so handlers never run on the
// publisher's goroutine and per-sender order is kept.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

var (
	ErrClosed       = errors.New("bus closed")
	ErrBackpressure = errors.New("backpressure")
)

const defaultQueue = 64

type subscription struct {
	key     string
	handler func([]byte)
	queue   chan []byte

	mu     sync.RWMutex
	closed bool
}

func (s *subscription) trySend(payload []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	select {
	case s.queue <- payload:
		return nil
	default:
		return ErrBackpressure
	}
}

func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.queue)
}

func (s *subscription) loop() {
	for payload := range s.queue {
		s.handler(payload)
	}
}

type Bus struct {
	queueSize int

	mu     sync.RWMutex
	subs   map[string]map[*subscription]struct{}
	closed bool
}

func New() *Bus {
	return NewWithQueue(defaultQueue)
}

func NewWithQueue(size int) *Bus {
	if size <= 0 {
		size = defaultQueue
	}
	return &Bus{
		queueSize: size,
		subs:      make(map[string]map[*subscription]struct{}),
	}
}

func key(channel, event string) string { return channel + "\x00" + event }

// Publish copies payload to every subscriber of channel/event. Slow
// subscribers lose the message, matching best-effort realtime delivery.
func (b *Bus) Publish(_ context.Context, channel, event string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for s := range b.subs[key(channel, event)] {
		msg := make([]byte, len(payload))
		copy(msg, payload)
		if err := s.trySend(msg); err != nil {
			log.Warn().Err(err).Str("module", "bus.memory").Str("channel", channel).Msg("message dropped")
		}
	}
	return nil
}

func (b *Bus) Subscribe(channel, event string, handler func([]byte)) (func(), error) {
	s := &subscription{
		key:     key(channel, event),
		handler: handler,
		queue:   make(chan []byte, b.queueSize),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}, ErrClosed
	}
	set, ok := b.subs[s.key]
	if !ok {
		set = make(map[*subscription]struct{})
		b.subs[s.key] = set
	}
	set[s] = struct{}{}
	b.mu.Unlock()

	go s.loop()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			if set, ok := b.subs[s.key]; ok {
				delete(set, s)
				if len(set) == 0 {
					delete(b.subs, s.key)
				}
			}
			b.mu.Unlock()
			s.close()
		})
	}, nil
}

// Subscribers returns the number of live subscriptions on channel/event.
func (b *Bus) Subscribers(channel, event string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[key(channel, event)])
}

func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[string]map[*subscription]struct{})
	b.mu.Unlock()

	for _, set := range subs {
		for s := range set {
			s.close()
		}
	}
}
