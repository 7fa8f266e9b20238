// Package wsbus is a core.Bus client for the hub relay. It keeps one
// websocket open, reconnects with a fixed delay and restores subscriptions.
package wsbus

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/ringcall/internal/hub"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotConnected = errors.New("bus not connected")
	ErrClosed       = errors.New("bus closed")
)

const writeWait = 5 * time.Second

type Options struct {
	URL            string
	Token          string
	ReconnectDelay time.Duration
	AckTimeout     time.Duration
	Dialer         *websocket.Dialer
}

type handlerEntry struct {
	id uint64
	fn func([]byte)
}

type Bus struct {
	opts   Options
	logger zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	writeMu sync.Mutex

	mu     sync.Mutex
	conn   *websocket.Conn
	subs   map[string][]handlerEntry
	topics map[string][2]string
	acks   map[string][]chan struct{}
	nextID uint64
	closed bool
}

// Dial connects to the relay. The first connection must succeed; later
// drops are retried until Close.
func Dial(ctx context.Context, opts Options) (*Bus, error) {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 2 * time.Second
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = 5 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}

	b := &Bus{
		opts:   opts,
		logger: log.With().Str("module", "bus.ws").Str("url", opts.URL).Logger(),
		done:   make(chan struct{}),
		subs:   make(map[string][]handlerEntry),
		topics: make(map[string][2]string),
		acks:   make(map[string][]chan struct{}),
	}
	conn, err := b.connect(ctx)
	if err != nil {
		return nil, err
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())
	b.conn = conn
	go b.run(conn)
	return b, nil
}

func (b *Bus) connect(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if b.opts.Token != "" {
		header.Set("Authorization", "Bearer "+b.opts.Token)
	}
	conn, resp, err := b.opts.Dialer.DialContext(ctx, b.opts.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", b.opts.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", b.opts.URL, err)
	}
	b.logger.Info().Msg("connected")
	return conn, nil
}

func (b *Bus) run(conn *websocket.Conn) {
	defer close(b.done)
	for {
		b.readLoop(conn)

		b.mu.Lock()
		b.conn = nil
		b.mu.Unlock()

		conn = b.reconnect()
		if conn == nil {
			return
		}
	}
}

func (b *Bus) reconnect() *websocket.Conn {
	for {
		select {
		case <-b.ctx.Done():
			return nil
		case <-time.After(b.opts.ReconnectDelay):
		}
		conn, err := b.connect(b.ctx)
		if err != nil {
			b.logger.Warn().Err(err).Msg("reconnect failed")
			continue
		}

		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			_ = conn.Close()
			return nil
		}
		b.conn = conn
		keys := make([][2]string, 0, len(b.topics))
		for _, t := range b.topics {
			keys = append(keys, t)
		}
		b.mu.Unlock()

		for _, t := range keys {
			if err := b.write(conn, hub.Frame{Op: hub.OpSubscribe, Channel: t[0], Event: t[1]}); err != nil {
				b.logger.Warn().Err(err).Str("channel", t[0]).Msg("resubscribe failed")
			}
		}
		b.logger.Info().Int("subscriptions", len(keys)).Msg("resubscribed")
		return conn
	}
}

func (b *Bus) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if b.ctx.Err() == nil {
				b.logger.Warn().Err(err).Msg("connection lost")
			}
			_ = conn.Close()
			return
		}
		f, err := hub.Decode(data)
		if err != nil {
			b.logger.Warn().Err(err).Msg("bad frame")
			continue
		}
		switch f.Op {
		case hub.OpMessage:
			b.dispatch(f)
		case hub.OpSubscribed:
			b.ack(key(f.Channel, f.Event))
		case hub.OpError:
			b.logger.Warn().Str("channel", f.Channel).Str("error", f.Error).Msg("relay error")
		}
	}
}

func (b *Bus) dispatch(f hub.Frame) {
	b.mu.Lock()
	handlers := append([]handlerEntry(nil), b.subs[key(f.Channel, f.Event)]...)
	b.mu.Unlock()
	for _, h := range handlers {
		h.fn(f.Payload)
	}
}

func (b *Bus) ack(k string) {
	b.mu.Lock()
	waiters := b.acks[k]
	delete(b.acks, k)
	b.mu.Unlock()
	for _, ch := range waiters {
		close(ch)
	}
}

func (b *Bus) write(conn *websocket.Conn, f hub.Frame) error {
	data, err := hub.Encode(f)
	if err != nil {
		return err
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (b *Bus) current() (*websocket.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	if b.conn == nil {
		return nil, ErrNotConnected
	}
	return b.conn, nil
}

func (b *Bus) Publish(ctx context.Context, channel, event string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	conn, err := b.current()
	if err != nil {
		return err
	}
	return b.write(conn, hub.Frame{Op: hub.OpPublish, Channel: channel, Event: event, Payload: payload})
}

// Subscribe returns once the relay confirmed the subscription, or after the
// ack timeout; the subscription is restored on reconnect either way.
func (b *Bus) Subscribe(channel, event string, handler func([]byte)) (func(), error) {
	k := key(channel, event)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}, ErrClosed
	}
	b.nextID++
	id := b.nextID
	first := len(b.subs[k]) == 0
	b.subs[k] = append(b.subs[k], handlerEntry{id: id, fn: handler})
	b.topics[k] = [2]string{channel, event}
	conn := b.conn
	var acked chan struct{}
	if first && conn != nil {
		acked = make(chan struct{})
		b.acks[k] = append(b.acks[k], acked)
	}
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() { once.Do(func() { b.unsubscribe(k, id) }) }

	if acked == nil {
		return unsubscribe, nil
	}
	if err := b.write(conn, hub.Frame{Op: hub.OpSubscribe, Channel: channel, Event: event}); err != nil {
		b.logger.Warn().Err(err).Str("channel", channel).Msg("subscribe deferred to reconnect")
		return unsubscribe, nil
	}
	select {
	case <-acked:
	case <-time.After(b.opts.AckTimeout):
		b.logger.Warn().Str("channel", channel).Msg("subscribe not acknowledged")
	}
	return unsubscribe, nil
}

func (b *Bus) unsubscribe(k string, id uint64) {
	b.mu.Lock()
	entries := b.subs[k]
	for i, e := range entries {
		if e.id == id {
			entries = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	var (
		conn *websocket.Conn
		t    [2]string
	)
	if len(entries) == 0 {
		delete(b.subs, k)
		t = b.topics[k]
		delete(b.topics, k)
		conn = b.conn
	} else {
		b.subs[k] = entries
	}
	b.mu.Unlock()

	if conn != nil {
		if err := b.write(conn, hub.Frame{Op: hub.OpUnsubscribe, Channel: t[0], Event: t[1]}); err != nil {
			b.logger.Debug().Err(err).Str("channel", t[0]).Msg("unsubscribe")
		}
	}
}

func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	conn := b.conn
	b.mu.Unlock()

	b.cancel()
	if conn != nil {
		b.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		b.writeMu.Unlock()
		_ = conn.Close()
	}
	<-b.done
	b.logger.Info().Msg("closed")
}

func key(channel, event string) string { return channel + "\x00" + event }
