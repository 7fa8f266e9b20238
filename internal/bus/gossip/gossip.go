// Package gossip is a core.Bus over libp2p gossipsub for deployments
// without a relay. Each bus channel maps to one topic; the event name
// travels in the message envelope.
package gossip

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var ErrClosed = errors.New("bus closed")

const (
	topicPrefix    = "ringcall/"
	connectTimeout = 10 * time.Second
)

type envelope struct {
	Event   string `json:"event"`
	Payload []byte `json:"payload"`
}

type Options struct {
	// Listen are multiaddrs such as /ip4/0.0.0.0/tcp/4001.
	Listen []string
	// Bootstrap are full peer addresses ending in /p2p/<id>.
	Bootstrap []string
}

type Bus struct {
	host   host.Host
	ps     *pubsub.PubSub
	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
	closed bool
	wg     sync.WaitGroup
}

func New(ctx context.Context, opts Options) (*Bus, error) {
	peers, err := ParseBootstrap(opts.Bootstrap)
	if err != nil {
		return nil, err
	}
	if len(opts.Listen) == 0 {
		opts.Listen = []string{"/ip4/0.0.0.0/tcp/0"}
	}

	h, err := libp2p.New(libp2p.ListenAddrStrings(opts.Listen...))
	if err != nil {
		return nil, fmt.Errorf("libp2p host: %w", err)
	}
	bctx, cancel := context.WithCancel(context.Background())
	ps, err := pubsub.NewGossipSub(bctx, h)
	if err != nil {
		cancel()
		_ = h.Close()
		return nil, fmt.Errorf("gossipsub: %w", err)
	}

	b := &Bus{
		host:   h,
		ps:     ps,
		ctx:    bctx,
		cancel: cancel,
		logger: log.With().Str("module", "bus.gossip").Str("peer", h.ID().String()).Logger(),
		topics: make(map[string]*pubsub.Topic),
	}
	b.logger.Info().Strs("addrs", b.Addrs()).Msg("host started")

	for _, pi := range peers {
		cctx, ccancel := context.WithTimeout(ctx, connectTimeout)
		if err := h.Connect(cctx, pi); err != nil {
			b.logger.Warn().Err(err).Str("bootstrap", pi.ID.String()).Msg("bootstrap connect failed")
		} else {
			b.logger.Info().Str("bootstrap", pi.ID.String()).Msg("bootstrap connected")
		}
		ccancel()
	}
	return b, nil
}

// ParseBootstrap turns /ip4/.../p2p/<id> strings into peer infos.
func ParseBootstrap(addrs []string) ([]peer.AddrInfo, error) {
	out := make([]peer.AddrInfo, 0, len(addrs))
	for _, s := range addrs {
		a, err := ma.NewMultiaddr(s)
		if err != nil {
			return nil, fmt.Errorf("bootstrap %q: %w", s, err)
		}
		pi, err := peer.AddrInfoFromP2pAddr(a)
		if err != nil {
			return nil, fmt.Errorf("bootstrap %q: %w", s, err)
		}
		out = append(out, *pi)
	}
	return out, nil
}

// Addrs returns dialable addresses of this host including its peer id.
func (b *Bus) Addrs() []string {
	out := make([]string, 0, len(b.host.Addrs()))
	for _, a := range b.host.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", a, b.host.ID()))
	}
	return out
}

func (b *Bus) topic(channel string) (*pubsub.Topic, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	if t, ok := b.topics[channel]; ok {
		return t, nil
	}
	t, err := b.ps.Join(topicPrefix + channel)
	if err != nil {
		return nil, err
	}
	b.topics[channel] = t
	return t, nil
}

func (b *Bus) Publish(ctx context.Context, channel, event string, payload []byte) error {
	t, err := b.topic(channel)
	if err != nil {
		return err
	}
	data, err := json.Marshal(envelope{Event: event, Payload: payload})
	if err != nil {
		return err
	}
	return t.Publish(ctx, data)
}

func (b *Bus) Subscribe(channel, event string, handler func([]byte)) (func(), error) {
	t, err := b.topic(channel)
	if err != nil {
		return func() {}, err
	}
	sub, err := t.Subscribe()
	if err != nil {
		return func() {}, err
	}

	ctx, cancel := context.WithCancel(b.ctx)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			m, err := sub.Next(ctx)
			if err != nil {
				return
			}
			var env envelope
			if err := json.Unmarshal(m.Data, &env); err != nil {
				b.logger.Warn().Err(err).Str("channel", channel).Msg("bad envelope")
				continue
			}
			if env.Event != event {
				continue
			}
			handler(env.Payload)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			sub.Cancel()
		})
	}, nil
}

func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
	if err := b.host.Close(); err != nil {
		b.logger.Warn().Err(err).Msg("host close")
	}
	b.logger.Info().Msg("closed")
}
