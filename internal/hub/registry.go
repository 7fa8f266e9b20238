package hub

import (
	"context"
	"sync"

	"github.com/dkeye/ringcall/internal/core"
	"github.com/dkeye/ringcall/internal/domain"
	"github.com/rs/zerolog/log"
)

// Client is one authenticated relay connection.
type Client struct {
	ID     string
	Party  domain.PartyID
	Conn   core.SignalConnection
	Cancel context.CancelFunc

	subs map[string]struct{}
}

type Registry struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	channels map[string]map[string]*Client
}

func NewRegistry() *Registry {
	return &Registry{
		clients:  make(map[string]*Client),
		channels: make(map[string]map[string]*Client),
	}
}

func (r *Registry) Bind(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.subs = make(map[string]struct{})
	r.clients[c.ID] = c
	log.Info().Str("module", "hub.registry").Str("conn", c.ID).Str("party", string(c.Party)).Msg("bound connection")
}

// Unbind forgets the connection and its subscriptions and reports how many
// connections its party still has.
func (r *Registry) Unbind(id string) (domain.PartyID, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	if !ok {
		return "", 0
	}
	for k := range c.subs {
		r.dropLocked(k, id)
	}
	delete(r.clients, id)

	left := 0
	for _, other := range r.clients {
		if other.Party == c.Party {
			left++
		}
	}
	log.Info().Str("module", "hub.registry").Str("conn", id).Str("party", string(c.Party)).Msg("unbind connection")
	return c.Party, left
}

func (r *Registry) Subscribe(id, channel, event string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	if !ok {
		return false
	}
	k := key(channel, event)
	set, ok := r.channels[k]
	if !ok {
		set = make(map[string]*Client)
		r.channels[k] = set
	}
	set[id] = c
	c.subs[k] = struct{}{}
	log.Debug().Str("module", "hub.registry").Str("conn", id).Str("channel", channel).Msg("subscribed")
	return true
}

func (r *Registry) Unsubscribe(id, channel, event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(channel, event)
	if c, ok := r.clients[id]; ok {
		delete(c.subs, k)
	}
	r.dropLocked(k, id)
}

func (r *Registry) dropLocked(k, id string) {
	if set, ok := r.channels[k]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(r.channels, k)
		}
	}
}

// Members returns a snapshot of the connections subscribed to channel/event.
func (r *Registry) Members(channel, event string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.channels[key(channel, event)]
	out := make([]*Client, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

func (r *Registry) Cancel(id string) bool {
	r.mu.RLock()
	c, ok := r.clients[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if c.Cancel != nil {
		c.Cancel()
	}
	log.Info().Str("module", "hub.registry").Str("conn", id).Msg("canceled connection")
	return true
}
