package signal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/ringcall/internal/core"
	"github.com/dkeye/ringcall/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Adapter publishes and receives typed messages for one local party.
type Adapter struct {
	bus    core.Bus
	self   domain.PartyID
	logger zerolog.Logger
}

func NewAdapter(bus core.Bus, self domain.PartyID) *Adapter {
	return &Adapter{
		bus:    bus,
		self:   self,
		logger: log.With().Str("module", "signal").Str("self", string(self)).Logger(),
	}
}

func (a *Adapter) Self() domain.PartyID { return a.self }

// Publish stamps the local party as sender and sends m to channel. Delivery
// is best effort.
func (a *Adapter) Publish(ctx context.Context, channel string, m Message) error {
	m.From = a.self
	data, err := Encode(m)
	if err != nil {
		return err
	}
	if err := a.bus.Publish(ctx, channel, Event, data); err != nil {
		return fmt.Errorf("publish %s on %s: %w", m.Kind, channel, err)
	}
	a.logger.Debug().Str("channel", channel).Str("kind", string(m.Kind)).Str("attempt", m.Attempt).Msg("published")
	return nil
}

// Subscribe delivers valid messages on channel that were not sent by the
// local party. The returned unsubscribe func must be called on every exit
// path; it is idempotent.
func (a *Adapter) Subscribe(channel string, fn func(Message)) (func(), error) {
	unsub, err := a.bus.Subscribe(channel, Event, func(data []byte) {
		m, err := Decode(data)
		if err != nil {
			a.logger.Warn().Err(err).Str("channel", channel).Msg("dropping malformed signal")
			return
		}
		if m.From == a.self {
			return
		}
		if m.Session != DeriveSessionChannel(a.self, m.From) {
			a.logger.Warn().Err(ErrUnknownSession).
				Str("channel", channel).
				Str("session", string(m.Session)).
				Str("from", string(m.From)).
				Msg("dropping signal")
			return
		}
		fn(m)
	})
	if err != nil {
		return func() {}, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	var once sync.Once
	return func() { once.Do(unsub) }, nil
}

// IsViolation reports whether err is a recoverable protocol error.
func IsViolation(err error) bool {
	return errors.Is(err, core.ErrProtocolViolation)
}
