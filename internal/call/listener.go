package call

import (
	"errors"
	"sync"

	"github.com/dkeye/ringcall/internal/signal"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrListening = errors.New("listener already started")

// Listener receives incoming offers on the local party's well-known address
// for as long as the party is present.
type Listener struct {
	sig    *signal.Adapter
	coord  *Coordinator
	logger zerolog.Logger

	mu    sync.Mutex
	unsub func()
}

func NewListener(sig *signal.Adapter, coord *Coordinator) *Listener {
	return &Listener{
		sig:    sig,
		coord:  coord,
		logger: log.With().Str("module", "listener").Str("self", string(sig.Self())).Logger(),
	}
}

func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.unsub != nil {
		return ErrListening
	}

	addr := signal.DeriveUserSignalAddress(l.sig.Self())
	unsub, err := l.sig.Subscribe(addr, func(m signal.Message) {
		if m.Kind != signal.KindIncomingOffer {
			l.logger.Debug().Str("kind", string(m.Kind)).Msg("ignoring non-offer on user address")
			return
		}
		l.logger.Info().Str("from", string(m.From)).Str("mode", string(m.Offer.Mode)).Msg("incoming call")
		l.coord.post(func() { l.coord.onIncomingOffer(m) })
	})
	if err != nil {
		return err
	}
	l.unsub = unsub
	l.logger.Info().Str("address", addr).Msg("listening for calls")
	return nil
}

// Stop is safe to call more than once.
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.unsub == nil {
		return
	}
	l.unsub()
	l.unsub = nil
	l.logger.Info().Msg("stopped listening")
}
