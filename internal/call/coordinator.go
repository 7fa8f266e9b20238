// Package call runs the per-user call state machine.
package call

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/ringcall/internal/core"
	"github.com/dkeye/ringcall/internal/domain"
	"github.com/dkeye/ringcall/internal/signal"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultNegotiationTimeout = 30 * time.Second

	eventQueue   = 256
	outboxQueue  = 256
	watchQueue   = 16
	publishLimit = 5 * time.Second

	// retiredMemory bounds how many finished attempt ids are remembered.
	retiredMemory = 64
)

type Options struct {
	Self     domain.Profile
	Signal   *signal.Adapter
	Media    core.MediaGateway
	Engine   core.EngineFactory
	Recorder core.CallRecorder

	// NegotiationTimeout bounds DIALING/RINGING until ACTIVE.
	NegotiationTimeout time.Duration
	Clock              clock.Clock
}

type outgoing struct {
	channel string
	msg     signal.Message
}

// Coordinator owns at most one live call for the local party. Every
// transition runs on the goroutine started by Run; public methods post to it
// and return once the transition has been applied.
type Coordinator struct {
	self     domain.Profile
	sig      *signal.Adapter
	media    core.MediaGateway
	engine   core.EngineFactory
	recorder core.CallRecorder
	timeout  time.Duration
	clock    clock.Clock
	logger   zerolog.Logger

	events chan func()
	outbox chan outgoing
	done   chan struct{}

	// loop state
	sess    *session
	retired map[string]struct{}
	order   []string

	mu        sync.Mutex
	snap      Status
	watchers  map[int]chan Status
	nextWatch int
}

func New(opts Options) *Coordinator {
	c := &Coordinator{
		self:     opts.Self,
		sig:      opts.Signal,
		media:    opts.Media,
		engine:   opts.Engine,
		recorder: opts.Recorder,
		timeout:  opts.NegotiationTimeout,
		clock:    opts.Clock,
		events:   make(chan func(), eventQueue),
		outbox:   make(chan outgoing, outboxQueue),
		done:     make(chan struct{}),
		retired:  make(map[string]struct{}),
		snap:     idleStatus(),
		watchers: make(map[int]chan Status),
		logger:   log.With().Str("module", "call").Str("self", string(opts.Self.ID)).Logger(),
	}
	if c.timeout <= 0 {
		c.timeout = DefaultNegotiationTimeout
	}
	if c.clock == nil {
		c.clock = clock.New()
	}
	return c
}

// Run processes events until ctx is cancelled. A live call is hung up on
// the way out.
func (c *Coordinator) Run(ctx context.Context) error {
	go c.sendLoop()
	defer close(c.done)

	c.logger.Info().Msg("coordinator started")
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			c.logger.Info().Msg("coordinator stopped")
			return nil
		case fn := <-c.events:
			fn()
			c.refresh()
		}
	}
}

// post queues fn for the loop without waiting for it.
func (c *Coordinator) post(fn func()) {
	select {
	case c.events <- fn:
	case <-c.done:
	}
}

// do runs fn on the loop and waits for it.
func (c *Coordinator) do(fn func()) {
	ran := make(chan struct{})
	c.post(func() {
		defer close(ran)
		fn()
	})
	select {
	case <-ran:
	case <-c.done:
	}
}

func (c *Coordinator) StartCall(target domain.Profile, mode domain.Mode) {
	c.do(func() { c.startCall(target, mode) })
}

func (c *Coordinator) AnswerCall() { c.do(c.answerCall) }

func (c *Coordinator) RejectCall() { c.do(c.rejectCall) }

func (c *Coordinator) EndCall() {
	c.do(func() {
		if s := c.sess; s.live() {
			c.end(s, domain.ReasonHangup, nil, true)
		}
	})
}

func (c *Coordinator) ToggleMute() {
	c.do(func() {
		s := c.sess
		if !s.live() {
			return
		}
		s.muted = !s.muted
		if s.local != nil {
			s.local.SetMuted(s.muted)
		}
	})
}

func (c *Coordinator) ToggleVideo() {
	c.do(func() {
		s := c.sess
		if !s.live() || !s.mode.HasVideo() {
			return
		}
		s.videoOff = !s.videoOff
		if s.local != nil {
			s.local.SetVideoEnabled(!s.videoOff)
		}
	})
}

// ToggleSpeaker mutes playback of the remote stream. It is local state only.
func (c *Coordinator) ToggleSpeaker() {
	c.do(func() {
		if s := c.sess; s.live() {
			s.speakerOff = !s.speakerOff
		}
	})
}

// Status returns the current snapshot.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	st := c.snap
	c.mu.Unlock()
	if st.CallStatus == domain.StateActive {
		st.CallDuration = c.clock.Since(st.connectedAt).Truncate(time.Second)
	}
	return st
}

// Watch streams status changes, starting with the current one. Slow readers
// only see the latest snapshot. cancel releases the channel.
func (c *Coordinator) Watch() (<-chan Status, func()) {
	ch := make(chan Status, watchQueue)

	c.mu.Lock()
	id := c.nextWatch
	c.nextWatch++
	c.watchers[id] = ch
	ch <- c.snap
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.watchers, id)
			c.mu.Unlock()
		})
	}
}

func (c *Coordinator) refresh() {
	st := idleStatus()
	if c.sess != nil {
		st = c.sess.status(c.clock.Now())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if st.same(c.snap) {
		return
	}
	c.snap = st
	for _, ch := range c.watchers {
		select {
		case ch <- st:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- st
		}
	}
}

// retire remembers attempt as finished so a redelivered offer for it is
// dropped instead of ringing again.
func (c *Coordinator) retire(attempt string) {
	if _, ok := c.retired[attempt]; ok {
		return
	}
	c.retired[attempt] = struct{}{}
	c.order = append(c.order, attempt)
	if len(c.order) > retiredMemory {
		delete(c.retired, c.order[0])
		c.order = c.order[1:]
	}
}

func (c *Coordinator) isRetired(attempt string) bool {
	_, ok := c.retired[attempt]
	return ok
}

// send queues m for publication in order. The loop never blocks on the bus.
func (c *Coordinator) send(channel string, m signal.Message) {
	select {
	case c.outbox <- outgoing{channel: channel, msg: m}:
	default:
		c.logger.Warn().Str("channel", channel).Str("kind", string(m.Kind)).Msg("outbox full, dropping signal")
	}
}

func (c *Coordinator) sendLoop() {
	for {
		select {
		case <-c.done:
			return
		case o := <-c.outbox:
			c.publish(o)
		}
	}
}

func (c *Coordinator) publish(o outgoing) {
	ctx, cancel := context.WithTimeout(context.Background(), publishLimit)
	defer cancel()
	if err := c.sig.Publish(ctx, o.channel, o.msg); err != nil {
		c.logger.Error().Err(err).Str("channel", o.channel).Str("kind", string(o.msg.Kind)).Msg("publish failed")
	}
}

func (c *Coordinator) record(s *session, status domain.CallStatus) {
	if c.recorder == nil {
		return
	}
	rec := domain.CallRecord{
		SessionID: s.id,
		Attempt:   s.attempt,
		Party:     c.self.ID,
		Status:    status,
		Mode:      s.mode,
		At:        c.clock.Now(),
	}
	if err := c.recorder.RecordCallStatus(context.Background(), rec); err != nil {
		s.logger.Warn().Err(err).Str("status", string(status)).Msg("record call status")
	}
}

func (c *Coordinator) shutdown() {
	s := c.sess
	if !s.live() {
		return
	}
	announced := s.announced
	c.end(s, domain.ReasonShutdown, nil, false)
	c.refresh()
	if announced {
		c.publish(outgoing{channel: s.channel, msg: signal.Message{
			Kind:    signal.KindHangup,
			Session: s.id,
			Attempt: s.attempt,
			Reason:  string(domain.ReasonShutdown),
		}})
	}
}
