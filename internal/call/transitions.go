package call

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/ringcall/internal/core"
	"github.com/dkeye/ringcall/internal/domain"
	"github.com/dkeye/ringcall/internal/signal"
	"github.com/google/uuid"
)

func (c *Coordinator) newSession(role domain.Role, remote domain.Profile, mode domain.Mode, attempt string) *session {
	id := signal.DeriveSessionChannel(c.self.ID, remote.ID)
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:        id,
		attempt:   attempt,
		channel:   string(id),
		role:      role,
		mode:      mode,
		remote:    remote,
		ctx:       ctx,
		cancel:    cancel,
		inbound:   signal.NewCandidateBuffer(),
		startedAt: c.clock.Now(),
		logger: c.logger.With().
			Str("session", string(id)).
			Str("role", string(role)).
			Str("remote", string(remote.ID)).
			Logger(),
	}

	unsub, err := c.sig.Subscribe(s.channel, func(m signal.Message) {
		c.post(func() { c.onSignal(s, m) })
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("subscribe session channel")
	}
	s.unsub = unsub

	s.deadline = c.clock.AfterFunc(c.timeout, func() {
		c.post(func() { c.onDeadline(s) })
	})
	c.sess = s
	return s
}

func (c *Coordinator) setState(s *session, to domain.CallState) {
	s.logger.Info().Str("from", string(s.state)).Str("to", string(to)).Str("attempt", s.attempt).Msg("call state")
	s.state = to
}

// IDLE -> DIALING
func (c *Coordinator) startCall(target domain.Profile, mode domain.Mode) {
	if s := c.sess; s.live() {
		c.logger.Warn().Str("state", string(s.state)).Msg("start call ignored, a call is in progress")
		return
	}
	if err := domain.ValidatePartyID(target.ID); err != nil || target.ID == c.self.ID || !mode.Valid() {
		c.logger.Warn().Err(err).Str("target", string(target.ID)).Str("mode", string(mode)).Msg("start call ignored, bad target")
		return
	}

	s := c.newSession(domain.RoleCaller, target, mode, uuid.NewString())
	c.setState(s, domain.StateDialing)
	c.record(s, domain.CallRinging)
	c.acquire(s)
}

// RINGING -> NEGOTIATING
func (c *Coordinator) answerCall() {
	s := c.sess
	if !s.live() || s.state != domain.StateRinging {
		c.logger.Debug().Msg("answer ignored, nothing is ringing")
		return
	}
	c.setState(s, domain.StateNegotiating)
	c.record(s, domain.CallAccepted)
	c.acquire(s)
}

// RINGING -> ENDED
func (c *Coordinator) rejectCall() {
	s := c.sess
	if !s.live() || s.state != domain.StateRinging {
		c.logger.Debug().Msg("reject ignored, nothing is ringing")
		return
	}
	c.send(s.channel, signal.Message{
		Kind:    signal.KindReject,
		Session: s.id,
		Attempt: s.attempt,
		Reason:  string(domain.ReasonDeclined),
	})
	c.record(s, domain.CallRejected)
	c.finish(s, domain.ReasonRejected, nil)
}

// acquire requests local media for s unless it already holds a stream for
// its mode or a request is in flight.
func (c *Coordinator) acquire(s *session) {
	if s.local != nil {
		c.negotiate(s)
		return
	}
	if s.acquiring {
		return
	}
	s.acquiring = true
	mode := s.mode
	go func() {
		stream, err := c.media.Acquire(s.ctx, mode)
		c.post(func() { c.onAcquired(s, mode, stream, err) })
	}()
}

func (c *Coordinator) onAcquired(s *session, mode domain.Mode, stream core.LocalStream, err error) {
	s.acquiring = false
	if c.sess != s || !s.live() {
		if stream != nil {
			stream.Release()
		}
		return
	}
	if mode != s.mode {
		if stream != nil {
			stream.Release()
		}
		c.acquire(s)
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("media acquisition failed")
		c.end(s, domain.ReasonMediaUnavailable, err, true)
		return
	}

	stream.SetMuted(s.muted)
	if s.mode.HasVideo() {
		stream.SetVideoEnabled(!s.videoOff)
	}
	s.local = stream
	c.negotiate(s)
}

// negotiate creates the engine for the session's role off the loop.
func (c *Coordinator) negotiate(s *session) {
	if s.peer != nil {
		return
	}
	attempt, stream, offer := s.attempt, s.local, s.offer
	h := c.handlers(s, attempt)
	initiator := s.role == domain.RoleCaller
	go func() {
		var (
			ps  core.PeerSession
			err error
		)
		if initiator {
			ps, err = c.engine.NewInitiator(s.ctx, attempt, stream, h)
		} else {
			ps, err = c.engine.NewResponder(s.ctx, attempt, offer, stream, h)
		}
		c.post(func() { c.onEngine(s, attempt, ps, err) })
	}()
}

func (c *Coordinator) handlers(s *session, attempt string) core.EngineHandlers {
	return core.EngineHandlers{
		OnCandidate: func(cand domain.Candidate) {
			c.post(func() { c.onLocalCandidate(s, attempt, cand) })
		},
		OnRemoteStream: func(rs core.RemoteStream) {
			c.post(func() {
				if c.current(s, attempt) {
					s.remoteMS = rs
				}
			})
		},
		OnConnectionState: func(st core.ConnState) {
			c.post(func() { c.onConnState(s, attempt, st) })
		},
	}
}

// current reports whether a result produced for s/attempt still applies.
func (c *Coordinator) current(s *session, attempt string) bool {
	return c.sess == s && s.live() && s.attempt == attempt
}

func (c *Coordinator) onEngine(s *session, attempt string, ps core.PeerSession, err error) {
	if !c.current(s, attempt) {
		if ps != nil {
			go ps.Close()
		}
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("peer session setup failed")
		c.end(s, domain.ReasonFailed, fmt.Errorf("%w: %w", ErrNegotiationFailed, err), true)
		return
	}
	s.peer = ps
	for _, cand := range s.inbound.Drain() {
		c.addRemoteCandidate(s, cand)
	}

	desc := ps.LocalDescription()
	if s.role == domain.RoleCaller {
		c.send(signal.DeriveUserSignalAddress(s.remote.ID), signal.Message{
			Kind:    signal.KindIncomingOffer,
			Session: s.id,
			Attempt: s.attempt,
			Offer: &signal.IncomingOffer{
				Caller:      c.self,
				Mode:        s.mode,
				Description: desc,
			},
		})
		c.send(s.channel, signal.Message{
			Kind:        signal.KindOffer,
			Session:     s.id,
			Attempt:     s.attempt,
			Description: &desc,
		})
		s.announced = true
		return
	}

	c.send(s.channel, signal.Message{
		Kind:        signal.KindAnswer,
		Session:     s.id,
		Attempt:     s.attempt,
		Description: &desc,
	})
	c.startTrickle(s)
}

func (c *Coordinator) startTrickle(s *session) {
	s.canTrickle = true
	for _, cand := range s.outbound {
		c.sendCandidate(s, cand)
	}
	s.outbound = nil
}

func (c *Coordinator) sendCandidate(s *session, cand domain.Candidate) {
	c.send(s.channel, signal.Message{
		Kind:      signal.KindCandidate,
		Session:   s.id,
		Attempt:   s.attempt,
		Candidate: &cand,
	})
}

// onLocalCandidate holds candidates until the remote side is listening on
// the session channel: the callee after answering, the caller once answered.
func (c *Coordinator) onLocalCandidate(s *session, attempt string, cand domain.Candidate) {
	if !c.current(s, attempt) {
		return
	}
	if !s.canTrickle {
		s.outbound = append(s.outbound, cand)
		return
	}
	c.sendCandidate(s, cand)
}

func (c *Coordinator) addRemoteCandidate(s *session, cand domain.Candidate) {
	if err := s.peer.AddRemoteCandidate(cand); err != nil {
		s.logger.Warn().Err(err).Msg("remote candidate rejected")
	}
}

// NEGOTIATING -> ACTIVE, NEGOTIATING|ACTIVE -> ENDED
func (c *Coordinator) onConnState(s *session, attempt string, st core.ConnState) {
	if !c.current(s, attempt) {
		return
	}
	s.logger.Debug().Str("conn", string(st)).Msg("connection state")
	switch st {
	case core.ConnConnected:
		if s.state != domain.StateNegotiating {
			return
		}
		c.setState(s, domain.StateActive)
		if s.deadline != nil {
			s.deadline.Stop()
			s.deadline = nil
		}
		s.connectedAt = c.clock.Now()
		s.ticker = c.clock.Ticker(time.Second)
		go c.tick(s, s.ticker)
	case core.ConnFailed, core.ConnDisconnected:
		if s.state != domain.StateNegotiating && s.state != domain.StateActive {
			return
		}
		c.end(s, domain.ReasonFailed, fmt.Errorf("%w: connection %s", ErrNegotiationFailed, st), true)
	}
}

// tick wakes the loop once a second so watchers see the duration grow.
func (c *Coordinator) tick(s *session, ticker *clock.Ticker) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			c.post(func() {})
		}
	}
}

func (c *Coordinator) onDeadline(s *session) {
	if c.sess != s || !s.live() || s.state == domain.StateActive {
		return
	}
	reason := domain.ReasonNoAnswer
	if s.state == domain.StateNegotiating {
		reason = domain.ReasonTimeout
	}
	c.end(s, reason, ErrSignalingTimeout, true)
}

// onSignal handles messages on the session channel.
func (c *Coordinator) onSignal(s *session, m signal.Message) {
	if c.sess != s || !s.live() {
		return
	}
	if m.From != s.remote.ID || m.Attempt != s.attempt {
		s.logger.Debug().Str("kind", string(m.Kind)).Str("attempt", m.Attempt).Msg("signal for another attempt ignored")
		return
	}

	switch m.Kind {
	case signal.KindAnswer:
		c.onAnswer(s, *m.Description)
	case signal.KindCandidate:
		if s.peer == nil {
			s.inbound.Add(*m.Candidate)
			return
		}
		c.addRemoteCandidate(s, *m.Candidate)
	case signal.KindReject:
		if s.role == domain.RoleCaller && s.state == domain.StateDialing {
			c.end(s, domain.ReasonDeclined, nil, false)
		}
	case signal.KindBusy:
		if s.role == domain.RoleCaller && s.state == domain.StateDialing {
			c.end(s, domain.ReasonBusy, ErrBusy, false)
		}
	case signal.KindHangup:
		c.end(s, domain.ReasonRemoteHangup, nil, false)
	case signal.KindOffer:
		// The offer already arrived inside incoming_offer.
	}
}

// DIALING -> NEGOTIATING
func (c *Coordinator) onAnswer(s *session, desc domain.Description) {
	if s.role != domain.RoleCaller || s.peer == nil {
		s.logger.Warn().Err(ErrProtocolViolation).Msg("unexpected answer ignored")
		return
	}
	if err := s.peer.ApplyRemoteAnswer(desc); err != nil {
		if signal.IsViolation(err) {
			s.logger.Warn().Err(err).Msg("answer ignored")
			return
		}
		c.end(s, domain.ReasonFailed, fmt.Errorf("%w: %w", ErrNegotiationFailed, err), true)
		return
	}
	if s.state == domain.StateDialing {
		c.setState(s, domain.StateNegotiating)
	}
	c.startTrickle(s)
}

// onIncomingOffer handles offers on the local well-known address. Offers for
// finished attempts are dropped. A redial from the ringing caller replaces
// the ringing attempt rather than answering busy; any other new attempt from
// the current remote is answered busy on the pair channel.
func (c *Coordinator) onIncomingOffer(m signal.Message) {
	offer := m.Offer
	if c.isRetired(m.Attempt) {
		c.logger.Debug().Str("from", string(m.From)).Str("attempt", m.Attempt).Msg("offer for finished attempt dropped")
		return
	}
	s := c.sess
	if !s.live() {
		s = c.newSession(domain.RoleCallee, offer.Caller, offer.Mode, m.Attempt)
		s.offer = offer.Description
		s.announced = true
		c.setState(s, domain.StateRinging)
		return
	}

	if m.From != s.remote.ID {
		c.logger.Info().Str("from", string(m.From)).Msg("busy, rejecting incoming call")
		c.send(string(signal.DeriveSessionChannel(c.self.ID, m.From)), signal.Message{
			Kind:    signal.KindBusy,
			Session: signal.DeriveSessionChannel(c.self.ID, m.From),
			Attempt: m.Attempt,
			Reason:  string(domain.ReasonBusy),
		})
		return
	}

	switch {
	case m.Attempt == s.attempt:
		s.logger.Debug().Msg("duplicate incoming offer ignored")
	case s.state == domain.StateRinging:
		// The caller gave up and dialed again before we answered.
		s.logger.Info().Str("attempt", m.Attempt).Msg("ringing attempt replaced")
		c.retire(s.attempt)
		s.resetNegotiation()
		s.attempt = m.Attempt
		s.offer = offer.Description
		s.mode = offer.Mode
		s.remote = offer.Caller
		if s.deadline != nil {
			s.deadline.Reset(c.timeout)
		}
	case s.role == domain.RoleCaller && s.state == domain.StateDialing:
		c.resolveGlare(s, m)
	default:
		s.logger.Info().Str("attempt", m.Attempt).Msg("busy, rejecting redial during call")
		c.send(s.channel, signal.Message{
			Kind:    signal.KindBusy,
			Session: s.id,
			Attempt: m.Attempt,
			Reason:  string(domain.ReasonBusy),
		})
	}
}

// resolveGlare runs when both parties dialed each other. The party that
// sorts first keeps its attempt; the other drops its own without a hangup
// and answers the peer's offer, reusing local media where the mode allows.
func (c *Coordinator) resolveGlare(s *session, m signal.Message) {
	if signal.Outranks(c.self.ID, s.remote.ID) {
		s.logger.Info().Str("peer_attempt", m.Attempt).Msg("glare, keeping caller role")
		c.retire(m.Attempt)
		return
	}
	s.logger.Info().Str("peer_attempt", m.Attempt).Msg("glare, yielding to peer")

	offer := m.Offer
	s.resetNegotiation()
	s.role = domain.RoleCallee
	s.attempt = m.Attempt
	s.offer = offer.Description
	s.remote = offer.Caller
	s.announced = true
	s.logger = s.logger.With().Str("role", string(domain.RoleCallee)).Logger()
	if offer.Mode != s.mode {
		s.mode = offer.Mode
		if s.local != nil {
			s.local.Release()
			s.local = nil
		}
	}
	c.setState(s, domain.StateNegotiating)
	c.record(s, domain.CallAccepted)
	c.acquire(s)
}

// end moves s to ENDED. State changes first so nothing inbound can touch
// the session again; notify publishes a hangup for an announced attempt.
func (c *Coordinator) end(s *session, reason domain.EndReason, err error, notify bool) {
	if notify && s.announced {
		c.send(s.channel, signal.Message{
			Kind:    signal.KindHangup,
			Session: s.id,
			Attempt: s.attempt,
			Reason:  string(reason),
		})
	}
	c.record(s, domain.CallEnded)
	c.finish(s, reason, err)
}

func (c *Coordinator) finish(s *session, reason domain.EndReason, err error) {
	if s.state == domain.StateActive {
		s.duration = c.clock.Since(s.connectedAt).Truncate(time.Second)
	}
	c.setState(s, domain.StateEnded)
	c.retire(s.attempt)
	s.reason = reason
	s.err = err
	s.stopTimers()
	s.cancel()
	if s.unsub != nil {
		s.unsub()
	}
	if s.local != nil {
		s.local.Release()
	}
	if s.peer != nil {
		go s.peer.Close()
	}

	ev := s.logger.Info()
	if err != nil {
		ev = s.logger.Warn().Err(err)
	}
	ev.Str("reason", string(reason)).Dur("duration", s.duration).Msg("call ended")
}
