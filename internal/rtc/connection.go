package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/ringcall/internal/core"
	"github.com/dkeye/ringcall/internal/domain"
	"github.com/dkeye/ringcall/internal/signal"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrClosed          = errors.New("peer session closed")
	ErrDuplicateAnswer = fmt.Errorf("%w: answer already applied", core.ErrProtocolViolation)
	ErrNotInitiator    = fmt.Errorf("%w: answer sent to responder", core.ErrProtocolViolation)
)

// peerConnection is the part of *webrtc.PeerConnection the session drives.
type peerConnection interface {
	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	AddTransceiverFromKind(kind webrtc.RTPCodecType, init ...webrtc.RTPTransceiverInit) (*webrtc.RTPTransceiver, error)
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	LocalDescription() *webrtc.SessionDescription
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	GatheringDone() <-chan struct{}
	Close() error
}

// Session is one negotiation with one remote peer. It implements
// core.PeerSession.
type Session struct {
	pc        peerConnection
	attempt   string
	initiator bool
	cfg       Config
	handlers  core.EngineHandlers
	logger    zerolog.Logger

	mu        sync.Mutex
	local     domain.Description
	remoteSet bool
	answered  bool
	closed    bool
	pending   *signal.CandidateBuffer
	streams   map[string][]string
}

func newSession(pc peerConnection, attempt string, initiator bool, cfg Config, h core.EngineHandlers) *Session {
	role := "responder"
	if initiator {
		role = "initiator"
	}
	return &Session{
		pc:        pc,
		attempt:   attempt,
		initiator: initiator,
		cfg:       cfg,
		handlers:  h,
		pending:   signal.NewCandidateBuffer(),
		streams:   make(map[string][]string),
		logger: log.With().
			Str("module", "webrtc").
			Str("attempt", attempt).
			Str("role", role).
			Logger(),
	}
}

func (s *Session) start() {
	s.pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		s.logger.Info().Str("peer_connection_state", st.String()).Msg("Peer state")
		if s.handlers.OnConnectionState != nil {
			s.handlers.OnConnectionState(fromPionState(st))
		}
	})

	s.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil || !s.cfg.Trickle || s.handlers.OnCandidate == nil {
			return
		}
		s.handlers.OnCandidate(fromPionCandidate(cand.ToJSON()))
	})

	s.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		s.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")

		s.mu.Lock()
		kinds := append(s.streams[track.StreamID()], track.Kind().String())
		s.streams[track.StreamID()] = kinds
		snapshot := remoteStream{id: track.StreamID(), kinds: append([]string(nil), kinds...)}
		s.mu.Unlock()

		if s.handlers.OnRemoteStream != nil {
			s.handlers.OnRemoteStream(snapshot)
		}
		if s.cfg.RemoteTrackSink != nil {
			s.cfg.RemoteTrackSink(track)
			return
		}
		go drain(track)
	})
}

// attach adds the local tracks, or recvonly transceivers when there are none
// so the description still carries m-lines with ICE credentials.
func (s *Session) attach(stream core.LocalStream) {
	if stream == nil || len(stream.Tracks()) == 0 {
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
			if _, err := s.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			}); err != nil {
				s.logger.Error().Err(err).Str("kind", kind.String()).Msg("AddTransceiver error")
			}
		}
		return
	}
	for _, t := range stream.Tracks() {
		sender, err := s.pc.AddTrack(t)
		if err != nil {
			s.logger.Error().Err(err).Str("track_id", t.ID()).Msg("AddTrack error")
			continue
		}
		if sender != nil {
			go readRTCP(sender)
		}
	}
}

func (s *Session) offer(ctx context.Context) error {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	return s.setLocal(ctx, offer)
}

func (s *Session) answer(ctx context.Context, offer domain.Description) error {
	if err := s.pc.SetRemoteDescription(toPionDescription(offer)); err != nil {
		return fmt.Errorf("apply offer: %w", err)
	}
	s.mu.Lock()
	s.remoteSet = true
	s.mu.Unlock()

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	return s.setLocal(ctx, answer)
}

func (s *Session) setLocal(ctx context.Context, desc webrtc.SessionDescription) error {
	var gathered <-chan struct{}
	if !s.cfg.Trickle {
		gathered = s.pc.GatheringDone()
	}
	if err := s.pc.SetLocalDescription(desc); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	if gathered != nil {
		select {
		case <-gathered:
		case <-ctx.Done():
			return fmt.Errorf("gather candidates: %w", ctx.Err())
		}
	}
	local := desc
	if ld := s.pc.LocalDescription(); ld != nil {
		local = *ld
	}
	s.mu.Lock()
	s.local = fromPionDescription(local)
	s.mu.Unlock()
	return nil
}

func (s *Session) LocalDescription() domain.Description {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local
}

func (s *Session) ApplyRemoteAnswer(desc domain.Description) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return ErrClosed
	case !s.initiator:
		return ErrNotInitiator
	case s.answered:
		return ErrDuplicateAnswer
	}
	if err := s.pc.SetRemoteDescription(toPionDescription(desc)); err != nil {
		return fmt.Errorf("apply answer: %w", err)
	}
	s.answered = true
	s.remoteSet = true

	for _, c := range s.pending.Drain() {
		if err := s.pc.AddICECandidate(toPionCandidate(c)); err != nil {
			s.logger.Warn().Err(err).Msg("add buffered ice candidate")
		}
	}
	return nil
}

func (s *Session) AddRemoteCandidate(c domain.Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if !s.remoteSet {
		s.pending.Add(c)
		return nil
	}
	if !s.pending.Mark(c) {
		return nil
	}
	if err := s.pc.AddICECandidate(toPionCandidate(c)); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.pc.Close(); err != nil {
		s.logger.Error().Err(err).Msg("close error")
		return err
	}
	s.logger.Info().Msg("closed")
	return nil
}

// readRTCP keeps interceptors fed until the sender stops.
func readRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func drain(track *webrtc.TrackRemote) {
	for {
		if _, _, err := track.ReadRTP(); err != nil {
			return
		}
	}
}
