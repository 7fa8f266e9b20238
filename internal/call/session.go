package call

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/ringcall/internal/core"
	"github.com/dkeye/ringcall/internal/domain"
	"github.com/dkeye/ringcall/internal/signal"
	"github.com/rs/zerolog"
)

// session is one call attempt from creation to ENDED. It is owned by the
// coordinator loop; nothing else reads or writes it.
type session struct {
	id      domain.SessionID
	attempt string
	channel string
	role    domain.Role
	mode    domain.Mode
	state   domain.CallState
	remote  domain.Profile
	offer   domain.Description

	ctx    context.Context
	cancel context.CancelFunc
	unsub  func()
	logger zerolog.Logger

	local     core.LocalStream
	remoteMS  core.RemoteStream
	peer      core.PeerSession
	acquiring bool

	// announced is set once the remote party knows about attempt.
	announced bool
	// canTrickle is set once the remote side is ready for our candidates.
	canTrickle bool
	outbound   []domain.Candidate
	inbound    *signal.CandidateBuffer

	muted      bool
	videoOff   bool
	speakerOff bool

	startedAt   time.Time
	connectedAt time.Time
	duration    time.Duration
	deadline    *clock.Timer
	ticker      *clock.Ticker

	reason domain.EndReason
	err    error
}

func (s *session) live() bool { return s != nil && s.state.Live() }

func (s *session) status(now time.Time) Status {
	st := Status{
		CallStatus:   s.state,
		SessionID:    s.id,
		Role:         s.role,
		IsAudioOnly:  !s.mode.HasVideo(),
		RemoteUser:   s.remote,
		LocalStream:  s.local,
		RemoteStream: s.remoteMS,
		IsMuted:      s.muted,
		IsVideoOff:   s.videoOff || !s.mode.HasVideo(),
		IsSpeakerOff: s.speakerOff,
		CallDuration: s.duration,
		Reason:       s.reason,
		Err:          s.err,
		connectedAt:  s.connectedAt,
	}
	if s.state == domain.StateActive {
		st.CallDuration = now.Sub(s.connectedAt).Truncate(time.Second)
	}
	return st
}

func (s *session) stopTimers() {
	if s.deadline != nil {
		s.deadline.Stop()
		s.deadline = nil
	}
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
}

// resetNegotiation drops everything tied to the current attempt.
func (s *session) resetNegotiation() {
	if s.peer != nil {
		go s.peer.Close()
		s.peer = nil
	}
	s.canTrickle = false
	s.outbound = nil
	s.inbound = signal.NewCandidateBuffer()
}
