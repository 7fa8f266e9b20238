package call

import (
	"fmt"
	"time"

	"github.com/dkeye/ringcall/internal/core"
	"github.com/dkeye/ringcall/internal/domain"
)

// Status is what a UI observes. The zero value is an idle coordinator.
type Status struct {
	CallStatus   domain.CallState
	SessionID    domain.SessionID
	Role         domain.Role
	IsAudioOnly  bool
	RemoteUser   domain.Profile
	LocalStream  core.LocalStream
	RemoteStream core.RemoteStream
	IsMuted      bool
	IsVideoOff   bool
	IsSpeakerOff bool
	CallDuration time.Duration
	Reason       domain.EndReason
	Err          error

	connectedAt time.Time
}

func idleStatus() Status {
	return Status{CallStatus: domain.StateIdle}
}

// Message is the text a UI shows for an ended call.
func (s Status) Message() string {
	if s.CallStatus != domain.StateEnded {
		return ""
	}
	return s.Reason.Message()
}

func (s Status) same(o Status) bool {
	return s.CallStatus == o.CallStatus &&
		s.SessionID == o.SessionID &&
		s.Role == o.Role &&
		s.IsAudioOnly == o.IsAudioOnly &&
		s.RemoteUser == o.RemoteUser &&
		s.LocalStream == o.LocalStream &&
		streamID(s.RemoteStream) == streamID(o.RemoteStream) &&
		s.IsMuted == o.IsMuted &&
		s.IsVideoOff == o.IsVideoOff &&
		s.IsSpeakerOff == o.IsSpeakerOff &&
		s.CallDuration == o.CallDuration &&
		s.Reason == o.Reason &&
		s.Err == o.Err
}

func streamID(r core.RemoteStream) string {
	if r == nil {
		return ""
	}
	return fmt.Sprintf("%s%v", r.StreamID(), r.Kinds())
}

// FormatDuration renders d as mm:ss, growing to h:mm:ss past an hour.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	h, m, sec := total/3600, (total/60)%60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%02d:%02d", m, sec)
}
