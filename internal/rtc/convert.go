package rtc

import (
	"github.com/dkeye/ringcall/internal/core"
	"github.com/dkeye/ringcall/internal/domain"
	"github.com/pion/webrtc/v4"
)

func toPionDescription(d domain.Description) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(d.Type), SDP: d.SDP}
}

func fromPionDescription(d webrtc.SessionDescription) domain.Description {
	return domain.Description{Type: d.Type.String(), SDP: d.SDP}
}

func toPionCandidate(c domain.Candidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func fromPionCandidate(c webrtc.ICECandidateInit) domain.Candidate {
	return domain.Candidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func fromPionState(s webrtc.PeerConnectionState) core.ConnState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return core.ConnConnecting
	case webrtc.PeerConnectionStateConnected:
		return core.ConnConnected
	case webrtc.PeerConnectionStateDisconnected:
		return core.ConnDisconnected
	case webrtc.PeerConnectionStateFailed:
		return core.ConnFailed
	case webrtc.PeerConnectionStateClosed:
		return core.ConnClosed
	default:
		return core.ConnNew
	}
}

// remoteStream is an immutable snapshot of what the peer sends.
type remoteStream struct {
	id    string
	kinds []string
}

func (r remoteStream) StreamID() string { return r.id }
func (r remoteStream) Kinds() []string  { return r.kinds }
