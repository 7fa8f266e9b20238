package domain

import "time"

// SessionID is the deterministic key shared by both parties of a pair.
type SessionID string

type Mode string

const (
	ModeAudio Mode = "audio"
	ModeVideo Mode = "video"
)

func (m Mode) Valid() bool { return m == ModeAudio || m == ModeVideo }

func (m Mode) HasVideo() bool { return m == ModeVideo }

type Role string

const (
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)

type CallState string

const (
	StateIdle        CallState = "idle"
	StateDialing     CallState = "dialing"
	StateRinging     CallState = "ringing"
	StateNegotiating CallState = "negotiating"
	StateActive      CallState = "active"
	StateEnded       CallState = "ended"
)

// Live reports whether the state belongs to a call still in progress.
func (s CallState) Live() bool {
	return s != StateIdle && s != StateEnded && s != ""
}

// EndReason explains why a session reached StateEnded.
type EndReason string

const (
	ReasonNone             EndReason = ""
	ReasonHangup           EndReason = "hangup"
	ReasonRemoteHangup     EndReason = "remote hangup"
	ReasonDeclined         EndReason = "declined"
	ReasonRejected         EndReason = "rejected"
	ReasonBusy             EndReason = "busy"
	ReasonNoAnswer         EndReason = "no answer"
	ReasonTimeout          EndReason = "connection timeout"
	ReasonFailed           EndReason = "connection failed"
	ReasonMediaUnavailable EndReason = "media unavailable"
	ReasonShutdown         EndReason = "shutdown"
)

// Message is the toast text shown for the reason.
func (r EndReason) Message() string {
	switch r {
	case ReasonBusy:
		return "User is busy"
	case ReasonDeclined:
		return "Call declined"
	case ReasonNoAnswer:
		return "No answer"
	case ReasonTimeout:
		return "Connection timed out"
	case ReasonFailed:
		return "Call connection error"
	case ReasonMediaUnavailable:
		return "Could not access camera/microphone"
	case ReasonNone:
		return ""
	default:
		return "Call ended"
	}
}

// CallStatus is the audit status written to the call-record store.
type CallStatus string

const (
	CallRinging  CallStatus = "ringing"
	CallAccepted CallStatus = "accepted"
	CallRejected CallStatus = "rejected"
	CallEnded    CallStatus = "ended"
)

// CallRecord is one fire-and-forget audit entry.
type CallRecord struct {
	SessionID SessionID
	Attempt   string
	Party     PartyID
	Status    CallStatus
	Mode      Mode
	At        time.Time
}
