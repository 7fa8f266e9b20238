package domain

import "strconv"

// Description is a session description (offer or answer).
type Description struct {
	Type string `json:"type" validate:"required,oneof=offer answer"`
	SDP  string `json:"sdp" validate:"required"`
}

// Candidate is one ICE candidate as exchanged over signaling.
type Candidate struct {
	Candidate        string  `json:"candidate" validate:"required"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// Key identifies a candidate by content; duplicates share a key.
func (c Candidate) Key() string {
	key := c.Candidate + "|"
	if c.SDPMid != nil {
		key += *c.SDPMid
	}
	key += "|"
	if c.SDPMLineIndex != nil {
		key += strconv.Itoa(int(*c.SDPMLineIndex))
	}
	return key
}
